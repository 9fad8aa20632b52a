package feedback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
	"github.com/irun2themoney/autoppia-miner/internal/smartwait"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

// ErrInvalidOutcome is returned for outcomes without a prompt.
var ErrInvalidOutcome = errors.New("feedback outcome requires a prompt")

// Outcome is one validated result reported by the evaluator.
type Outcome struct {
	TaskID    string           `json:"task_id"`
	Prompt    string           `json:"prompt"`
	URL       string           `json:"url"`
	Actions   []schemas.Action `json:"actions"`
	Success   bool             `json:"success"`
	Score     *float64         `json:"score,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	// Timings are observed settle seconds per action type.
	Timings map[schemas.ActionType]float64 `json:"timings,omitempty"`
}

// FromRequest converts the HTTP feedback body.
func FromRequest(req schemas.FeedbackRequest) Outcome {
	return Outcome{
		TaskID:  req.TaskID,
		Prompt:  req.Prompt,
		URL:     req.URL,
		Actions: req.Actions,
		Success: req.Success,
		Score:   req.Score,
		Error:   req.Error,
		Timings: req.Timings,
	}
}

// Sink stores outcomes durably. Failures are logged and never surfaced.
type Sink interface {
	RecordOutcome(ctx context.Context, key string, o Outcome) error
}

// Counts are per-pattern outcome totals.
type Counts struct {
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Updated   time.Time `json:"updated"`
}

// State is the persisted form of the loop.
type State struct {
	Patterns  map[string]Counts                  `json:"patterns"`
	Selectors map[string]selectors.SelectorStats `json:"selectors"`
	Total     int                                `json:"total"`
	Succeeded int                                `json:"succeeded"`
}

// Deps are the components an outcome fans out to. All are optional.
type Deps struct {
	Parser   *taskparse.Parser
	Patterns *memory.PatternLearner
	Vector   *memory.VectorMemory
	Ranker   *selectors.Ranker
	Governor *governor.Governor
	Waits    *smartwait.Strategy
	Sink     Sink
}

// Loop folds validated outcomes back into the reuse tiers and the selector
// ranker so future requests score differently.
type Loop struct {
	logger *zap.Logger
	Deps
	now func() time.Time

	mu        sync.RWMutex
	patterns  map[string]*Counts
	total     int
	succeeded int
}

func NewLoop(logger *zap.Logger, deps Deps) *Loop {
	return &Loop{
		logger:   logger.Named("feedback"),
		Deps:     deps,
		now:      time.Now,
		patterns: make(map[string]*Counts),
	}
}

// Record applies one outcome.
func (l *Loop) Record(ctx context.Context, o Outcome) error {
	if strings.TrimSpace(o.Prompt) == "" {
		return ErrInvalidOutcome
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = l.now()
	}
	key := taskparse.PatternKey(o.Prompt, o.URL)

	l.mu.Lock()
	c, ok := l.patterns[key]
	if !ok {
		c = &Counts{}
		l.patterns[key] = c
	}
	if o.Success {
		c.Successes++
		l.succeeded++
	} else {
		c.Failures++
		c.LastError = o.Error
	}
	c.Updated = o.Timestamp
	l.total++
	l.mu.Unlock()

	if l.Ranker != nil {
		for _, a := range o.Actions {
			if a.IsInteraction() && a.Selector != nil {
				l.Ranker.Record(*a.Selector, o.Success)
			}
		}
	}
	if l.Governor != nil {
		l.Governor.RecordOutcome(key, o.Success)
	}
	if l.Waits != nil {
		for t, secs := range o.Timings {
			if schemas.KnownActionTypes[t] {
				l.Waits.Learn(t, secs)
			}
		}
	}
	if l.Vector != nil {
		l.Vector.UpdateOutcome(o.Prompt, o.URL, o.Success)
	}
	// Successes were learned when the sequence was served.
	if l.Patterns != nil && !o.Success {
		var parsed schemas.ParsedTask
		if l.Parser != nil {
			parsed = l.Parser.Parse(o.Prompt, o.URL)
		}
		l.Patterns.Learn(o.Prompt, o.URL, o.Actions, parsed, false)
	}
	if l.Sink != nil {
		if err := l.Sink.RecordOutcome(ctx, key, o); err != nil {
			l.logger.Warn("Failed to store outcome", zap.String("task_id", o.TaskID), zap.Error(err))
		}
	}

	l.logger.Debug("Recorded outcome",
		zap.String("task_id", o.TaskID),
		zap.String("pattern", key),
		zap.Bool("success", o.Success))
	return nil
}

// SuccessRate is the validated success rate. ok is false before any outcome.
func (l *Loop) SuccessRate() (float64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.total == 0 {
		return 0, false
	}
	return float64(l.succeeded) / float64(l.total), true
}

// Counts returns the totals for a prompt's pattern.
func (l *Loop) Counts(prompt, rawURL string) (Counts, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.patterns[taskparse.PatternKey(prompt, rawURL)]
	if !ok {
		return Counts{}, false
	}
	return *c, true
}

// Snapshot copies the loop state for persistence.
func (l *Loop) Snapshot() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := State{
		Patterns:  make(map[string]Counts, len(l.patterns)),
		Total:     l.total,
		Succeeded: l.succeeded,
	}
	for k, c := range l.patterns {
		st.Patterns[k] = *c
	}
	if l.Ranker != nil {
		st.Selectors = l.Ranker.Snapshot()
	}
	return st
}

// Restore replaces the loop state with a persisted one.
func (l *Loop) Restore(st State) {
	l.mu.Lock()
	l.patterns = make(map[string]*Counts, len(st.Patterns))
	for k, c := range st.Patterns {
		l.patterns[k] = &c
	}
	l.total, l.succeeded = st.Total, st.Succeeded
	l.mu.Unlock()
	if l.Ranker != nil && len(st.Selectors) > 0 {
		l.Ranker.Restore(st.Selectors)
	}
}
