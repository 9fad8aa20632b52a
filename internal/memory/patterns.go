package memory

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

const (
	minSuccesses       = 2
	minStrongSuccesses = 3
	minSharedTokens    = 2
)

// PatternStats tracks how a (normalized prompt, domain) pattern has fared.
type PatternStats struct {
	Key       string             `json:"key"`
	Successes int                `json:"successes"`
	Failures  int                `json:"failures"`
	Actions   []schemas.Action   `json:"actions"`
	Task      schemas.ParsedTask `json:"task"`
	Updated   time.Time          `json:"updated"`
}

// PatternMatch is a pattern lookup result.
type PatternMatch struct {
	Stats      PatternStats
	Similarity float64
	Exact      bool
	Decision   governor.Decision
}

// PatternLearner remembers sequences per pattern key and serves them once
// they have proven themselves.
type PatternLearner struct {
	logger *zap.Logger
	gate   Gate
	now    func() time.Time

	mu       sync.RWMutex
	patterns map[string]*PatternStats
}

func NewPatternLearner(logger *zap.Logger, gate Gate) *PatternLearner {
	return &PatternLearner{
		logger:   logger.Named("pattern_learner"),
		gate:     gate,
		now:      time.Now,
		patterns: make(map[string]*PatternStats),
	}
}

// Learn records an outcome. Successful sequences replace the stored one.
func (p *PatternLearner) Learn(prompt, rawURL string, actions []schemas.Action, task schemas.ParsedTask, success bool) {
	key := taskparse.PatternKey(prompt, rawURL)
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.patterns[key]
	if !ok {
		st = &PatternStats{Key: key}
		p.patterns[key] = st
	}
	if success {
		st.Successes++
		if len(actions) > 0 {
			st.Actions = schemas.CloneActions(actions)
			st.Task = task
		}
	} else {
		st.Failures++
	}
	st.Updated = p.now()
}

// Stats returns the counters for a prompt's pattern.
func (p *PatternLearner) Stats(prompt, rawURL string) (PatternStats, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.patterns[taskparse.PatternKey(prompt, rawURL)]
	if !ok {
		return PatternStats{}, false
	}
	return *st, true
}

func qualifies(st *PatternStats, exact bool) bool {
	if len(st.Actions) == 0 || st.Successes < st.Failures {
		return false
	}
	if !exact || st.Successes == st.Failures {
		return st.Successes >= minStrongSuccesses
	}
	return st.Successes >= minSuccesses
}

// Lookup finds a proven pattern: an exact key needs two successes beating
// the failures; a tie or a near match (same domain, two shared tokens)
// needs three.
func (p *PatternLearner) Lookup(prompt, rawURL string) (PatternMatch, bool) {
	key := taskparse.PatternKey(prompt, rawURL)

	p.mu.RLock()
	var m PatternMatch
	found := false
	if st, ok := p.patterns[key]; ok && qualifies(st, true) {
		m = PatternMatch{Stats: *st, Similarity: 1.0, Exact: true}
		found = true
	} else {
		domain := taskparse.Domain(rawURL)
		query := taskparse.KeywordSet(taskparse.Normalize(prompt))
		bestShared := 0
		for k, st := range p.patterns {
			norm, dom, _ := strings.Cut(k, "|")
			if k == key || dom != domain || !qualifies(st, false) {
				continue
			}
			cand := taskparse.KeywordSet(norm)
			shared := 0
			for t := range query {
				if cand[t] {
					shared++
				}
			}
			if shared >= minSharedTokens && shared > bestShared {
				bestShared = shared
				m = PatternMatch{Stats: *st, Similarity: taskparse.Jaccard(query, cand)}
				found = true
			}
		}
	}
	p.mu.RUnlock()

	if !found {
		return PatternMatch{}, false
	}
	m.Stats.Actions = schemas.CloneActions(m.Stats.Actions)
	if p.gate != nil {
		m.Decision = p.gate.Check(m.Stats.Key, m.Similarity)
		if !m.Decision.Allow {
			p.logger.Debug("Pattern reuse vetoed", zap.String("reason", string(m.Decision.Reason)))
			return PatternMatch{Decision: m.Decision}, false
		}
	} else {
		m.Decision = governor.Decision{Allow: true, Adjusted: m.Similarity, Reason: governor.ReasonDisabled}
	}
	return m, true
}

// Len returns the number of tracked patterns.
func (p *PatternLearner) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.patterns)
}

// Snapshot copies every pattern, e.g. for persistence.
func (p *PatternLearner) Snapshot() []PatternStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PatternStats, 0, len(p.patterns))
	for _, st := range p.patterns {
		c := *st
		c.Actions = schemas.CloneActions(st.Actions)
		out = append(out, c)
	}
	return out
}

// Restore merges persisted patterns, keeping in-memory counters on conflict.
func (p *PatternLearner) Restore(list []PatternStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range list {
		st := list[i]
		if st.Key == "" {
			continue
		}
		if _, ok := p.patterns[st.Key]; ok {
			continue
		}
		p.patterns[st.Key] = &st
	}
}
