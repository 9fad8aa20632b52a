package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

// EnsembleAgent runs several agents concurrently and keeps the best scored
// sequence.
type EnsembleAgent struct {
	logger  *zap.Logger
	members []Agent
	limit   int
}

// NewEnsembleAgent combines members. limit caps concurrent members; zero
// runs them all at once.
func NewEnsembleAgent(logger *zap.Logger, limit int, members ...Agent) *EnsembleAgent {
	return &EnsembleAgent{
		logger:  logger.Named("ensemble_agent"),
		members: members,
		limit:   limit,
	}
}

func (e *EnsembleAgent) Tier() schemas.Tier { return schemas.TierEnsemble }

type candidate struct {
	tier   schemas.Tier
	result *Result
	err    error
	score  float64
}

// Generate runs every member and returns the highest scoring result. Ties go
// to the member listed first. A member's failure never fails the group.
func (e *EnsembleAgent) Generate(ctx context.Context, p *Prepared) (*Result, error) {
	cands := make([]candidate, len(e.members))
	g, gctx := errgroup.WithContext(ctx)
	if e.limit > 0 {
		g.SetLimit(e.limit)
	}
	for i, m := range e.members {
		g.Go(func() error {
			c := candidate{tier: m.Tier()}
			defer func() {
				if r := recover(); r != nil {
					c.err = fmt.Errorf("ensemble member %s panicked: %v", c.tier, r)
				}
				cands[i] = c
			}()
			c.result, c.err = m.Generate(gctx, p)
			if c.err == nil && c.result != nil {
				c.score = Score(c.result.Actions, p)
			}
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	var errs []error
	for i, c := range cands {
		if c.err != nil || c.result == nil || len(c.result.Actions) == 0 {
			if c.err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.tier, c.err))
			}
			continue
		}
		if best < 0 || c.score > cands[best].score {
			best = i
		}
	}
	if best < 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNoCandidates, errors.Join(errs...))
	}

	win := cands[best]
	e.logger.Debug("Ensemble picked candidate",
		zap.String("task_id", p.Task.ID),
		zap.String("member", string(win.tier)),
		zap.Float64("score", win.score),
		zap.Int("candidates", len(cands)))
	return &Result{Actions: win.result.Actions, Tier: schemas.TierEnsemble, Score: win.score}, nil
}

// Score rates how well a sequence fits the task: framing, coverage of the
// values the task asks to type, reaching the named target, and length.
func Score(seq []schemas.Action, p *Prepared) float64 {
	if len(seq) == 0 {
		return 0
	}
	var s float64
	if p.URL() != "" && seq[0].Type == schemas.ActionNavigate {
		s++
	}
	if seq[len(seq)-1].Type == schemas.ActionScreenshot {
		s++
	}

	typed := map[string]bool{}
	fallbacks := 0
	var clicked []string
	for _, a := range seq {
		switch a.Type {
		case schemas.ActionTypeText:
			typed[a.Text] = true
		case schemas.ActionClick:
			if a.Selector != nil {
				if a.Selector.Equal(selectors.Fallback()) {
					fallbacks++
				}
				clicked = append(clicked, strings.ToLower(a.Selector.Value))
			}
		}
	}

	want := wantedValues(p.Parsed)
	if len(want) > 0 {
		hit := 0
		for _, v := range want {
			if typed[v] {
				hit++
			}
		}
		s += 2 * float64(hit) / float64(len(want))
	}
	if t := strings.ToLower(p.Parsed.TargetElement); t != "" {
		for _, c := range clicked {
			if c != "" && (strings.Contains(t, c) || strings.Contains(c, t)) {
				s++
				break
			}
		}
	}
	if _, ok := criticalIntent[p.Parsed.TaskType]; ok && len(EnsureCritical(seq, p.Parsed.TaskType)) == len(seq) {
		s++
	}
	s -= 0.5 * float64(fallbacks)
	s -= 0.05 * math.Max(0, float64(len(seq)-15))
	return math.Round(s*100) / 100
}

func wantedValues(t schemas.ParsedTask) []string {
	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	add(t.Credentials.Username)
	add(t.Credentials.Password)
	add(t.Credentials.Email)
	add(t.TextToType)
	for _, v := range t.FormFields {
		add(v)
	}
	return out
}
