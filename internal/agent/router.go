package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/actions"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

// Recorder receives one observation per solved request.
type Recorder interface {
	Record(tier schemas.Tier, elapsed time.Duration, success bool)
}

// Response is the router's answer for one task.
type Response struct {
	Actions    []schemas.Action
	Tier       schemas.Tier
	TaskType   schemas.TaskType
	Parsed     schemas.ParsedTask
	PatternKey string
	Success    bool
	Elapsed    time.Duration
}

// RouterDeps wires the router. Every field except Preparer, Pipeline and
// Template may be nil.
type RouterDeps struct {
	Preparer *Preparer
	Pipeline *actions.Pipeline
	Cache    *memory.SemanticCache
	Vector   *memory.VectorMemory
	Patterns *memory.PatternLearner
	Governor *governor.Governor
	Template Agent
	LLM      Agent
	Ensemble Agent
	Recorder Recorder
}

// Router serves a task from the cheapest tier that can answer it: cache,
// vector memory and learned patterns first, then synthesis by complexity.
type Router struct {
	logger *zap.Logger
	cfg    config.AgentConfig
	RouterDeps
}

func NewRouter(logger *zap.Logger, cfg config.AgentConfig, deps RouterDeps) *Router {
	return &Router{
		logger:     logger.Named("router"),
		cfg:        cfg,
		RouterDeps: deps,
	}
}

// Solve never fails: any panic or exhausted chain yields the minimal
// sequence with Success false.
func (r *Router) Solve(ctx context.Context, task Task) (resp *Response) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while solving task",
				zap.String("task_id", task.ID),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			resp = &Response{
				Actions:    []schemas.Action{schemas.Screenshot()},
				Tier:       schemas.TierFallback,
				PatternKey: taskparse.PatternKey(task.Prompt, task.URL),
			}
		}
		resp.Elapsed = time.Since(start)
		if r.Recorder != nil {
			r.Recorder.Record(resp.Tier, resp.Elapsed, resp.Success)
		}
		r.logger.Info("Task solved",
			zap.String("task_id", task.ID),
			zap.String("tier", string(resp.Tier)),
			zap.String("task_type", string(resp.TaskType)),
			zap.Int("actions", len(resp.Actions)),
			zap.Bool("success", resp.Success),
			zap.Duration("elapsed", resp.Elapsed))
	}()

	p := r.Preparer.Prepare(task)
	if r.Governor != nil {
		r.Governor.Observe(task.Prompt, p.URL())
	}
	resp = &Response{
		TaskType:   p.Parsed.TaskType,
		Parsed:     p.Parsed,
		PatternKey: taskparse.PatternKey(task.Prompt, p.URL()),
	}

	seq, tier, vetoed := r.reuse(p)
	if seq != nil {
		resp.Actions, resp.Tier, resp.Success = seq, tier, true
		return resp
	}

	r.Preparer.Ground(ctx, p)
	for _, a := range r.chain(p) {
		res, err := a.Generate(ctx, p)
		if err == nil && res != nil && len(res.Actions) > 0 {
			resp.Actions, resp.Tier, resp.Success = res.Actions, res.Tier, true
			r.remember(p, res)
			if vetoed && r.Governor != nil {
				resp.Actions = r.Governor.Perturb(res.Actions)
			}
			return resp
		}
		if err == nil {
			err = ErrEmptyResult
		}
		r.logger.Warn("Tier failed, falling through",
			zap.String("task_id", task.ID),
			zap.String("tier", string(a.Tier())),
			zap.Error(err))
		if ctx.Err() != nil {
			break
		}
	}

	resp.Actions, resp.Tier = schemas.MinimalSequence(), schemas.TierFallback
	return resp
}

// reuseHit is a candidate from one of the reuse tiers.
type reuseHit struct {
	seq  []schemas.Action
	from schemas.ParsedTask
	dec  governor.Decision
	tier schemas.Tier
}

// vetoed reports whether a candidate existed but the governor refused it.
func (h reuseHit) vetoed() bool {
	return h.dec.Reason != "" && !h.dec.Allow
}

// reuse consults cache, vector memory and learned patterns in that order. A
// hit is rebound to the current task's values and optionally perturbed.
// vetoed is true when some tier had a candidate the governor refused, so the
// fresh sequence that replaces it gets perturbed.
func (r *Router) reuse(p *Prepared) (seq []schemas.Action, tier schemas.Tier, vetoed bool) {
	var hit reuseHit
	found := false
	for _, lookup := range []func(*Prepared) (reuseHit, bool){r.hitCache, r.hitMemory, r.hitPattern} {
		h, ok := lookup(p)
		if ok {
			hit, found = h, true
			break
		}
		vetoed = vetoed || h.vetoed()
	}
	if !found {
		return nil, "", vetoed
	}

	seq = actions.Rebind(hit.seq, hit.from, p.Parsed)
	if r.Governor != nil && r.Governor.ShouldPerturb(hit.dec) {
		seq = r.Governor.Perturb(seq)
	}
	opts := p.Options()
	opts.Live = nil
	seq = r.Pipeline.Optimize(seq, opts)
	r.logger.Debug("Served from reuse tier",
		zap.String("task_id", p.Task.ID),
		zap.String("tier", string(hit.tier)),
		zap.Float64("confidence", hit.dec.Adjusted))
	return seq, hit.tier, false
}

func (r *Router) hitCache(p *Prepared) (reuseHit, bool) {
	if r.Cache == nil {
		return reuseHit{}, false
	}
	hit, ok := r.Cache.Get(p.Task.Prompt, p.URL())
	if !ok || len(hit.Entry.Actions) == 0 {
		return reuseHit{dec: hit.Decision}, false
	}
	return reuseHit{seq: hit.Entry.Actions, from: hit.Entry.Task, dec: hit.Decision, tier: schemas.TierCache}, true
}

func (r *Router) hitMemory(p *Prepared) (reuseHit, bool) {
	if r.Vector == nil {
		return reuseHit{}, false
	}
	rec, ok := r.Vector.Best(p.Task.Prompt, p.URL(), p.Parsed.TaskType)
	if !ok || len(rec.Record.Actions) == 0 {
		return reuseHit{dec: rec.Decision}, false
	}
	return reuseHit{seq: rec.Record.Actions, from: rec.Record.Task, dec: rec.Decision, tier: schemas.TierMemory}, true
}

func (r *Router) hitPattern(p *Prepared) (reuseHit, bool) {
	if r.Patterns == nil {
		return reuseHit{}, false
	}
	m, ok := r.Patterns.Lookup(p.Task.Prompt, p.URL())
	if !ok || len(m.Stats.Actions) == 0 {
		return reuseHit{dec: m.Decision}, false
	}
	return reuseHit{seq: m.Stats.Actions, from: m.Stats.Task, dec: m.Decision, tier: schemas.TierPattern}, true
}

// chain picks the synthesis tiers for p, most capable first. Later entries
// are fall-throughs.
func (r *Router) chain(p *Prepared) []Agent {
	var tiers []Agent
	switch r.cfg.Type {
	case config.AgentTemplate:
		tiers = []Agent{r.Template}
	case config.AgentChutes:
		tiers = []Agent{r.LLM, r.Template}
	default:
		switch p.Complexity.Level {
		case taskparse.ComplexityLow:
			tiers = []Agent{r.Template}
		case taskparse.ComplexityHigh:
			tiers = []Agent{r.Ensemble, r.LLM, r.Template}
		default:
			tiers = []Agent{r.LLM, r.Template}
		}
	}
	out := tiers[:0]
	for _, a := range tiers {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// remember writes a fresh, non-trivial sequence back to the reuse tiers.
func (r *Router) remember(p *Prepared, res *Result) {
	if !hasInteraction(res.Actions) {
		return
	}
	prompt, url := p.Task.Prompt, p.URL()
	if r.Cache != nil {
		r.Cache.Put(prompt, url, res.Actions, p.Parsed)
	}
	if r.Vector != nil {
		r.Vector.Add(memory.Record{
			Prompt:      prompt,
			URL:         url,
			Actions:     res.Actions,
			SuccessRate: 1,
			TaskType:    p.Parsed.TaskType,
			Task:        p.Parsed,
			Timestamp:   time.Now(),
		})
	}
	if r.Patterns != nil {
		r.Patterns.Learn(prompt, url, res.Actions, p.Parsed, true)
	}
}

