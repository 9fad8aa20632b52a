package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/actions"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/llmutil"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultPromptCacheTTL = 5 * time.Minute
	promptCacheSize       = 256
)

type promptKey struct{ prompt, url string }

type promptEntry struct {
	actions []schemas.Action
	expires time.Time
}

// LLMAgent synthesizes sequences with a remote model.
type LLMAgent struct {
	logger   *zap.Logger
	cfg      config.LLMConfig
	client   schemas.LLMClient
	pipeline *actions.Pipeline
	ranker   *selectors.Ranker

	mu    sync.Mutex
	cache map[promptKey]promptEntry
	now   func() time.Time
}

// NewLLMAgent creates the agent. client may be nil, in which case every
// call fails with ErrNoClient.
func NewLLMAgent(logger *zap.Logger, cfg config.LLMConfig, client schemas.LLMClient, pipeline *actions.Pipeline, ranker *selectors.Ranker) *LLMAgent {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultPromptCacheTTL
	}
	return &LLMAgent{
		logger:   logger.Named("llm_agent"),
		cfg:      cfg,
		client:   client,
		pipeline: pipeline,
		ranker:   ranker,
		cache:    make(map[promptKey]promptEntry),
		now:      time.Now,
	}
}

func (a *LLMAgent) Tier() schemas.Tier { return schemas.TierLLM }

// Generate asks the model for a sequence. Transport and parse failures are
// returned so the caller can fall through to the template tier.
func (a *LLMAgent) Generate(ctx context.Context, p *Prepared) (*Result, error) {
	if a.client == nil {
		return nil, ErrNoClient
	}
	key := promptKey{p.Task.Prompt, p.URL()}
	if cached, ok := a.cached(key); ok {
		a.logger.Debug("Prompt cache hit", zap.String("task_id", p.Task.ID))
		return &Result{Actions: cached, Tier: schemas.TierLLM}, nil
	}

	callCtx := ctx
	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt(p),
		Options: schemas.GenerationOptions{
			Temperature: a.cfg.Temperature,
			TopP:        a.cfg.TopP,
			MaxTokens:   a.cfg.MaxTokens,
			ForceJSON:   true,
		},
	}
	start := time.Now()
	resp, err := a.client.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("llm generation failed: %w", err)
	}

	raw, err := llmutil.ParseJSONArray[map[string]any](resp)
	if err != nil {
		a.logger.Warn("Failed to parse model output",
			zap.String("task_id", p.Task.ID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	seq := a.enhance(actions.Convert(raw))
	if len(seq) == 0 {
		return nil, ErrEmptyResult
	}
	seq = EnsureCritical(seq, p.Parsed.TaskType)
	out := a.pipeline.Process(seq, p.Options())
	if !hasInteraction(out) && len(p.Task.Prompt) > 0 && p.Parsed.TaskType != schemas.TaskGeneric {
		return nil, fmt.Errorf("%w: no interaction in model output", ErrEmptyResult)
	}

	a.store(key, out)
	a.logger.Info("LLM generated actions",
		zap.String("task_id", p.Task.ID),
		zap.Int("actions", len(out)),
		zap.Duration("elapsed", time.Since(start)))
	return &Result{Actions: out, Tier: schemas.TierLLM}, nil
}

// enhance swaps model selectors for ranked cascades.
func (a *LLMAgent) enhance(in []schemas.Action) []schemas.Action {
	out := make([]schemas.Action, len(in))
	for i, act := range in {
		if act.IsInteraction() {
			act = selectors.EnhanceAction(act, a.ranker)
		}
		out[i] = act
	}
	return out
}

func (a *LLMAgent) cached(key promptKey) ([]schemas.Action, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.cache[key]
	if !ok {
		return nil, false
	}
	if a.now().After(e.expires) {
		delete(a.cache, key)
		return nil, false
	}
	return schemas.CloneActions(e.actions), true
}

func (a *LLMAgent) store(key promptKey, seq []schemas.Action) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	if len(a.cache) >= promptCacheSize {
		for k, e := range a.cache {
			if now.After(e.expires) {
				delete(a.cache, k)
			}
		}
		// Still full: drop the entry closest to expiry.
		if len(a.cache) >= promptCacheSize {
			var oldest promptKey
			var at time.Time
			for k, e := range a.cache {
				if at.IsZero() || e.expires.Before(at) {
					oldest, at = k, e.expires
				}
			}
			delete(a.cache, oldest)
		}
	}
	a.cache[key] = promptEntry{actions: schemas.CloneActions(seq), expires: now.Add(a.cfg.CacheTTL)}
}

func hasInteraction(seq []schemas.Action) bool {
	for _, a := range seq {
		if a.IsInteraction() || a.Type == schemas.ActionScroll || a.Type == schemas.ActionSendKeys {
			return true
		}
	}
	return false
}
