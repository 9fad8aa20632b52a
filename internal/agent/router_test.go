package agent

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
)

func newTestRouter(t *testing.T, env *testEnv, agentType string, deps RouterDeps) *Router {
	t.Helper()
	env.cfg.SetAgentType(agentType)
	deps.Preparer = env.preparer
	deps.Pipeline = env.pipeline
	if deps.Template == nil {
		deps.Template = env.template
	}
	return NewRouter(zaptest.NewLogger(t), env.cfg.Agent(), deps)
}

func TestRouterServesRepeatFromCache(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &recorder{}
	cache := memory.NewSemanticCache(zaptest.NewLogger(t), env.cfg.Cache(), nil)
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{Cache: cache, Recorder: rec})

	task := Task{ID: "a", Prompt: "Login with username:alice and password:secret123", URL: "https://site.example/login"}
	first := r.Solve(context.Background(), task)
	require.True(t, first.Success)
	assert.Equal(t, schemas.TierTemplate, first.Tier)
	assert.Equal(t, schemas.TaskLogin, first.TaskType)

	second := r.Solve(context.Background(), task)
	require.True(t, second.Success)
	assert.Equal(t, schemas.TierCache, second.Tier)
	assert.Equal(t, schemas.ActionNavigate, second.Actions[0].Type)
	assert.GreaterOrEqual(t, indexOf(second.Actions, typed("alice")), 0)
	assert.Equal(t, first.PatternKey, second.PatternKey)

	assert.Equal(t, []schemas.Tier{schemas.TierTemplate, schemas.TierCache}, rec.tiers)
	assert.Equal(t, []bool{true, true}, rec.ok)
}

func TestRouterRebindsCachedValues(t *testing.T) {
	env := newTestEnv(t, nil)
	cache := memory.NewSemanticCache(zaptest.NewLogger(t), env.cfg.Cache(), nil)
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{Cache: cache})

	r.Solve(context.Background(), Task{Prompt: "Login with username:alice and password:secret123", URL: "https://site.example/login"})
	resp := r.Solve(context.Background(), Task{Prompt: "Login with username:bob and password:hunter22", URL: "https://site.example/login"})

	require.True(t, resp.Success)
	if resp.Tier == schemas.TierCache {
		assert.Equal(t, -1, indexOf(resp.Actions, typed("alice")))
	}
	assert.GreaterOrEqual(t, indexOf(resp.Actions, typed("bob")), 0)
	assert.GreaterOrEqual(t, indexOf(resp.Actions, typed("hunter22")), 0)
}

func TestRouterFallsThroughToTemplate(t *testing.T) {
	env := newTestEnv(t, nil)
	llm := &stubAgent{tier: schemas.TierLLM, err: errors.New("provider down")}
	r := newTestRouter(t, env, config.AgentHybrid, RouterDeps{LLM: llm})

	// Two verbs and no multi-step marker: medium complexity.
	resp := r.Solve(context.Background(), Task{Prompt: "Click the search button to find 'dune'", URL: "http://localhost:8001"})
	require.True(t, resp.Success)
	assert.Equal(t, 1, llm.Calls())
	assert.Equal(t, schemas.TierTemplate, resp.Tier)
}

func TestRouterAllTiersFail(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &recorder{}
	broken := &stubAgent{tier: schemas.TierTemplate, err: errors.New("nothing")}
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{Template: broken, Recorder: rec})

	resp := r.Solve(context.Background(), Task{Prompt: "Click the 'Go' button", URL: "http://localhost:8001"})
	assert.False(t, resp.Success)
	assert.Equal(t, schemas.TierFallback, resp.Tier)
	assert.Equal(t, schemas.MinimalSequence(), resp.Actions)
	assert.Equal(t, []bool{false}, rec.ok)
}

func TestRouterRecoversFromPanic(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := &recorder{}
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{
		Template: &stubAgent{tier: schemas.TierTemplate, panics: true},
		Recorder: rec,
	})

	resp := r.Solve(context.Background(), Task{Prompt: "Click the 'Go' button", URL: "http://localhost:8001"})
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
	assert.Equal(t, []schemas.Action{schemas.Screenshot()}, resp.Actions)
	assert.Equal(t, []schemas.Tier{schemas.TierFallback}, rec.tiers)
}

func TestRouterDoesNotRememberFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	cache := memory.NewSemanticCache(zaptest.NewLogger(t), env.cfg.Cache(), nil)
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{
		Template: &stubAgent{tier: schemas.TierTemplate, err: errors.New("nothing")},
		Cache:    cache,
	})

	task := Task{Prompt: "Click the 'Go' button", URL: "http://localhost:8001"}
	r.Solve(context.Background(), task)
	resp := r.Solve(context.Background(), task)
	assert.Equal(t, schemas.TierFallback, resp.Tier)
	assert.Zero(t, cache.Stats().Size)
}

func TestRouterChain(t *testing.T) {
	env := newTestEnv(t, nil)
	llm := &stubAgent{tier: schemas.TierLLM}
	ens := &stubAgent{tier: schemas.TierEnsemble}

	tiers := func(r *Router, prompt string) []schemas.Tier {
		var out []schemas.Tier
		for _, a := range r.chain(env.prepare(prompt, "http://localhost:8001")) {
			out = append(out, a.Tier())
		}
		return out
	}

	low := "Scroll down"
	medium := "Click the search button to find 'dune'"
	high := "Login as user bob and then post a comment 'Great!'"

	hybrid := newTestRouter(t, env, config.AgentHybrid, RouterDeps{LLM: llm, Ensemble: ens})
	assert.Equal(t, []schemas.Tier{schemas.TierTemplate}, tiers(hybrid, low))
	assert.Equal(t, []schemas.Tier{schemas.TierLLM, schemas.TierTemplate}, tiers(hybrid, medium))
	assert.Equal(t, []schemas.Tier{schemas.TierEnsemble, schemas.TierLLM, schemas.TierTemplate}, tiers(hybrid, high))

	chutes := newTestRouter(t, env, config.AgentChutes, RouterDeps{LLM: llm})
	assert.Equal(t, []schemas.Tier{schemas.TierLLM, schemas.TierTemplate}, tiers(chutes, low))

	template := newTestRouter(t, env, config.AgentTemplate, RouterDeps{LLM: llm, Ensemble: ens})
	assert.Equal(t, []schemas.Tier{schemas.TierTemplate}, tiers(template, high))

	// Missing tiers are skipped.
	bare := newTestRouter(t, env, config.AgentHybrid, RouterDeps{})
	assert.Equal(t, []schemas.Tier{schemas.TierTemplate}, tiers(bare, high))
}

// wireOnly compares actions as they are serialized.
var wireOnly = cmpopts.IgnoreFields(schemas.Action{}, "Alternatives")

func TestRouterRepeatedTaskKeepsVarying(t *testing.T) {
	env := newTestEnv(t, nil)
	logger := zaptest.NewLogger(t)
	gov := governor.New(logger, env.cfg.Governor(), rand.New(rand.NewPCG(7, 11)))
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{
		Cache:    memory.NewSemanticCache(logger, env.cfg.Cache(), gov),
		Vector:   memory.NewVectorMemory(logger, env.cfg.Memory(), gov),
		Patterns: memory.NewPatternLearner(logger, gov),
		Governor: gov,
	})

	task := Task{ID: "same", Prompt: "Login with username:alice and password:secret123", URL: "http://localhost:8001/login"}
	first := r.Solve(context.Background(), task)
	require.True(t, first.Success)

	differ := func(n int) int {
		count := 0
		for i := 0; i < n; i++ {
			resp := r.Solve(context.Background(), task)
			require.True(t, resp.Success)
			require.NotEmpty(t, resp.Actions)
			if !cmp.Equal(first.Actions, resp.Actions, wireOnly) {
				count++
			}
		}
		return count
	}

	assert.GreaterOrEqual(t, differ(199), 20, "at least 10% of repeats differ")
	assert.GreaterOrEqual(t, differ(100), 10, "repeats keep varying once the key is saturated")
}

func TestRouterPerturbsFreshSequenceAfterVeto(t *testing.T) {
	env := newTestEnv(t, nil)
	logger := zaptest.NewLogger(t)
	cfg := env.cfg.Governor()
	cfg.ForceFreshProbability = 1
	gov := governor.New(logger, cfg, rand.New(rand.NewPCG(1, 2)))
	cache := memory.NewSemanticCache(logger, env.cfg.Cache(), gov)
	r := newTestRouter(t, env, config.AgentTemplate, RouterDeps{Cache: cache, Governor: gov})

	task := Task{Prompt: "Login with username:alice and password:secret123", URL: "http://localhost:8001/login"}
	first := r.Solve(context.Background(), task)
	second := r.Solve(context.Background(), task)

	assert.Equal(t, schemas.TierTemplate, second.Tier, "forced fresh generation")
	assert.Equal(t, governor.ReasonForcedFresh, gov.Last().Reason)
	assert.False(t, cmp.Equal(first.Actions, second.Actions, wireOnly), "fresh output after a veto is perturbed")
	assert.Equal(t, len(first.Actions), len(second.Actions))
}
