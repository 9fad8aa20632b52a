package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/actions"
	"github.com/irun2themoney/autoppia-miner/internal/agent"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/detect"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/metrics"
	"github.com/irun2themoney/autoppia-miner/internal/persist"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
	"github.com/irun2themoney/autoppia-miner/internal/smartwait"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

// ComponentFactory builds the full set of miner components. Commands depend
// on the interface so tests can substitute a lighter build.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

type concreteFactory struct{}

// NewComponentFactory creates the production factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{}
}

// Create wires every component from cfg. Anything created before a failure
// is shut down before the error is returned.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	c := &Components{logger: logger.Named("components")}

	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			c.Shutdown(shutdownCtx)
		}
	}()

	agentCfg := cfg.Agent()

	// 1. Parsing, detection and the action pipeline.
	parser := taskparse.NewParser(taskparse.NewURLInferrer(cfg.Sites()))
	detector := detect.NewWebsiteDetector(logger, cfg.Sites())
	waits := smartwait.New()
	pipeline := actions.NewPipeline(logger, waits)
	c.Ranker = selectors.NewRanker()
	c.Metrics = metrics.New(0, 0)

	// 2. Governor and the reuse tiers it gates.
	var gate memory.Gate
	if cfg.Governor().Enabled {
		c.Governor = governor.New(logger, cfg.Governor(), rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())))
		gate = c.Governor
	}
	if cfg.Cache().Enabled {
		c.Cache = memory.NewSemanticCache(logger, cfg.Cache(), gate)
	}
	if cfg.Memory().Enabled {
		c.Vector = memory.NewVectorMemory(logger, cfg.Memory(), gate)
		c.Patterns = memory.NewPatternLearner(logger, gate)
	}

	// 3. Optional outcome database.
	dbStore, dbClose, err := InitializeStore(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	c.Store, c.dbClose = dbStore, dbClose

	// 4. Feedback loop and tuner.
	var outcomes feedback.SuccessSource
	if cfg.Feedback().Enabled {
		deps := feedback.Deps{
			Parser:   parser,
			Patterns: c.Patterns,
			Vector:   c.Vector,
			Ranker:   c.Ranker,
			Governor: c.Governor,
			Waits:    waits,
		}
		if c.Store != nil {
			deps.Sink = c.Store
		}
		c.Feedback = feedback.NewLoop(logger, deps)
		outcomes = c.Feedback
	}
	if cfg.Tuner().Enabled && c.Cache != nil {
		c.Tuner = feedback.NewTuner(logger, cfg.Tuner(), c.Cache, c.Metrics, outcomes)
	}

	// 5. Advisory state on disk, then whatever the database remembers.
	if cfg.Persistence().Enabled {
		targets := persist.Targets{Feedback: c.Feedback, Patterns: c.Patterns, Vector: c.Vector}
		if c.Store != nil {
			targets.Sink = c.Store
		}
		p, err := persist.New(logger, cfg.Persistence(), targets)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		p.Load()
		c.Persister = p
	}
	if c.Store != nil && c.Patterns != nil {
		stored, err := c.Store.LoadPatterns(ctx)
		if err != nil {
			logger.Warn("Could not load patterns from database.", zap.Error(err))
		} else if len(stored) > 0 {
			c.Patterns.Restore(stored)
			logger.Info("Loaded patterns from database.", zap.Int("count", len(stored)))
		}
	}

	// 6. Live analysis.
	var liveSource agent.LiveSource
	lc := InitializeLiveAnalyzer(cfg, logger)
	c.Analyzer, c.Browser, c.HTTPClient = lc.Analyzer, lc.Browser, lc.HTTPClient
	if c.Analyzer != nil {
		liveSource = c.Analyzer
	}

	// 7. LLM client and the synthesis agents.
	if agentCfg.Type != config.AgentTemplate {
		client, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		c.LLMClient = client
	}

	registry := agent.NewHandlerRegistry(logger, agentCfg, parser)
	template := agent.NewTemplateAgent(logger, registry, pipeline)
	deps := agent.RouterDeps{
		Preparer: agent.NewPreparer(logger, agentCfg, parser, detector, liveSource),
		Pipeline: pipeline,
		Cache:    c.Cache,
		Vector:   c.Vector,
		Patterns: c.Patterns,
		Governor: c.Governor,
		Template: template,
		Recorder: c.Metrics,
	}
	if c.LLMClient != nil {
		llm := agent.NewLLMAgent(logger, cfg.LLM(), c.LLMClient, pipeline, c.Ranker)
		deps.LLM = llm
		deps.Ensemble = agent.NewEnsembleAgent(logger, agentCfg.EnsembleSize, llm, template)
	}
	c.Router = agent.NewRouter(logger, agentCfg, deps)

	logger.Info("Miner components initialized.",
		zap.String("agent_type", agentCfg.Type),
		zap.Bool("llm", c.LLMClient != nil),
		zap.Bool("live", c.Analyzer != nil),
		zap.Bool("database", c.Store != nil))
	return c, nil
}

// Build is a convenience wrapper around the production factory.
func Build(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	c, err := NewComponentFactory().Create(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build components: %w", err)
	}
	return c, nil
}
