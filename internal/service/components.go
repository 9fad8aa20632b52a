package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/agent"
	"github.com/irun2themoney/autoppia-miner/internal/browser"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/live"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/metrics"
	"github.com/irun2themoney/autoppia-miner/internal/network"
	"github.com/irun2themoney/autoppia-miner/internal/persist"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
	"github.com/irun2themoney/autoppia-miner/internal/store"
)

// cachePurgeInterval is how often expired cache entries are dropped.
const cachePurgeInterval = time.Minute

// Components holds every long-lived service behind the miner. Optional
// components are nil when disabled by configuration.
type Components struct {
	Router   *agent.Router
	Ranker   *selectors.Ranker
	Governor *governor.Governor
	Cache    *memory.SemanticCache
	Vector   *memory.VectorMemory
	Patterns *memory.PatternLearner
	Feedback *feedback.Loop
	Tuner    *feedback.Tuner
	Metrics  *metrics.Collector

	Persister  *persist.Persister
	Store      *store.Store
	Browser    *browser.Manager
	HTTPClient *network.Client
	Analyzer   *live.Analyzer
	LLMClient  schemas.LLMClient

	logger   *zap.Logger
	dbClose  func()
	stopOnce sync.Once
}

// Start launches the background loops: cache expiry, the tuner and the
// state flusher.
func (c *Components) Start(ctx context.Context) {
	if c.Cache != nil {
		c.Cache.Start(cachePurgeInterval)
	}
	if c.Tuner != nil {
		c.Tuner.Start(ctx)
	}
	if c.Persister != nil {
		c.Persister.Start(ctx)
	}
}

// Shutdown stops everything in reverse dependency order. The persister
// writes a final snapshot before the database pool closes.
func (c *Components) Shutdown(ctx context.Context) {
	c.stopOnce.Do(func() {
		logger := c.logger
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Debug("Beginning components shutdown sequence.")

		if c.Tuner != nil {
			c.Tuner.Stop()
		}
		if c.Cache != nil {
			c.Cache.Stop()
		}
		if c.Persister != nil {
			c.Persister.Stop(ctx)
			logger.Debug("State flushed.")
		}
		if c.Browser != nil {
			c.Browser.Close()
			logger.Debug("Browser manager shut down.")
		}
		if c.HTTPClient != nil {
			c.HTTPClient.CloseIdleConnections()
		}
		if c.LLMClient != nil {
			if err := c.LLMClient.Close(); err != nil {
				logger.Warn("Error closing LLM client.", zap.Error(err))
			}
		}
		if c.dbClose != nil {
			c.dbClose()
			logger.Debug("Database connection pool closed.")
		}
		logger.Info("All components shut down.")
	})
}
