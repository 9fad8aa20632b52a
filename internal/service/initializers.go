package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/browser"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/live"
	"github.com/irun2themoney/autoppia-miner/internal/llmclient"
	"github.com/irun2themoney/autoppia-miner/internal/network"
	"github.com/irun2themoney/autoppia-miner/internal/store"
)

// InitializeLLMClient creates the configured LLM client. A missing API key
// is not an error: it returns nil and the template tier serves alone.
func InitializeLLMClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	client, err := llmclient.NewClient(ctx, logger, cfg)
	if errors.Is(err, llmclient.ErrNoAPIKey) {
		logger.Warn("No LLM API key configured; LLM and ensemble tiers are disabled.")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return client, nil
}

// InitializeStore connects to Postgres when a database URL is configured
// and creates the schema. It returns a nil store when no URL is set.
func InitializeStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*store.Store, func(), error) {
	if cfg.URL == "" {
		logger.Debug("No database configured; outcomes stay local.")
		return nil, nil, nil
	}
	s, closeFn, err := store.Connect(ctx, cfg.URL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info("Connected to outcome database.")
	return s, closeFn, nil
}

// LiveComponents are the pieces of the live analyzer the caller must close.
type LiveComponents struct {
	Analyzer   *live.Analyzer
	Browser    *browser.Manager
	HTTPClient *network.Client
}

// InitializeLiveAnalyzer builds the analyzer with the fetchers its mode
// needs. The browser is launched lazily on first use.
func InitializeLiveAnalyzer(cfg config.Interface, logger *zap.Logger) LiveComponents {
	liveCfg := cfg.Live()
	if !liveCfg.Enabled || liveCfg.Mode == live.ModeOff {
		return LiveComponents{}
	}

	var out LiveComponents
	var browserFetcher, httpFetcher live.Fetcher
	if liveCfg.Mode != live.ModeHTTP {
		out.Browser = browser.NewManager(logger, cfg.Browser(), liveCfg)
		browserFetcher = out.Browser
	}
	if liveCfg.Mode != live.ModeBrowser {
		out.HTTPClient = network.NewClient(network.ClientConfigFrom(logger, cfg.Network(), liveCfg))
		httpFetcher = live.NewHTTPFetcher(out.HTTPClient, cfg.Browser().MaxElements)
	}
	out.Analyzer = live.New(logger, liveCfg, browserFetcher, httpFetcher)
	return out
}
