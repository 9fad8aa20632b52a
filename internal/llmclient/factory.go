package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

// NewClient creates the configured provider. When the primary is chutes and
// a Gemini key is present, Gemini backs it up.
func NewClient(ctx context.Context, logger *zap.Logger, cfg config.LLMConfig) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderChutes, "":
		chutes, err := NewChutesClient(logger, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.GeminiAPIKey == "" {
			return chutes, nil
		}
		gemini, err := NewGeminiClient(ctx, logger, cfg, "")
		if err != nil {
			logger.Warn("Gemini backup unavailable", zap.Error(err))
			return chutes, nil
		}
		return NewProviderChain(logger, []string{config.ProviderChutes, config.ProviderGemini},
			[]schemas.LLMClient{chutes, gemini})
	case config.ProviderGemini:
		return NewGeminiClient(ctx, logger, cfg, "")
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderChutes, config.ProviderGemini)
	}
}
