package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// ProviderChain implements schemas.LLMClient by trying providers in order.
// A rate-limited or failing provider hands the request to the next one.
type ProviderChain struct {
	logger  *zap.Logger
	names   []string
	clients []schemas.LLMClient
}

// NewProviderChain pairs each client with a name used in logs.
func NewProviderChain(logger *zap.Logger, names []string, clients []schemas.LLMClient) (*ProviderChain, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one llm client must be provided")
	}
	if len(names) != len(clients) {
		return nil, fmt.Errorf("got %d names for %d clients", len(names), len(clients))
	}
	for i, c := range clients {
		if c == nil {
			return nil, fmt.Errorf("llm client %q is nil", names[i])
		}
	}
	return &ProviderChain{
		logger:  logger.Named("llm_router"),
		names:   names,
		clients: clients,
	}, nil
}

// Generate returns the first provider's answer that succeeds.
func (r *ProviderChain) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	var errs []error
	for i, client := range r.clients {
		out, err := client.Generate(ctx, req)
		if err == nil {
			return out, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		errs = append(errs, fmt.Errorf("%s: %w", r.names[i], err))
		r.logger.Warn("Provider failed", zap.String("provider", r.names[i]), zap.Error(err))
	}
	return "", errors.Join(errs...)
}

// Close closes every provider.
func (r *ProviderChain) Close() error {
	var errs []error
	for _, c := range r.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
