package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

// MockLLMClient is a mock implementation of schemas.LLMClient.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// setupTestLogger returns a logger whose entries can be inspected.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// testLLMConfig has no request spacing and millisecond backoffs.
func testLLMConfig(url string) config.LLMConfig {
	return config.LLMConfig{
		Provider:           config.ProviderChutes,
		APIKey:             "test-key",
		APIURL:             url,
		Model:              "model-a",
		FallbackModels:     []string{"model-b"},
		Temperature:        0.2,
		MaxTokens:          256,
		Timeout:            5 * time.Second,
		MinRequestInterval: 0,
		IntervalStep:       10 * time.Millisecond,
		MaxRequestInterval: 20 * time.Millisecond,
		RateLimitBackoff:   []time.Duration{5 * time.Millisecond, 10 * time.Millisecond},
		RateLimitReset:     5 * time.Minute,
		MaxRetries:         3,
	}
}

func testRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "Return JSON only.",
		UserPrompt:   "Click the login button",
	}
}
