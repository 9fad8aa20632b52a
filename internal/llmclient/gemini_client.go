package llmclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

// GeminiClient implements schemas.LLMClient on the Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	cfg     config.LLMConfig
	logger  *zap.Logger
	http    *http.Client
	initial time.Duration
}

var _ schemas.LLMClient = (*GeminiClient)(nil)

// NewGeminiClient initializes the client. baseURL overrides the API host and
// is empty outside tests.
func NewGeminiClient(ctx context.Context, logger *zap.Logger, cfg config.LLMConfig, baseURL string) (*GeminiClient, error) {
	key := cfg.GeminiAPIKey
	if key == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}
	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{
		client:  client,
		model:   model,
		cfg:     cfg,
		logger:  logger.Named("llm_client.gemini"),
		http:    httpClient,
		initial: defaultRetryInitial,
	}, nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	temp := req.Options.Temperature
	if temp <= 0 {
		temp = c.cfg.Temperature
	}
	topP := req.Options.TopP
	if topP <= 0 {
		topP = c.cfg.TopP
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	gc := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(temp),
		MaxOutputTokens: int32(maxTokens),
	}
	if topP > 0 {
		gc.TopP = genai.Ptr(topP)
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSON {
		gc.ResponseMIMEType = "application/json"
	}
	return gc
}

// Generate sends the prompts to Gemini with retries on transient errors.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	gc := c.buildConfig(req)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	retries := c.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.UserPrompt), gc)
		if err != nil {
			if code := apiErrorCode(err); code != 0 {
				se := &StatusError{StatusCode: code, Model: c.model, Body: err.Error()}
				if se.Transient() {
					return se
				}
				return backoff.Permanent(se)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error during LLM request, retrying...", zap.Error(err))
			return err
		}
		if len(resp.Candidates) == 0 {
			return backoff.Permanent(ErrEmptyResponse)
		}
		out := resp.Text()
		if strings.TrimSpace(out) == "" {
			reason := resp.Candidates[0].FinishReason
			if reason == genai.FinishReasonSafety || reason == genai.FinishReasonBlocklist {
				return backoff.Permanent(fmt.Errorf("gemini blocked the request (reason: %s)", reason))
			}
			return backoff.Permanent(ErrEmptyResponse)
		}
		fields := []zap.Field{zap.String("model", c.model), zap.Duration("duration", time.Since(start))}
		if u := resp.UsageMetadata; u != nil {
			fields = append(fields,
				zap.Int32("prompt_tokens", u.PromptTokenCount),
				zap.Int32("completion_tokens", u.CandidatesTokenCount))
		}
		c.logger.Debug("LLM generation complete (Gemini)", fields...)
		text = out
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return text, nil
}

// apiErrorCode extracts the HTTP status from a genai API error, or 0.
func apiErrorCode(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

// Close releases pooled connections.
func (c *GeminiClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}
