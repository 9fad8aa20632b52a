package llmclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const freeSuffix = ":free"

var (
	ErrNoAPIKey         = errors.New("llm api key is required")
	ErrRateLimited      = errors.New("llm provider rate limited")
	ErrEmptyResponse    = errors.New("llm returned an empty completion")
	ErrAllModelsFailed  = errors.New("all llm models failed")
	defaultRetryInitial = 250 * time.Millisecond
)

// StatusError is a non-2xx answer from the completion endpoint.
type StatusError struct {
	StatusCode int
	Model      string
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api error: model %s: status %d: %s", e.Model, e.StatusCode, e.Body)
}

// Is makes a 429 match ErrRateLimited.
func (e *StatusError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

// Transient reports whether the same model may succeed on retry.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500
}

// -- Chat completion wire format --

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	TopP        float32       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	// Some gateways answer with a bare top-level field instead.
	Response string `json:"response"`
	Content  string `json:"content"`
	Usage    struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChutesClient talks to an OpenAI-compatible chat completions endpoint.
// Requests are serialized and spaced by an interval that grows after each
// success, and 429s push the whole client into a cooldown.
type ChutesClient struct {
	logger   *zap.Logger
	cfg      config.LLMConfig
	http     *http.Client
	endpoint string
	models   []string
	turn     *semaphore.Weighted
	limiter  *rate.Limiter

	mu             sync.Mutex
	interval       time.Duration
	consecutive429 int
	last429        time.Time
	cooldownUntil  time.Time

	retryInitial time.Duration
	now          func() time.Time
}

var _ schemas.LLMClient = (*ChutesClient)(nil)

// NewChutesClient builds a client from the llm config section.
func NewChutesClient(logger *zap.Logger, cfg config.LLMConfig) (*ChutesClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("llm api url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRequestInterval < cfg.MinRequestInterval {
		cfg.MaxRequestInterval = cfg.MinRequestInterval
	}
	if len(cfg.RateLimitBackoff) == 0 {
		cfg.RateLimitBackoff = []time.Duration{60 * time.Second}
	}
	return &ChutesClient{
		logger:       logger.Named("llm_client.chutes"),
		cfg:          cfg,
		http:         &http.Client{Timeout: cfg.Timeout},
		endpoint:     cfg.APIURL,
		models:       ModelChain(cfg.Model, cfg.FallbackModels),
		turn:         semaphore.NewWeighted(1),
		limiter:      rate.NewLimiter(every(cfg.MinRequestInterval), 1),
		interval:     cfg.MinRequestInterval,
		retryInitial: defaultRetryInitial,
		now:          time.Now,
	}, nil
}

func every(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// ModelChain orders the primary model first, then fallbacks that share its
// tier (free or paid), then the rest. Duplicates are dropped.
func ModelChain(primary string, fallbacks []string) []string {
	chain := make([]string, 0, len(fallbacks)+1)
	seen := make(map[string]bool)
	add := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			chain = append(chain, m)
		}
	}
	add(primary)
	primaryFree := strings.HasSuffix(primary, freeSuffix)
	for _, m := range fallbacks {
		if strings.HasSuffix(m, freeSuffix) == primaryFree {
			add(m)
		}
	}
	for _, m := range fallbacks {
		add(m)
	}
	return chain
}

// Models returns the fallback chain in the order it is tried.
func (c *ChutesClient) Models() []string {
	return append([]string(nil), c.models...)
}

// Interval is the current spacing between requests.
func (c *ChutesClient) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Generate sends one system+user prompt pair and returns the completion text,
// walking the model chain until one answers.
func (c *ChutesClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if err := c.turn.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.turn.Release(1)

	var errs []error
	for i, model := range c.models {
		text, err := c.tryModel(ctx, model, req)
		if err == nil {
			c.onSuccess()
			if i > 0 {
				c.logger.Info("Fallback model answered", zap.String("model", model))
			}
			return text, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		// The rate limit is per account, so other models would fail too.
		if errors.Is(err, ErrRateLimited) {
			return "", err
		}
		errs = append(errs, err)
		c.logger.Warn("Model failed, trying next in chain", zap.String("model", model), zap.Error(err))
	}
	return "", fmt.Errorf("%w: %w", ErrAllModelsFailed, errors.Join(errs...))
}

func (c *ChutesClient) tryModel(ctx context.Context, model string, req schemas.GenerationRequest) (string, error) {
	body, err := json.Marshal(c.buildRequest(model, req))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}
	for attempt := 0; ; attempt++ {
		text, err := c.postWithRetry(ctx, model, body)
		var se *StatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
			return text, err
		}
		wait := c.on429(se.RetryAfter)
		if attempt >= c.cfg.MaxRetries {
			return "", err
		}
		c.logger.Warn("Rate limited, backing off",
			zap.String("model", model), zap.Duration("wait", wait), zap.Int("attempt", attempt+1))
	}
}

// waitTurn honors the 429 cooldown and the request interval. A cooldown that
// outlasts the caller's deadline fails fast with ErrRateLimited.
func (c *ChutesClient) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	now := c.now()
	if c.consecutive429 > 0 && now.Sub(c.last429) > c.cfg.RateLimitReset && c.cfg.RateLimitReset > 0 {
		c.consecutive429 = 0
	}
	wait := c.cooldownUntil.Sub(now)
	c.mu.Unlock()

	if wait > 0 {
		if dl, ok := ctx.Deadline(); ok && dl.Sub(now) < wait {
			return fmt.Errorf("%w: cooling down for %s", ErrRateLimited, wait.Round(time.Millisecond))
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.limiter.Wait(ctx)
}

// on429 records a rate-limit answer and returns the cooldown it imposed.
func (c *ChutesClient) on429(retryAfter time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	wait := retryAfter
	if wait <= 0 {
		idx := c.consecutive429
		if idx >= len(c.cfg.RateLimitBackoff) {
			idx = len(c.cfg.RateLimitBackoff) - 1
		}
		wait = c.cfg.RateLimitBackoff[idx]
	}
	c.consecutive429++
	c.last429 = c.now()
	c.cooldownUntil = c.last429.Add(wait)
	return wait
}

func (c *ChutesClient) onSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.interval + c.cfg.IntervalStep
	if next > c.cfg.MaxRequestInterval {
		next = c.cfg.MaxRequestInterval
	}
	if next != c.interval {
		c.interval = next
		c.limiter.SetLimit(every(next))
	}
}

func (c *ChutesClient) buildRequest(model string, req schemas.GenerationRequest) chatRequest {
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
	msgs := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.UserPrompt})
	return chatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: temp,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}
}

// postWithRetry retries network errors and 5xx answers with exponential
// backoff. Every other failure is returned as is. Each attempt, retries
// included, waits its turn first.
func (c *ChutesClient) postWithRetry(ctx context.Context, model string, body []byte) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.cfg.Timeout

	var content string
	operation := func() error {
		if err := c.waitTurn(ctx); err != nil {
			return backoff.Permanent(err)
		}
		text, err := c.post(ctx, model, body)
		if err == nil {
			content = text
			return nil
		}
		var se *StatusError
		if errors.As(err, &se) && !se.Transient() {
			return backoff.Permanent(err)
		}
		if errors.Is(err, ErrEmptyResponse) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug("Transient llm error, retrying", zap.String("model", model), zap.Error(err))
		return err
	}
	retries := c.cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return content, nil
}

func (c *ChutesClient) post(ctx context.Context, model string, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{
			StatusCode: resp.StatusCode,
			Model:      model,
			Body:       truncate(string(respBody), 300),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response payload: %w", err)
	}
	text, finish := completionText(parsed)
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("LLM generation complete",
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
		zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
		zap.String("finish_reason", finish))
	return text, nil
}

// completionText picks the first non-empty text field the gateway filled in.
func completionText(r chatResponse) (text, finish string) {
	var candidates []string
	if len(r.Choices) > 0 {
		c := r.Choices[0]
		finish = c.FinishReason
		candidates = append(candidates, c.Message.Content, c.Text)
	}
	candidates = append(candidates, r.Response, r.Content)
	if len(r.Choices) > 0 {
		candidates = append(candidates, r.Choices[0].Message.ReasoningContent)
	}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c, finish
		}
	}
	return "", finish
}

// Close releases pooled connections.
func (c *ChutesClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
