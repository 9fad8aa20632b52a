package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/irun2themoney/autoppia-miner/internal/config"
)

const (
	DefaultDialTimeout         = 2 * time.Second
	DefaultKeepAlive           = 15 * time.Second
	DefaultTLSHandshakeTimeout = 2 * time.Second
	DefaultRequestTimeout      = 3 * time.Second
	DefaultMaxIdleConns        = 50
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
	DefaultMaxBodyBytes        = 2 << 20
	maxRedirects               = 5
)

var (
	// ErrStatus is returned for non-2xx page responses.
	ErrStatus = errors.New("unexpected http status")
	// ErrNotHTML is returned when the body is not an HTML document.
	ErrNotHTML = errors.New("response is not html")
)

// ClientConfig holds transport settings for page fetches.
type ClientConfig struct {
	IgnoreTLSErrors     bool
	RequestTimeout      time.Duration
	TLSHandshakeTimeout time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	ForceHTTP2          bool
	MaxBodyBytes        int64
	UserAgent           string
	Logger              *zap.Logger
}

func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:      DefaultRequestTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		ForceHTTP2:          true,
		MaxBodyBytes:        DefaultMaxBodyBytes,
		Logger:              zap.NewNop(),
	}
}

// ClientConfigFrom maps the network and live sections onto a ClientConfig.
func ClientConfigFrom(logger *zap.Logger, netCfg config.NetworkConfig, live config.LiveConfig) *ClientConfig {
	cfg := NewDefaultClientConfig()
	cfg.Logger = logger
	cfg.IgnoreTLSErrors = netCfg.IgnoreTLSErrors
	cfg.ForceHTTP2 = netCfg.EnableHTTP2
	if netCfg.Timeout > 0 {
		cfg.RequestTimeout = netCfg.Timeout
	}
	if netCfg.IdleConnTimeout > 0 {
		cfg.IdleConnTimeout = netCfg.IdleConnTimeout
	}
	if netCfg.MaxIdleConns > 0 {
		cfg.MaxIdleConns = netCfg.MaxIdleConns
	}
	if netCfg.MaxBodyBytes > 0 {
		cfg.MaxBodyBytes = netCfg.MaxBodyBytes
	}
	cfg.UserAgent = live.UserAgent
	return cfg
}

// NewHTTPTransport builds the pooled transport, with HTTP/2 when enabled.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: DefaultKeepAlive}
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.IgnoreTLSErrors,
		ClientSessionCache: tls.NewLRUClientSessionCache(128),
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: cfg.TLSHandshakeTimeout,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		// Decoding is done by compressionTransport so brotli is covered too.
		DisableCompression: true,
		ForceAttemptHTTP2:  cfg.ForceHTTP2,
	}
	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}

// Client fetches pages for static analysis. It is safe for concurrent use.
type Client struct {
	http         *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *zap.Logger
}

func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	transport := NewHTTPTransport(cfg)
	return &Client{
		http: &http.Client{
			Transport: newCompressionTransport(transport),
			Timeout:   cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
		logger:       cfg.Logger.Named("fetch"),
	}
}

// Page is a fetched, decoded document.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Truncated   bool
	Duration    time.Duration
}

// Fetch GETs rawURL and returns the decoded body, capped at the configured
// size. Only 2xx HTML responses are accepted.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	page := &Page{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: ct,
		Body:        body,
		Duration:    time.Since(start),
	}
	if int64(len(body)) > c.maxBodyBytes {
		page.Body = body[:c.maxBodyBytes]
		page.Truncated = true
	}
	c.logger.Debug("Fetched page",
		zap.String("url", page.URL),
		zap.Int("bytes", len(page.Body)),
		zap.Bool("truncated", page.Truncated),
		zap.Duration("duration", page.Duration))
	return page, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}
