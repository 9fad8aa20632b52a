package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

const (
	launchTimeout       = 30 * time.Second
	shutdownGracePeriod = 5 * time.Second
	defaultMaxElements  = 30
	defaultFetchTimeout = 5 * time.Second
	defaultConcurrency  = 4
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

var (
	ErrInvalidURL = errors.New("browser fetch needs an absolute http(s) url")
	ErrClosed     = errors.New("browser manager is closed")
)

// Manager owns one headless browser process, launched on first use and
// shared by all requests. Every fetch runs in its own browser context and
// page, which are torn down when the fetch returns.
type Manager struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	timeout time.Duration
	agent   string

	sem *semaphore.Weighted

	initOnce        sync.Once
	initErr         error
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a manager. The browser is not started until the first
// Fetch.
func NewManager(logger *zap.Logger, cfg config.BrowserConfig, live config.LiveConfig) *Manager {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if cfg.MaxElements <= 0 {
		cfg.MaxElements = defaultMaxElements
	}
	timeout := live.BrowserTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	agent := live.UserAgent
	if agent == "" {
		agent = defaultUserAgent
	}
	m := &Manager{
		logger:  logger.Named("browser_manager"),
		cfg:     cfg,
		timeout: timeout,
		agent:   agent,
		sem:     semaphore.NewWeighted(int64(concurrency)),
	}
	m.logger.Debug("Browser manager created (launch deferred).", zap.Int("concurrency", concurrency))
	return m
}

func (m *Manager) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(m.agent),
	)
	if m.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(m.cfg.ExecPath))
	}
	for _, arg := range m.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}
	return opts
}

// launch starts the browser process once. A failed launch is sticky.
func (m *Manager) launch() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching headless browser...")
		allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocatorOptions()...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)

		launchCtx, cancelLaunch := context.WithTimeout(browserCtx, launchTimeout)
		defer cancelLaunch()
		if err := chromedp.Run(launchCtx, chromedp.Navigate("about:blank")); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("browser failed to start or respond: %w", err)
			return
		}
		m.allocatorCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.logger.Info("Browser launched and responsive.")
	})
	return m.initErr
}

// Fetch loads rawURL in a fresh browser context and extracts its interactive
// elements. It respects the fetch timeout and ctx, whichever ends first.
func (m *Manager) Fetch(ctx context.Context, rawURL string) (*schemas.PageData, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ErrInvalidURL
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.wg.Add(1)
	m.mu.Unlock()
	defer m.wg.Done()

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	if err := m.launch(); err != nil {
		return nil, err
	}

	s := newSession(m.browserCtx, m.logger, m.cfg)
	defer s.close()
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	fetchCtx, cancel := context.WithTimeout(s.ctx, m.timeout)
	defer cancel()
	return s.load(fetchCtx, rawURL)
}

// Close stops accepting fetches, waits briefly for in-flight ones and shuts
// the browser down.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		m.logger.Warn("Timed out waiting for browser sessions to finish.")
	}
	// Blocks on a launch in progress and prevents any later one.
	m.initOnce.Do(func() { m.initErr = ErrClosed })

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}
	m.logger.Info("Browser manager closed.")
}
