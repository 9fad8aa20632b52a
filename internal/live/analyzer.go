package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

// Analyzer modes.
const (
	ModeAuto    = "auto"
	ModeBrowser = "browser"
	ModeHTTP    = "http"
	ModeOff     = "off"
)

const (
	defaultBrowserTimeout  = 5 * time.Second
	defaultHTTPTimeout     = 3 * time.Second
	defaultAnalysisTimeout = 2 * time.Second
)

var (
	ErrDisabled = errors.New("live analysis disabled")
	ErrNoPage   = errors.New("no page could be fetched")
)

// Fetcher loads a page and returns its interactive elements.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*schemas.PageData, error)
}

// Analyzer fetches pages through the browser, falling back to plain HTTP,
// and grounds selectors in what it finds. Concurrent fetches of the same
// URL share one load.
type Analyzer struct {
	logger  *zap.Logger
	cfg     config.LiveConfig
	browser Fetcher
	http    Fetcher
	group   singleflight.Group
}

var _ schemas.PageAnalyzer = (*Analyzer)(nil)

// New builds an analyzer. Either fetcher may be nil.
func New(logger *zap.Logger, cfg config.LiveConfig, browser, httpFetcher Fetcher) *Analyzer {
	if cfg.BrowserTimeout <= 0 {
		cfg.BrowserTimeout = defaultBrowserTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaultAnalysisTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	return &Analyzer{
		logger:  logger.Named("live_analyzer"),
		cfg:     cfg,
		browser: browser,
		http:    httpFetcher,
	}
}

// Fetch returns the page data for url within the configured caps.
func (a *Analyzer) Fetch(ctx context.Context, url string) (*schemas.PageData, error) {
	if !a.cfg.Enabled || a.cfg.Mode == ModeOff {
		return nil, ErrDisabled
	}
	// The shared load must not die with whichever caller started it.
	ch := a.group.DoChan(url, func() (interface{}, error) {
		return a.load(context.WithoutCancel(ctx), url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*schemas.PageData), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Analyzer) load(ctx context.Context, url string) (*schemas.PageData, error) {
	var errs []error
	if a.browser != nil && (a.cfg.Mode == ModeAuto || a.cfg.Mode == ModeBrowser) {
		page, err := a.try(ctx, a.browser, url, a.cfg.BrowserTimeout)
		if err == nil && !page.Empty() {
			return page, nil
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("browser: %w", err))
			a.logger.Debug("Browser fetch failed, trying HTTP", zap.String("url", url), zap.Error(err))
		} else if a.cfg.Mode == ModeBrowser {
			return page, nil
		}
	}
	if a.http != nil && (a.cfg.Mode == ModeAuto || a.cfg.Mode == ModeHTTP) {
		page, err := a.try(ctx, a.http, url, a.cfg.HTTPTimeout)
		if err == nil {
			return page, nil
		}
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if len(errs) == 0 {
		return nil, ErrNoPage
	}
	return nil, fmt.Errorf("%w: %w", ErrNoPage, errors.Join(errs...))
}

func (a *Analyzer) try(ctx context.Context, f Fetcher, url string, limit time.Duration) (*schemas.PageData, error) {
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	return f.Fetch(ctx, url)
}

// Analyze scores the page's elements for intent and task type.
func (a *Analyzer) Analyze(ctx context.Context, page *schemas.PageData, intent string, taskType schemas.TaskType) ([]schemas.LiveSelector, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.AnalysisTimeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	minConf := a.cfg.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	return Score(page, intent, taskType, a.cfg.MaxResults, minConf), nil
}

// Selectors fetches and analyzes url in one step. Any failure yields no
// selectors; live grounding is an enhancement, never a requirement.
func (a *Analyzer) Selectors(ctx context.Context, url, intent string, taskType schemas.TaskType) []schemas.LiveSelector {
	if url == "" {
		return nil
	}
	start := time.Now()
	page, err := a.Fetch(ctx, url)
	if err != nil {
		if !errors.Is(err, ErrDisabled) {
			a.logger.Warn("Live fetch failed, continuing without live selectors",
				zap.String("url", url), zap.Error(err))
		}
		return nil
	}
	sels, err := a.Analyze(ctx, page, intent, taskType)
	if err != nil {
		a.logger.Warn("Live analysis failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	a.logger.Debug("Live selectors ready",
		zap.String("url", url),
		zap.String("source", page.Source),
		zap.Int("count", len(sels)),
		zap.Duration("elapsed", time.Since(start)))
	return sels
}
