package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

// session is one isolated browser context with a single page.
type session struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	blocklist []string
	max       int
	closeOnce sync.Once
}

func newSession(browserCtx context.Context, logger *zap.Logger, cfg config.BrowserConfig) *session {
	ctx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	id := uuid.NewString()
	return &session{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With(zap.String("session_id", id)),
		blocklist: cfg.BlockedDomains,
		max:       cfg.MaxElements,
	}
}

// close disposes the page and its browser context. Safe to call repeatedly.
func (s *session) close() {
	s.closeOnce.Do(s.cancel)
}

// interceptRequests answers every paused request: blocked resources fail,
// everything else continues.
func (s *session) interceptRequests() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		e, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			c := chromedp.FromContext(s.ctx)
			if c == nil || c.Target == nil {
				return
			}
			execCtx := cdp.WithExecutor(s.ctx, c.Target)
			var err error
			if ShouldBlock(e.ResourceType, e.Request.URL, s.blocklist) {
				err = fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
			} else {
				err = fetch.ContinueRequest(e.RequestID).Do(execCtx)
			}
			if err != nil && s.ctx.Err() == nil {
				s.logger.Debug("Failed to resolve paused request", zap.String("url", e.Request.URL), zap.Error(err))
			}
		}()
	})
}

// load navigates, waits for DOMContentLoaded and extracts the page in one
// evaluate call. Full HTML is only pulled when no element was found.
func (s *session) load(ctx context.Context, rawURL string) (*schemas.PageData, error) {
	start := time.Now()
	s.interceptRequests()

	var raw extraction
	err := chromedp.Run(ctx,
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errorText, _, err := page.Navigate(rawURL).Do(ctx)
			if err != nil {
				return err
			}
			if errorText != "" {
				return fmt.Errorf("navigation failed: %s", errorText)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Evaluate(extractScript(s.max), &raw),
	)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", rawURL, err)
	}

	data := raw.pageData(rawURL, s.max)
	if data.Empty() {
		var html string
		if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err == nil {
			data.HTML = html
		}
	}
	data.Duration = float64(time.Since(start).Milliseconds())
	s.logger.Debug("Extracted live page",
		zap.String("url", rawURL),
		zap.Int("buttons", len(data.Buttons)),
		zap.Int("inputs", len(data.Inputs)),
		zap.Float64("duration_ms", data.Duration))
	return data, nil
}

// blockedTypes are resource types never needed for element extraction.
var blockedTypes = map[network.ResourceType]bool{
	network.ResourceTypeImage: true,
	network.ResourceTypeMedia: true,
	network.ResourceTypeFont:  true,
}

// ShouldBlock reports whether a request is dropped: images, media, fonts
// and anything served from a tracking domain.
func ShouldBlock(rt network.ResourceType, rawURL string, domains []string) bool {
	if blockedTypes[rt] {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, d := range domains {
		if d != "" && strings.Contains(lower, strings.ToLower(d)) {
			return true
		}
	}
	return false
}
