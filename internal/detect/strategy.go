package detect

import (
	"math"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

const (
	weakNavExtra = 1.0
	weakGapExtra = 0.5
	maxWait      = 5.0
)

// Compose merges the page strategy with a site profile. A nil profile
// yields the context strategy unchanged.
func Compose(ctx schemas.PageContext, site *Profile) schemas.Strategy {
	s := ContextStrategy(ctx)
	if site == nil {
		return s
	}
	s.Site = site.Name
	s.WaitAfterNavigation = math.Max(s.WaitAfterNavigation, site.WaitAfterNavigation)
	s.WaitBetweenActions = math.Max(s.WaitBetweenActions, site.WaitBetweenActions)
	if site.AjaxHeavy {
		s.WaitBetweenActions = math.Max(s.WaitBetweenActions, 0.8)
	}
	if site.Weak {
		s.WaitAfterNavigation += weakNavExtra
		s.WaitBetweenActions += weakGapExtra
		s.ScreenshotFrequency = schemas.ScreenshotsAlways
		s.SelectorStrategy = schemas.SelectorsAggressive
		s.RetryStrategy = schemas.RetryMultiple
		s.Verify = true
	}
	s.WaitAfterNavigation = math.Min(s.WaitAfterNavigation, maxWait)
	s.WaitBetweenActions = math.Min(s.WaitBetweenActions, maxWait)
	return s
}

// Detection bundles everything derived from (url, prompt) before synthesis.
type Detection struct {
	Context  schemas.PageContext
	Site     *Profile
	Strategy schemas.Strategy
}

// Analyze runs context and website detection and composes the strategy.
func (d *WebsiteDetector) Analyze(rawURL, prompt string, taskType schemas.TaskType) Detection {
	ctx := DetectContext(rawURL, prompt, taskType)
	var site *Profile
	if m, ok := d.Detect(rawURL, prompt); ok {
		site = m.Profile
		ctx.IsSlowPage = ctx.IsSlowPage || site.Slow
		ctx.IsAjaxHeavy = ctx.IsAjaxHeavy || site.AjaxHeavy
	}
	return Detection{Context: ctx, Site: site, Strategy: Compose(ctx, site)}
}
