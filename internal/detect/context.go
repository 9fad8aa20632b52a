package detect

import (
	"regexp"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

type pageRule struct {
	pageType schemas.PageType
	pattern  *regexp.Regexp
}

// urlRules classify by path first; order matters.
var urlRules = []pageRule{
	{schemas.PageLogin, regexp.MustCompile(`(?i)/(login|signin|sign-in|log-in|auth)\b`)},
	{schemas.PageRegister, regexp.MustCompile(`(?i)/(register|signup|sign-up|join)\b`)},
	{schemas.PageCheckout, regexp.MustCompile(`(?i)/(checkout|cart|payment|basket)\b`)},
	{schemas.PageForm, regexp.MustCompile(`(?i)/(form|contact|apply|new|create)\b`)},
	{schemas.PageDashboard, regexp.MustCompile(`(?i)/(dashboard|admin|console|home/user)\b`)},
	{schemas.PageSearch, regexp.MustCompile(`(?i)(/search\b|[?&](q|query|search)=)`)},
	{schemas.PageProfile, regexp.MustCompile(`(?i)/(profile|account|settings|me)\b`)},
	{schemas.PageDetail, regexp.MustCompile(`(?i)/(books?|movies?|products?|items?|jobs?|restaurants?|hotels?|posts?)/[\w-]+`)},
	{schemas.PageListing, regexp.MustCompile(`(?i)/(books|movies|products|items|jobs|restaurants|hotels|list|catalog)/?$`)},
}

// promptRules apply when the URL says nothing.
var promptRules = []pageRule{
	{schemas.PageLogin, regexp.MustCompile(`(?i)\b(log\s*in|login|sign\s*in)\b`)},
	{schemas.PageRegister, regexp.MustCompile(`(?i)\b(register|sign\s*up|create\s+(an\s+)?account)\b`)},
	{schemas.PageCheckout, regexp.MustCompile(`(?i)\b(checkout|cart|pay)\b`)},
	{schemas.PageForm, regexp.MustCompile(`(?i)\b(form|fill|contact)\b`)},
	{schemas.PageSearch, regexp.MustCompile(`(?i)\b(search|filter|find)\b`)},
	{schemas.PageProfile, regexp.MustCompile(`(?i)\b(profile|account|settings)\b`)},
	{schemas.PageDetail, regexp.MustCompile(`(?i)\b(details?|view)\b`)},
	{schemas.PageDashboard, regexp.MustCompile(`(?i)\b(dashboard|calendar)\b`)},
}

var ajaxPattern = regexp.MustCompile(`(?i)\b(filter|search|sort|autocomplete|load\s+more|infinite|calendar|drag)\b`)

// DetectContext classifies the page from the URL path, then from the prompt.
func DetectContext(rawURL, prompt string, taskType schemas.TaskType) schemas.PageContext {
	ctx := schemas.PageContext{
		PageType:           schemas.PageUnknown,
		ActionContext:      string(taskType),
		RequiresNavigation: strings.TrimSpace(rawURL) != "",
	}

	path := urlPath(rawURL)
	for _, r := range urlRules {
		if r.pattern.MatchString(path) {
			ctx.PageType = r.pageType
			break
		}
	}
	if ctx.PageType == schemas.PageUnknown {
		for _, r := range promptRules {
			if r.pattern.MatchString(prompt) {
				ctx.PageType = r.pageType
				break
			}
		}
	}
	if ctx.PageType == schemas.PageUnknown && (path == "" || path == "/") && ctx.RequiresNavigation {
		ctx.PageType = schemas.PageHome
	}

	ctx.IsLoginPage = ctx.PageType == schemas.PageLogin
	ctx.IsFormPage = ctx.PageType == schemas.PageForm || ctx.PageType == schemas.PageRegister || ctx.PageType == schemas.PageCheckout
	ctx.IsSearchPage = ctx.PageType == schemas.PageSearch
	ctx.IsAjaxHeavy = ajaxPattern.MatchString(prompt)
	return ctx
}

// urlPath returns everything after the host so rules can inspect path and query.
func urlPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
	}
	if i := strings.IndexAny(raw, "/?"); i >= 0 {
		return raw[i:]
	}
	return ""
}

// contextStrategies is the per-page baseline.
var contextStrategies = map[schemas.PageType]schemas.Strategy{
	schemas.PageLogin:     {WaitAfterNavigation: 1.5, WaitBetweenActions: 0.5, ScreenshotFrequency: schemas.ScreenshotsAfterImportant, SelectorStrategy: schemas.SelectorsBalanced, RetryStrategy: schemas.RetryOnce, Verify: true},
	schemas.PageRegister:  {WaitAfterNavigation: 2.0, WaitBetweenActions: 0.5, ScreenshotFrequency: schemas.ScreenshotsAfterImportant, SelectorStrategy: schemas.SelectorsBalanced, RetryStrategy: schemas.RetryOnce, Verify: true},
	schemas.PageForm:      {WaitAfterNavigation: 1.5, WaitBetweenActions: 0.3, ScreenshotFrequency: schemas.ScreenshotsAfterImportant, SelectorStrategy: schemas.SelectorsBalanced, RetryStrategy: schemas.RetryOnce, Verify: true},
	schemas.PageDashboard: {WaitAfterNavigation: 2.0, WaitBetweenActions: 0.5, ScreenshotFrequency: schemas.ScreenshotsMinimal, SelectorStrategy: schemas.SelectorsBalanced, RetryStrategy: schemas.RetryOnce, Verify: false},
	schemas.PageSearch:    {WaitAfterNavigation: 1.5, WaitBetweenActions: 0.8, ScreenshotFrequency: schemas.ScreenshotsAfterImportant, SelectorStrategy: schemas.SelectorsAggressive, RetryStrategy: schemas.RetryMultiple, Verify: true},
	schemas.PageListing:   {WaitAfterNavigation: 2.0, WaitBetweenActions: 0.5, ScreenshotFrequency: schemas.ScreenshotsAfterImportant, SelectorStrategy: schemas.SelectorsBalanced, RetryStrategy: schemas.RetryOnce, Verify: true},
	schemas.PageDetail:    {WaitAfterNavigation: 1.5, WaitBetweenActions: 0.5, ScreenshotFrequency: schemas.ScreenshotsMinimal, SelectorStrategy: schemas.SelectorsConservative, RetryStrategy: schemas.RetryOnce, Verify: false},
	schemas.PageCheckout:  {WaitAfterNavigation: 2.0, WaitBetweenActions: 1.0, ScreenshotFrequency: schemas.ScreenshotsAlways, SelectorStrategy: schemas.SelectorsConservative, RetryStrategy: schemas.RetryMultiple, Verify: true},
	schemas.PageProfile:   {WaitAfterNavigation: 1.5, WaitBetweenActions: 0.5, ScreenshotFrequency: schemas.ScreenshotsAfterImportant, SelectorStrategy: schemas.SelectorsBalanced, RetryStrategy: schemas.RetryOnce, Verify: true},
}

// ContextStrategy returns the baseline strategy for a page context.
func ContextStrategy(ctx schemas.PageContext) schemas.Strategy {
	s, ok := contextStrategies[ctx.PageType]
	if !ok {
		s = schemas.DefaultStrategy()
	}
	if ctx.IsAjaxHeavy && s.WaitBetweenActions < 0.8 {
		s.WaitBetweenActions = 0.8
	}
	return s
}
