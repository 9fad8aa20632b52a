package detect

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

const (
	urlPatternWeight = 15
	keywordWeight    = 3
	keywordBonus     = 5
	keywordBonusMin  = 3
	taskPatternBonus = 5
	minSiteScore     = 5
)

// Profile describes one known demo site.
type Profile struct {
	Name     string
	Host     string
	Keywords []string
	// Weak sites get longer waits, constant screenshots and aggressive selectors.
	Weak      bool
	Slow      bool
	AjaxHeavy bool
	// Wait floors applied on top of the page strategy. Zero means no override.
	WaitAfterNavigation float64
	WaitBetweenActions  float64

	urlPatterns  []*regexp.Regexp
	taskPatterns []*regexp.Regexp
}

type siteTraits struct {
	weak, slow, ajax bool
	waitNav, waitGap float64
	tasks            string
}

var knownTraits = map[string]siteTraits{
	"autobooks":    {tasks: `\b(genre|author|isbn|read(ing)?\s+list|book\s+detail)\b`},
	"autocinema":   {tasks: `\b(genre|director|watch(list)?|trailer|film)\b`, waitNav: 1.5},
	"autozone":     {tasks: `\b(add\s+to\s+cart|checkout|wishlist|quantity)\b`, ajax: true},
	"autodining":   {tasks: `\b(reserve|reservation|table\s+for|cuisine)\b`, waitNav: 2.0},
	"autocrm":      {tasks: `\b(matter|client|billing|document)\b`, slow: true, waitNav: 2.0},
	"automail":     {tasks: `\b(inbox|compose|reply|forward|archive)\b`, weak: true},
	"autodelivery": {tasks: `\b(order|delivery|restaurant|cart)\b`, ajax: true},
	"autolodge":    {tasks: `\b(check-?in|check-?out|guests|nights)\b`, waitNav: 2.0},
	"autoconnect":  {tasks: `\b(connect|follow|post|feed|endorse)\b`},
	"autowork":     {tasks: `\b(apply|hire|proposal|freelancer|job\s+post)\b`, weak: true, slow: true},
	"autocalendar": {tasks: `\b(event|week\s+view|month\s+view|day\s+view|schedule)\b`, ajax: true},
	"autolist":     {tasks: `\b(todo|add\s+task|mark\s+(as\s+)?(done|complete))\b`, weak: true},
	"autodrive":    {tasks: `\b(ride|pickup|drop\s*off|driver)\b`},
}

// Match is the result of website detection.
type Match struct {
	Profile *Profile
	Score   int
}

// WebsiteDetector scores every configured site against a request.
type WebsiteDetector struct {
	logger   *zap.Logger
	profiles []*Profile
}

// NewWebsiteDetector builds a profile per configured site host.
func NewWebsiteDetector(logger *zap.Logger, sites config.SitesConfig) *WebsiteDetector {
	d := &WebsiteDetector{logger: logger.Named("website_detector")}

	names := make([]string, 0, len(sites.Hosts))
	for name := range sites.Hosts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d.profiles = append(d.profiles, newProfile(name, sites.Hosts[name]))
	}
	return d
}

func newProfile(name, host string) *Profile {
	p := &Profile{
		Name:     name,
		Host:     host,
		Keywords: taskparse.SiteKeywords(name),
	}
	p.urlPatterns = append(p.urlPatterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(name)+`\b`))
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		p.urlPatterns = append(p.urlPatterns, regexp.MustCompile(`(?i)//`+regexp.QuoteMeta(u.Host)+`(/|$|\?)`))
	}
	if tr, ok := knownTraits[name]; ok {
		p.Weak, p.Slow, p.AjaxHeavy = tr.weak, tr.slow, tr.ajax
		p.WaitAfterNavigation, p.WaitBetweenActions = tr.waitNav, tr.waitGap
		if tr.tasks != "" {
			p.taskPatterns = append(p.taskPatterns, regexp.MustCompile(`(?i)`+tr.tasks))
		}
	}
	return p
}

// Profiles returns the known site profiles in name order.
func (d *WebsiteDetector) Profiles() []*Profile {
	return append([]*Profile(nil), d.profiles...)
}

// Score computes a site's score for a request.
func (p *Profile) Score(rawURL, prompt string) int {
	score := 0
	for _, re := range p.urlPatterns {
		if re.MatchString(rawURL) {
			score += urlPatternWeight
			break
		}
	}

	tokens := map[string]bool{}
	for _, t := range taskparse.Tokens(prompt) {
		tokens[t] = true
	}
	hits := 0
	for _, kw := range p.Keywords {
		if tokens[kw] {
			hits++
		}
	}
	score += hits * keywordWeight
	if hits >= keywordBonusMin {
		score += keywordBonus
	}

	for _, re := range p.taskPatterns {
		if re.MatchString(prompt) {
			score += taskPatternBonus
			break
		}
	}
	return score
}

// Detect returns the best scoring site. ok is false when no site reaches
// the minimum score.
func (d *WebsiteDetector) Detect(rawURL, prompt string) (Match, bool) {
	var best Match
	for _, p := range d.profiles {
		s := p.Score(rawURL, prompt)
		if s > best.Score {
			best = Match{Profile: p, Score: s}
		}
	}
	if best.Profile == nil || best.Score < minSiteScore {
		return Match{}, false
	}
	d.logger.Debug("Website detected",
		zap.String("site", best.Profile.Name),
		zap.Int("score", best.Score))
	return best, true
}

// ByName looks a profile up by site name.
func (d *WebsiteDetector) ByName(name string) *Profile {
	name = strings.ToLower(name)
	for _, p := range d.profiles {
		if p.Name == name {
			return p
		}
	}
	return nil
}
