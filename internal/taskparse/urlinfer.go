package taskparse

import (
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

// siteKeywords maps a site name to the prompt words that point at it.
// Order decides ties.
var siteKeywords = []struct {
	site  string
	words []string
}{
	{"autobooks", []string{"book", "books", "author", "authors", "isbn", "library", "novel", "reading"}},
	{"autocinema", []string{"movie", "movies", "film", "films", "cinema", "director", "actor", "trailer", "watchlist"}},
	{"autozone", []string{"product", "products", "cart", "shop", "buy", "checkout", "wishlist", "purchase"}},
	{"autodining", []string{"restaurant", "restaurants", "dine", "dining", "menu", "cuisine", "table"}},
	{"autocrm", []string{"client", "clients", "matter", "matters", "lawyer", "crm", "billing", "invoice"}},
	{"automail", []string{"inbox", "mail", "compose", "spam", "draft", "drafts"}},
	{"autodelivery", []string{"delivery", "deliver", "courier", "takeout"}},
	{"autolodge", []string{"hotel", "lodge", "stay", "room", "rooms", "guests", "check-in", "airbnb"}},
	{"autoconnect", []string{"connection", "connections", "network", "profile", "feed", "follow"}},
	{"autowork", []string{"job", "jobs", "hire", "freelancer", "gig", "gigs", "expert", "hiring"}},
	{"autocalendar", []string{"calendar", "event", "events", "meeting", "schedule", "agenda"}},
	{"autolist", []string{"todo", "todos", "list", "checklist", "tasks"}},
	{"autodrive", []string{"ride", "rides", "driver", "trip", "pickup", "dropoff", "drive"}},
}

// URLInferrer picks a demo-site base URL from prompt keywords.
type URLInferrer struct {
	sites config.SitesConfig
}

func NewURLInferrer(sites config.SitesConfig) *URLInferrer {
	return &URLInferrer{sites: sites}
}

// Infer returns the best site URL for the prompt, or the default site when
// no keyword matches.
func (u *URLInferrer) Infer(prompt string) string {
	if site := InferSite(prompt); site != "" {
		if host := u.sites.Host(site); host != "" {
			return host
		}
	}
	return u.sites.Host(u.sites.DefaultSite)
}

// InferSite returns the site name with the most keyword hits, or "".
func InferSite(prompt string) string {
	tokens := map[string]bool{}
	for _, t := range Tokens(prompt) {
		tokens[t] = true
	}
	best, bestHits := "", 0
	for _, s := range siteKeywords {
		hits := 0
		for _, w := range s.words {
			if tokens[w] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = s.site, hits
		}
	}
	return best
}

// SiteKeywords returns the prompt words associated with a site.
func SiteKeywords(site string) []string {
	for _, s := range siteKeywords {
		if s.site == site {
			return append([]string(nil), s.words...)
		}
	}
	return nil
}
