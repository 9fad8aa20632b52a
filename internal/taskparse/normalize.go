package taskparse

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern       = regexp.MustCompile(`(?i)https?://[^\s'"]+`)
	credColonPattern = regexp.MustCompile(`(?i)\b(username|user|password|pass|email)\s*[:=]\s*['"]?[^\s'",]+['"]?`)
	credQuotePattern = regexp.MustCompile(`(?i)\b(username|user|password|pass|email)\s+(?:is\s+|equals\s+|of\s+)?['"][^'"]*['"]`)
	credAsPattern    = regexp.MustCompile(`(?i)\b(log\s*in|sign\s*in|login)\s+as\s+(?:user\s+)?['"]?[A-Za-z0-9_.@<>-]+['"]?`)
	emailPattern     = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	nonWordPattern   = regexp.MustCompile(`[^a-z0-9:_@'"\s-]+`)
	spacePattern     = regexp.MustCompile(`\s+`)
	tokenPattern     = regexp.MustCompile(`[a-z0-9]+`)
)

// fillers are dropped from normalized prompts.
var fillers = map[string]bool{
	"please": true, "kindly": true, "the": true, "a": true, "an": true,
	"just": true, "can": true, "you": true, "could": true, "would": true,
	"i": true, "want": true, "to": true, "me": true, "for": true,
}

// stopwords are excluded from keyword sets.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "into": true, "then": true, "please": true,
	"page": true, "your": true, "have": true, "what": true, "which": true,
	"where": true, "when": true, "will": true, "should": true, "there": true,
}

// Normalize lowercases a prompt, strips fillers and canonicalizes
// credentials and URLs so that prompts differing only in those collapse.
func Normalize(prompt string) string {
	s := urlPattern.ReplaceAllString(prompt, " url:XXX ")
	s = credAsPattern.ReplaceAllString(s, "$1 as username:XXX")
	s = credColonPattern.ReplaceAllStringFunc(s, canonicalCredential)
	s = credQuotePattern.ReplaceAllStringFunc(s, canonicalCredential)
	s = emailPattern.ReplaceAllString(s, "email:XXX")
	s = strings.ToLower(s)
	s = nonWordPattern.ReplaceAllString(s, " ")

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		w = strings.Trim(w, `'"-`)
		if w == "" || fillers[w] {
			continue
		}
		kept = append(kept, w)
	}
	return spacePattern.ReplaceAllString(strings.Join(kept, " "), " ")
}

func canonicalCredential(m string) string {
	lower := strings.ToLower(m)
	switch {
	case strings.HasPrefix(lower, "pass"):
		return " password:XXX "
	case strings.HasPrefix(lower, "email"):
		return " email:XXX "
	default:
		return " username:XXX "
	}
}

// Domain returns the host (with port) of a URL, or "" when unparsable.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// PatternKey identifies a (prompt, site) pattern for reuse accounting.
func PatternKey(prompt, rawURL string) string {
	return Normalize(prompt) + "|" + Domain(rawURL)
}

// Tokens splits text into lowercase alphanumeric tokens.
func Tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// Keywords returns the distinct tokens longer than two characters, minus stopwords.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokens(text) {
		if len(tok) <= 2 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// KeywordSet is Keywords as a set.
func KeywordSet(text string) map[string]bool {
	kw := Keywords(text)
	set := make(map[string]bool, len(kw))
	for _, k := range kw {
		set[k] = true
	}
	return set
}

// Jaccard computes |a∩b| / |a∪b|; two empty sets score 0.
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
