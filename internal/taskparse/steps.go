package taskparse

import (
	"regexp"
	"strings"
)

// ActionVerbs are the words that can open a step on their own.
var ActionVerbs = map[string]bool{
	"login": true, "log": true, "sign": true, "click": true, "type": true,
	"enter": true, "search": true, "fill": true, "select": true, "submit": true,
	"navigate": true, "go": true, "open": true, "filter": true, "register": true,
	"post": true, "comment": true, "book": true, "apply": true, "edit": true,
	"delete": true, "add": true, "scroll": true, "like": true, "follow": true,
	"share": true, "update": true, "remove": true, "reserve": true, "write": true,
	"create": true, "logout": true, "press": true, "choose": true, "visit": true,
}

var (
	stepConnector = regexp.MustCompile(`(?i)\s*,?\s*\b(?:and\s+then|then|after\s+that|afterwards|finally)\b\s*,?\s*|\s*[,.;]\s*next\b\s*,?\s*`)
	leadingFirst  = regexp.MustCompile(`(?i)^\s*first(?:ly)?\b\s*,?\s*`)
	afterClause   = regexp.MustCompile(`(?i)^\s*after\s+(.+?),\s*(.+)$`)
	midAfter      = regexp.MustCompile(`(?i)^(.+?)\s+after\s+(?:you(?:'ve|\s+have)?\s+|having\s+)?(.+)$`)
	andSplit      = regexp.MustCompile(`(?i)\s*,?\s+and\s+`)
)

// SplitSteps decomposes a prompt into ordered sub-steps. A prompt without
// connectors yields a single step. A bare "and" only splits when the right
// side starts with an action verb, so "username x and password y" stays whole.
func SplitSteps(prompt string) []string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil
	}
	prompt = leadingFirst.ReplaceAllString(prompt, "")

	var pieces []string
	if m := afterClause.FindStringSubmatch(prompt); m != nil {
		pieces = append(pieces, m[1], m[2])
	} else if m := midAfter.FindStringSubmatch(prompt); m != nil && opensStep(m[2]) {
		// "X after Y" runs Y first.
		pieces = append(pieces, m[2], m[1])
	} else {
		pieces = []string{prompt}
	}

	var byConnector []string
	for _, p := range pieces {
		byConnector = append(byConnector, stepConnector.Split(p, -1)...)
	}

	var steps []string
	for _, p := range byConnector {
		steps = append(steps, splitOnVerbAnd(p)...)
	}

	out := steps[:0]
	for _, s := range steps {
		s = strings.Trim(strings.TrimSpace(s), ",.;")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// opensStep reports whether s starts with an action verb, bare or as a
// gerund ("logging", "creating").
func opensStep(s string) bool {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return false
	}
	w := strings.Trim(fields[0], ",.")
	if ActionVerbs[w] {
		return true
	}
	stem, ok := strings.CutSuffix(w, "ing")
	if !ok || stem == "" {
		return false
	}
	return ActionVerbs[stem] || ActionVerbs[stem+"e"] || ActionVerbs[stem[:len(stem)-1]]
}

func splitOnVerbAnd(s string) []string {
	locs := andSplit.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return []string{s}
	}
	var parts []string
	start := 0
	for _, loc := range locs {
		rest := strings.Fields(strings.ToLower(s[loc[1]:]))
		if len(rest) == 0 || !ActionVerbs[strings.Trim(rest[0], ",.")] {
			continue
		}
		parts = append(parts, s[start:loc[0]])
		start = loc[1]
	}
	return append(parts, s[start:])
}

// HasMultiStepMarkers reports whether the prompt contains sequencing words.
func HasMultiStepMarkers(prompt string) bool {
	return len(SplitSteps(prompt)) >= 2
}
