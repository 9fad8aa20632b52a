package actions

import (
	"regexp"
	"sort"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

// strongLive is the confidence a live selector needs to replace a heuristic
// selector that names no specific field.
const strongLive = 0.8

var fieldHints = []struct {
	pattern *regexp.Regexp
	field   string
}{
	{regexp.MustCompile(`(?i)pass`), schemas.FieldPassword},
	{regexp.MustCompile(`(?i)e-?mail`), schemas.FieldEmail},
	{regexp.MustCompile(`(?i)user`), schemas.FieldUsername},
	{regexp.MustCompile(`(?i)submit|apply|log\s*in|sign\s*in`), schemas.FieldSubmit},
	{regexp.MustCompile(`(?i)search`), schemas.FieldSearch},
}

// hintedField reports which live field type a heuristic selector names.
func hintedField(sel schemas.Selector) (string, bool) {
	for _, h := range fieldHints {
		if h.pattern.MatchString(sel.Value) {
			return h.field, true
		}
	}
	return "", false
}

func compatible(a schemas.Action, ls schemas.LiveSelector) bool {
	if a.Type == schemas.ActionTypeText {
		return ls.Element.IsInput() && ls.FieldType != schemas.FieldSubmit
	}
	return !ls.Element.IsInput() || ls.FieldType == schemas.FieldSubmit
}

func overlaps(sel schemas.Selector, el schemas.PageElement) bool {
	v := strings.ToLower(strings.TrimSpace(sel.Value))
	if v == "" {
		return false
	}
	for _, s := range []string{el.Text, el.AriaLabel, el.Placeholder, el.Name, el.ID} {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && (strings.Contains(s, v) || strings.Contains(v, s)) {
			return true
		}
	}
	return false
}

// ApplyLive substitutes selectors of Click and Type actions with live ones.
// A selector that names a field is replaced by the best live selector of
// that field type. Any other selector is replaced only by a strong, matching
// live selector. Order and count of actions never change; a replaced
// selector is kept as the first alternative.
func ApplyLive(in []schemas.Action, live []schemas.LiveSelector) []schemas.Action {
	if len(live) == 0 {
		return in
	}
	ranked := append([]schemas.LiveSelector(nil), live...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Confidence > ranked[j].Confidence })

	out := make([]schemas.Action, len(in))
	for i, a := range in {
		out[i] = a
		if !a.IsInteraction() || a.Selector == nil {
			continue
		}
		if repl, ok := pickLive(a, ranked); ok && !repl.Equal(*a.Selector) {
			c := a.Clone()
			c.Alternatives = append([]schemas.Selector{*a.Selector}, c.Alternatives...)
			c.Selector = &repl
			out[i] = c
		}
	}
	return out
}

func pickLive(a schemas.Action, ranked []schemas.LiveSelector) (schemas.Selector, bool) {
	if field, ok := hintedField(*a.Selector); ok {
		for _, ls := range ranked {
			if ls.FieldType == field && compatible(a, ls) {
				return ls.Selector, true
			}
		}
		return schemas.Selector{}, false
	}
	generic := a.Selector.Equal(selectors.Fallback())
	for _, ls := range ranked {
		if ls.Confidence < strongLive {
			break
		}
		if compatible(a, ls) && (generic || overlaps(*a.Selector, ls.Element)) {
			return ls.Selector, true
		}
	}
	return schemas.Selector{}, false
}
