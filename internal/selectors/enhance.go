package selectors

import (
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// ClickVariants builds the ranked candidate list for a click target:
// feedback-best, contextual variants, semantic variants, label synonyms,
// then the original.
func ClickVariants(orig schemas.Selector, ranker *Ranker) []schemas.Selector {
	label := labelOf(orig)
	var candidates []schemas.Selector

	if label != "" {
		slug := Slug(label)
		// Contextual: what the element advertises about itself.
		candidates = append(candidates,
			schemas.Attr("aria-label", label),
			schemas.Attr("data-testid", slug),
		)
		// Semantic: what developers usually name it.
		candidates = append(candidates,
			schemas.Attr("id", slug),
			schemas.Attr("name", slug),
		)
		for _, intent := range synonymOrder {
			if labels := buttonSynonyms[intent]; matchesIntent(label, intent, labels) {
				candidates = append(candidates, Buttons(labels...)...)
			}
		}
	}
	candidates = append(candidates, orig)

	if ranker != nil {
		if best, ok := ranker.Best(candidates); ok {
			candidates = append([]schemas.Selector{best}, candidates...)
		}
	}
	return Dedupe(candidates)
}

func labelOf(sel schemas.Selector) string {
	switch sel.Type {
	case schemas.SelectorTagContains:
		return sel.Value
	case schemas.SelectorAttributeValue:
		if sel.Attribute == "aria-label" || sel.Attribute == "placeholder" {
			return sel.Value
		}
	}
	return ""
}

func matchesIntent(label, intent string, labels []string) bool {
	l := strings.ToLower(label)
	if strings.Contains(l, intent) {
		return true
	}
	for _, syn := range labels {
		if strings.EqualFold(l, syn) {
			return true
		}
	}
	return false
}

// EnhanceAction rewrites the selector of a model-produced Click or Type
// action with a ranked cascade. The chosen selector becomes primary and the
// rest are kept as alternatives for later live matching.
func EnhanceAction(a schemas.Action, ranker *Ranker) schemas.Action {
	if a.Selector == nil {
		return a
	}
	var ranked []schemas.Selector
	switch a.Type {
	case schemas.ActionClick:
		// Without feedback the model's own choice stays primary.
		ranked = ClickVariants(*a.Selector, ranker)
		if _, hasHistory := bestOf(ranked, ranker); !hasHistory {
			ranked = promote(ranked, *a.Selector)
		}
	case schemas.ActionTypeText:
		field, ok := FieldFromValue(a.Selector.Value)
		if !ok {
			return a
		}
		ranked = Field(field)
		if len(ranked) == 0 {
			return a
		}
		if ranker != nil {
			ranked = ranker.Rank(ranked)
		}
	default:
		return a
	}

	out := a.Clone()
	primary := ranked[0]
	out.Selector = &primary
	out.Alternatives = append(out.Alternatives[:0:0], ranked[1:]...)
	return out
}

func bestOf(list []schemas.Selector, ranker *Ranker) (schemas.Selector, bool) {
	if ranker == nil {
		return schemas.Selector{}, false
	}
	return ranker.Best(list)
}

func promote(list []schemas.Selector, sel schemas.Selector) []schemas.Selector {
	out := []schemas.Selector{sel}
	for _, s := range list {
		if !s.Equal(sel) {
			out = append(out, s)
		}
	}
	return out
}
