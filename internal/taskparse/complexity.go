package taskparse

import (
	"strings"
)

// ComplexityLevel decides the synthesis tier.
type ComplexityLevel string

const (
	ComplexityLow    ComplexityLevel = "low"
	ComplexityMedium ComplexityLevel = "medium"
	ComplexityHigh   ComplexityLevel = "high"
)

var complexMarkers = []string{
	"and then", "after that", "if ", "multiple", "each ", "every ", "all ",
	"compare", "between", "until", "finally", "both", "unless", "except",
}

// complexityVerbs are counted toward the action-verb threshold.
var complexityVerbs = map[string]bool{
	"login": true, "click": true, "type": true, "search": true, "fill": true,
	"select": true, "submit": true, "navigate": true, "filter": true,
	"register": true, "post": true, "comment": true, "apply": true, "edit": true,
	"delete": true, "add": true, "scroll": true, "update": true, "reserve": true,
	"book": true, "sort": true, "upload": true,
}

// Complexity summarizes how hard a prompt looks.
type Complexity struct {
	Level          ComplexityLevel
	ComplexMarkers int
	ActionVerbs    int
	MultiStep      bool
	Steps          []string
}

// AnalyzeComplexity classifies a prompt as low, medium or high.
// High: two or more complex markers, three or more action verbs, or a
// multi-step decomposition. Low: at most one verb, no markers, not multi-step.
func AnalyzeComplexity(prompt string) Complexity {
	lower := strings.ToLower(prompt) + " "
	c := Complexity{Steps: SplitSteps(prompt)}
	c.MultiStep = len(c.Steps) >= 2

	for _, m := range complexMarkers {
		if strings.Contains(lower, m) {
			c.ComplexMarkers++
		}
	}
	seen := map[string]bool{}
	for _, tok := range Tokens(prompt) {
		if complexityVerbs[tok] && !seen[tok] {
			seen[tok] = true
			c.ActionVerbs++
		}
	}

	switch {
	case c.ComplexMarkers >= 2 || c.ActionVerbs >= 3 || c.MultiStep:
		c.Level = ComplexityHigh
	case c.ActionVerbs <= 1 && c.ComplexMarkers == 0:
		c.Level = ComplexityLow
	default:
		c.Level = ComplexityMedium
	}
	return c
}
