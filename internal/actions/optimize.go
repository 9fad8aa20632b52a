package actions

import (
	"math"
	"regexp"
	"slices"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/smartwait"
)

const (
	maxScreenshots   = 3
	verificationWait = 0.5
	maxPasses        = 8
)

var (
	// criticalClick matches button labels whose effect deserves a
	// verification screenshot.
	criticalClick = regexp.MustCompile(`(?i)\b(submit|log\s*in|login|sign\s*(in|up)|register|save|apply|book|reserve|post|send|confirm|delete|create|update|checkout|search)\b`)
	// submitClick matches button labels that send a form.
	submitClick = regexp.MustCompile(`(?i)\b(submit|log\s*in|login|sign\s*(in|up)|register|save|send|confirm|apply)\b`)
)

// Options steer one pipeline run.
type Options struct {
	URL      string
	Strategy schemas.Strategy
	Context  schemas.PageContext
	Live     []schemas.LiveSelector
}

// Optimizer rewrites validated sequences: collapses screenshots, pins
// navigation to the front, inserts and merges waits, trims screenshots and
// adds verification captures. The result is a fixed point, so optimizing
// twice changes nothing.
type Optimizer struct {
	waits *smartwait.Strategy
}

func NewOptimizer(waits *smartwait.Strategy) *Optimizer {
	return &Optimizer{waits: waits}
}

// Optimize runs all passes until the sequence stops changing.
func (o *Optimizer) Optimize(in []schemas.Action, opts Options) []schemas.Action {
	cur := schemas.CloneActions(in)
	for i := 0; i < maxPasses; i++ {
		next := o.pass(cur, opts)
		if Equal(next, cur) {
			break
		}
		cur = next
	}
	if len(cur) == 0 {
		return []schemas.Action{schemas.Screenshot()}
	}
	return cur
}

func (o *Optimizer) pass(in []schemas.Action, opts Options) []schemas.Action {
	xs := frame(in, opts.URL)
	xs = collapseScreenshots(xs)
	xs = pinNavigation(xs)
	xs = normalizeWaits(xs)
	xs = o.insertWaits(xs, opts)
	xs = normalizeWaits(xs)
	if opts.Strategy.ScreenshotFrequency != schemas.ScreenshotsAlways {
		xs = trimScreenshots(xs, maxScreenshots)
	}
	xs = augmentVerification(xs, opts.Strategy)
	return xs
}

// frame makes the sequence start with Navigate (URL known) or Screenshot
// (no URL) and end with Screenshot.
func frame(in []schemas.Action, rawURL string) []schemas.Action {
	xs := in
	hasNav := slices.ContainsFunc(xs, func(a schemas.Action) bool { return a.Type == schemas.ActionNavigate })
	switch {
	case hasNav:
	case rawURL != "" && validURL(rawURL):
		xs = append([]schemas.Action{schemas.Navigate(rawURL)}, xs...)
	case len(xs) == 0 || xs[0].Type != schemas.ActionScreenshot:
		xs = append([]schemas.Action{schemas.Screenshot()}, xs...)
	}
	if xs[len(xs)-1].Type != schemas.ActionScreenshot {
		xs = append(xs, schemas.Screenshot())
	}
	return xs
}

func collapseScreenshots(in []schemas.Action) []schemas.Action {
	out := make([]schemas.Action, 0, len(in))
	for _, a := range in {
		if a.Type == schemas.ActionScreenshot && len(out) > 0 && out[len(out)-1].Type == schemas.ActionScreenshot {
			continue
		}
		out = append(out, a)
	}
	return out
}

// pinNavigation keeps only the last Navigate and moves it to index 0.
func pinNavigation(in []schemas.Action) []schemas.Action {
	last := -1
	for i, a := range in {
		if a.Type == schemas.ActionNavigate {
			last = i
		}
	}
	if last < 0 {
		return in
	}
	out := make([]schemas.Action, 0, len(in))
	out = append(out, in[last])
	for _, a := range in {
		if a.Type != schemas.ActionNavigate {
			out = append(out, a)
		}
	}
	return out
}

// normalizeWaits merges adjacent waits (sum, capped) and drops waits below
// the floor.
func normalizeWaits(in []schemas.Action) []schemas.Action {
	out := make([]schemas.Action, 0, len(in))
	for _, a := range in {
		if a.Type != schemas.ActionWait {
			out = append(out, a)
			continue
		}
		if n := len(out); n > 0 && out[n-1].Type == schemas.ActionWait {
			out[n-1].TimeSeconds = round2(math.Min(schemas.MaxWaitSeconds, out[n-1].TimeSeconds+a.TimeSeconds))
			continue
		}
		a.TimeSeconds = round2(math.Min(schemas.MaxWaitSeconds, a.TimeSeconds))
		out = append(out, a)
	}
	kept := out[:0]
	for _, a := range out {
		if a.Type == schemas.ActionWait && a.TimeSeconds < schemas.MinWaitSeconds {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// insertWaits adds a smart wait after every Navigate, Type and form-submitting
// Click that is not already followed by one. A Click after a Type therefore
// always waits.
func (o *Optimizer) insertWaits(in []schemas.Action, opts Options) []schemas.Action {
	page := smartwait.FromContext(opts.Context)
	out := make([]schemas.Action, 0, len(in)+4)
	for i, a := range in {
		out = append(out, a)
		if i+1 >= len(in) || in[i+1].Type == schemas.ActionWait {
			continue
		}
		var prev *schemas.Action
		if i > 0 {
			prev = &in[i-1]
		}
		cond := page
		switch a.Type {
		case schemas.ActionNavigate:
			w := opts.Strategy.WaitAfterNavigation
			if w <= 0 {
				cond.Navigation = true
				w = o.waits.For(a, prev, cond)
			}
			out = append(out, schemas.Wait(smartwait.Clamp(w)))
		case schemas.ActionTypeText:
			out = append(out, schemas.Wait(o.waits.For(a, prev, cond)))
		case schemas.ActionClick:
			if isSubmit(a) {
				cond.FormSubmit = true
				out = append(out, schemas.Wait(o.waits.For(a, prev, cond)))
			}
		}
	}
	return out
}

// trimScreenshots keeps the first and last screenshot and drops middle ones
// until at most limit remain.
func trimScreenshots(in []schemas.Action, limit int) []schemas.Action {
	var idx []int
	for i, a := range in {
		if a.Type == schemas.ActionScreenshot {
			idx = append(idx, i)
		}
	}
	excess := len(idx) - limit
	if excess <= 0 {
		return in
	}
	drop := make(map[int]bool, excess)
	for _, i := range idx[1 : len(idx)-1] {
		if excess == 0 {
			break
		}
		drop[i] = true
		excess--
	}
	out := make([]schemas.Action, 0, len(in)-len(drop))
	for i, a := range in {
		if !drop[i] {
			out = append(out, a)
		}
	}
	return out
}

func isCritical(a schemas.Action) bool {
	switch a.Type {
	case schemas.ActionNavigate:
		return true
	case schemas.ActionClick:
		return isButton(a, criticalClick)
	}
	return false
}

func isSubmit(a schemas.Action) bool {
	return a.Type == schemas.ActionClick && isButton(a, submitClick)
}

// isButton matches a click on a submit input or on a button-like label.
// Field selectors such as type=search never count.
func isButton(a schemas.Action, labels *regexp.Regexp) bool {
	sel := a.Selector
	if sel == nil {
		return false
	}
	switch {
	case sel.Type == schemas.SelectorAttributeValue && sel.Attribute == "type":
		return sel.Value == "submit"
	case sel.Type == schemas.SelectorAttributeValue && sel.Attribute == "aria-label":
		return labels.MatchString(sel.Value)
	case sel.Type == schemas.SelectorTagContains:
		return labels.MatchString(sel.Value)
	}
	return false
}

// augmentVerification follows critical actions with a short wait and a
// screenshot when the strategy asks for verification and the screenshot
// budget allows.
func augmentVerification(in []schemas.Action, s schemas.Strategy) []schemas.Action {
	if !s.Verify || s.ScreenshotFrequency == schemas.ScreenshotsMinimal {
		return in
	}
	budget := math.MaxInt
	if s.ScreenshotFrequency != schemas.ScreenshotsAlways {
		budget = maxScreenshots - countType(in, schemas.ActionScreenshot)
	}

	out := make([]schemas.Action, 0, len(in)+4)
	for i := 0; i < len(in); i++ {
		a := in[i]
		out = append(out, a)
		if !isCritical(a) || i+1 >= len(in) {
			continue
		}
		next := in[i+1]
		if next.Type == schemas.ActionScreenshot {
			continue
		}
		if next.Type == schemas.ActionWait {
			if i+2 < len(in) && in[i+2].Type == schemas.ActionScreenshot {
				continue
			}
			if budget <= 0 {
				continue
			}
			out = append(out, next, schemas.Screenshot())
			budget--
			i++
			continue
		}
		if budget <= 0 {
			continue
		}
		out = append(out, schemas.Wait(verificationWait), schemas.Screenshot())
		budget--
	}
	return out
}

func countType(in []schemas.Action, t schemas.ActionType) int {
	n := 0
	for _, a := range in {
		if a.Type == t {
			n++
		}
	}
	return n
}

// Equal compares two sequences on every wire field.
func Equal(a, b []schemas.Action) bool {
	return slices.EqualFunc(a, b, actionEqual)
}

func actionEqual(x, y schemas.Action) bool {
	if x.Type != y.Type || x.URL != y.URL || x.Text != y.Text || x.TimeSeconds != y.TimeSeconds ||
		x.Keys != y.Keys || x.Up != y.Up || x.Down != y.Down || x.Left != y.Left || x.Right != y.Right {
		return false
	}
	if (x.Selector == nil) != (y.Selector == nil) {
		return false
	}
	if x.Selector != nil && x.Selector.Key() != y.Selector.Key() {
		return false
	}
	return intEqual(x.X, y.X) && intEqual(x.Y, y.Y)
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
