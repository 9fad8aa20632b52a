package smartwait

import (
	"math"
	"sync"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

const (
	learnedWeight  = 0.7
	computedWeight = 0.3

	afterWaitFactor   = 0.7
	afterScreenshot   = 0.2
	typeAfterTypeCap  = 0.2
	learnedSmoothing  = 0.3
	minLearnedSamples = 1
)

// baseSeconds is the wait that follows each action type by default.
var baseSeconds = map[schemas.ActionType]float64{
	schemas.ActionNavigate:   1.5,
	schemas.ActionClick:      1.0,
	schemas.ActionTypeText:   0.3,
	schemas.ActionScreenshot: 0.1,
	schemas.ActionScroll:     0.5,
	schemas.ActionWait:       0,
	schemas.ActionSendKeys:   0.3,
}

// Conditions describe the page and the action being waited on.
type Conditions struct {
	SlowPage   bool
	FastPage   bool
	AjaxHeavy  bool
	FormSubmit bool
	Login      bool
	Navigation bool
}

// multiplier folds all active conditions into one factor.
func (c Conditions) multiplier() float64 {
	m := 1.0
	if c.SlowPage {
		m *= 1.5
	}
	if c.FastPage {
		m *= 0.7
	}
	if c.AjaxHeavy {
		m *= 2.0
	}
	if c.FormSubmit {
		m *= 2.0
	}
	if c.Login {
		m *= 2.0
	}
	if c.Navigation {
		m *= 1.5
	}
	return m
}

// FromContext derives page-level conditions. Read-only detail and home
// pages without slow or ajax signals count as fast. Navigation and form
// submission are per-action and set by the caller.
func FromContext(ctx schemas.PageContext) Conditions {
	static := ctx.PageType == schemas.PageDetail || ctx.PageType == schemas.PageHome
	return Conditions{
		SlowPage:  ctx.IsSlowPage,
		FastPage:  static && !ctx.IsSlowPage && !ctx.IsAjaxHeavy,
		AjaxHeavy: ctx.IsAjaxHeavy,
		Login:     ctx.IsLoginPage,
	}
}

// Strategy computes per-action waits and learns from observed timings.
// It is safe for concurrent use.
type Strategy struct {
	mu      sync.RWMutex
	learned map[schemas.ActionType]learnedWait
}

type learnedWait struct {
	seconds float64
	samples int
}

func New() *Strategy {
	return &Strategy{learned: make(map[schemas.ActionType]learnedWait)}
}

// Base returns the unadjusted wait for an action type.
func Base(t schemas.ActionType) float64 {
	return baseSeconds[t]
}

// Clamp bounds a wait to the valid range.
func Clamp(seconds float64) float64 {
	return math.Min(schemas.MaxWaitSeconds, math.Max(schemas.MinWaitSeconds, seconds))
}

// For returns the wait to insert after current, given the action before it.
// A zero result means no wait is needed.
func (s *Strategy) For(current schemas.Action, prev *schemas.Action, cond Conditions) float64 {
	base := Base(current.Type)
	if base == 0 {
		return 0
	}
	w := base * cond.multiplier()

	if prev != nil {
		switch {
		case prev.Type == schemas.ActionWait:
			w *= afterWaitFactor
		case prev.Type == schemas.ActionScreenshot:
			w = math.Min(w, afterScreenshot)
		case prev.Type == schemas.ActionTypeText && current.Type == schemas.ActionTypeText:
			w = math.Min(w, typeAfterTypeCap)
		}
	}

	if l, ok := s.learnedFor(current.Type); ok {
		w = learnedWeight*l + computedWeight*w
	}
	return round2(Clamp(w))
}

func (s *Strategy) learnedFor(t schemas.ActionType) (float64, bool) {
	if s == nil {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.learned[t]
	if !ok || l.samples < minLearnedSamples {
		return 0, false
	}
	return l.seconds, true
}

// Learn folds an observed settle time for an action type into the register.
func (s *Strategy) Learn(t schemas.ActionType, observed float64) {
	if observed <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.learned[t]
	if l.samples == 0 {
		l.seconds = observed
	} else {
		l.seconds = (1-learnedSmoothing)*l.seconds + learnedSmoothing*observed
	}
	l.samples++
	s.learned[t] = l
}

// Reset forgets all learned waits.
func (s *Strategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.learned = make(map[schemas.ActionType]learnedWait)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
