package governor

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

const (
	similarityKnee   = 0.85
	similarityWeight = 0.3
	usageKnee        = 5
	usageWeight      = 0.1
	diversityKnee    = 0.3
	diversityWeight  = 0.2

	// Reuse with more than this many uses and a poor recent record is refused.
	staleUsage    = 3
	staleSuccess  = 0.5
	jitterLow     = 0.95
	outcomeWindow = 20
)

// Reason explains a governor decision.
type Reason string

const (
	ReasonAllowed       Reason = "allowed"
	ReasonDisabled      Reason = "disabled"
	ReasonLowConfidence Reason = "low_confidence"
	ReasonForcedFresh   Reason = "forced_fresh"
	ReasonStalePattern  Reason = "stale_pattern"
)

// Decision is the outcome of a reuse check.
type Decision struct {
	Allow    bool
	Adjusted float64
	Penalty  float64
	Reason   Reason
}

// Governor vetoes cache, memory and pattern reuse that looks like
// memorisation. It is safe for concurrent use.
type Governor struct {
	logger *zap.Logger
	cfg    config.GovernorConfig

	mu        sync.Mutex
	rnd       *rand.Rand
	usage     []string // ring of reuse checks, "" for refusals
	usageNext int
	recent    []string // ring of canonical task hashes
	recentPos int
	outcomes  map[string][]bool
	last      Decision
}

// New creates a governor. A nil rnd seeds from the clock.
func New(logger *zap.Logger, cfg config.GovernorConfig, rnd *rand.Rand) *Governor {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if cfg.UsageWindow <= 0 {
		cfg.UsageWindow = 50
	}
	if cfg.DiversityWindow <= 0 {
		cfg.DiversityWindow = 20
	}
	return &Governor{
		logger:   logger.Named("governor"),
		cfg:      cfg,
		rnd:      rnd,
		outcomes: make(map[string][]bool),
	}
}

// Penalty is the confidence penalty for a reuse at similarity s of a key used
// usage times, given the current diversity score.
func Penalty(s float64, usage int, diversity float64) float64 {
	return math.Max(0, s-similarityKnee)*similarityWeight +
		math.Max(0, float64(usage-usageKnee))*usageWeight +
		math.Max(0, diversityKnee-diversity)*diversityWeight
}

// Observe records an incoming task in the diversity window. Credentials and
// URLs are canonicalised first so only the task shape counts.
func (g *Governor) Observe(prompt, rawURL string) {
	sum := md5.Sum([]byte(taskparse.PatternKey(prompt, rawURL)))
	h := hex.EncodeToString(sum[:])

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.recent) < g.cfg.DiversityWindow {
		g.recent = append(g.recent, h)
		return
	}
	g.recent[g.recentPos] = h
	g.recentPos = (g.recentPos + 1) % g.cfg.DiversityWindow
}

// DiversityScore is the distinct share of the diversity window, 1.0 when empty.
func (g *Governor) DiversityScore() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.diversityLocked()
}

func (g *Governor) diversityLocked() float64 {
	if len(g.recent) == 0 {
		return 1.0
	}
	distinct := make(map[string]struct{}, len(g.recent))
	for _, h := range g.recent {
		distinct[h] = struct{}{}
	}
	return float64(len(distinct)) / float64(len(g.recent))
}

// Usage returns how often key was served from reuse within the usage window.
func (g *Governor) Usage(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usageLocked(key)
}

func (g *Governor) usageLocked(key string) int {
	n := 0
	for _, k := range g.usage {
		if k == key {
			n++
		}
	}
	return n
}

func (g *Governor) recordUseLocked(key string) {
	if len(g.usage) < g.cfg.UsageWindow {
		g.usage = append(g.usage, key)
		return
	}
	g.usage[g.usageNext] = key
	g.usageNext = (g.usageNext + 1) % g.cfg.UsageWindow
}

// RecordOutcome feeds a validated result for a pattern key.
func (g *Governor) RecordOutcome(key string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := append(g.outcomes[key], success)
	if len(list) > outcomeWindow {
		list = list[len(list)-outcomeWindow:]
	}
	g.outcomes[key] = list
}

// recentSuccessLocked reports the recent success rate; ok is false without data.
func (g *Governor) recentSuccessLocked(key string) (float64, bool) {
	list := g.outcomes[key]
	if len(list) == 0 {
		return 0, false
	}
	ok := 0
	for _, s := range list {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(list)), true
}

// Check decides whether a candidate reuse of key at similarity s may be
// served. Allowed reuses count towards the key's usage; every check advances
// the usage window.
func (g *Governor) Check(key string, s float64) Decision {
	if !g.cfg.Enabled {
		return Decision{Allow: true, Adjusted: s, Reason: ReasonDisabled}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	usage := g.usageLocked(key)
	penalty := Penalty(s, usage, g.diversityLocked())
	adjusted := math.Max(0, s-penalty)
	d := Decision{Adjusted: adjusted, Penalty: penalty, Reason: ReasonAllowed}

	switch {
	case s > g.cfg.HighSimilarity && g.rnd.Float64() < g.cfg.ForceFreshProbability:
		d.Reason = ReasonForcedFresh
	case g.staleLocked(key, usage):
		d.Reason = ReasonStalePattern
	}
	if s > g.cfg.HighSimilarity {
		d.Adjusted *= jitterLow + g.rnd.Float64()*(1-jitterLow)
	}
	if d.Reason == ReasonAllowed && d.Adjusted < g.cfg.MinConfidence {
		d.Reason = ReasonLowConfidence
	}

	d.Allow = d.Reason == ReasonAllowed
	if d.Allow {
		g.recordUseLocked(key)
	} else {
		// A refusal still advances the window so old uses age out.
		g.recordUseLocked("")
		g.logger.Debug("Reuse vetoed",
			zap.String("reason", string(d.Reason)),
			zap.Float64("similarity", s),
			zap.Float64("adjusted", d.Adjusted),
			zap.Int("usage", usage))
	}
	g.last = d
	return d
}

func (g *Governor) staleLocked(key string, usage int) bool {
	if usage <= staleUsage {
		return false
	}
	rate, ok := g.recentSuccessLocked(key)
	return ok && rate < staleSuccess
}

// ShouldPerturb reports whether a sequence served under decision d should
// have its timing perturbed.
func (g *Governor) ShouldPerturb(d Decision) bool {
	return g.cfg.Enabled && d.Adjusted < g.cfg.PerturbBelow
}

// Float64 draws from the governor's random source.
func (g *Governor) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

// Last returns the most recent decision, for diagnostics.
func (g *Governor) Last() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
