package selectors

import (
	"sort"
	"strings"
	"sync"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// SelectorStats counts validated outcomes for one selector.
type SelectorStats struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

// Rate is the Laplace-smoothed success rate, 0.5 with no data.
func (s SelectorStats) Rate() float64 {
	return (float64(s.Success) + 1) / (float64(s.Total) + 2)
}

// Ranker orders selector candidates by their feedback history.
// It is safe for concurrent use.
type Ranker struct {
	mu    sync.RWMutex
	stats map[string]SelectorStats
}

func NewRanker() *Ranker {
	return &Ranker{stats: make(map[string]SelectorStats)}
}

func rankKey(s schemas.Selector) string {
	return strings.ToLower(s.Key())
}

// Record adds one outcome for a selector.
func (r *Ranker) Record(sel schemas.Selector, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := rankKey(sel)
	st := r.stats[k]
	st.Total++
	if success {
		st.Success++
	}
	r.stats[k] = st
}

// Stats returns the counters for a selector.
func (r *Ranker) Stats(sel schemas.Selector) SelectorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats[rankKey(sel)]
}

// Best returns the candidate with the highest smoothed success rate among
// those with history. ok is false when no candidate has any.
func (r *Ranker) Best(candidates []schemas.Selector) (schemas.Selector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best schemas.Selector
	bestRate, found := -1.0, false
	for _, c := range candidates {
		st, ok := r.stats[rankKey(c)]
		if !ok || st.Total == 0 {
			continue
		}
		if rate := st.Rate(); rate > bestRate {
			best, bestRate, found = c, rate, true
		}
	}
	return best, found
}

// Rank sorts candidates by smoothed success rate, stable for ties.
func (r *Ranker) Rank(candidates []schemas.Selector) []schemas.Selector {
	out := append([]schemas.Selector(nil), candidates...)
	r.mu.RLock()
	defer r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return r.stats[rankKey(out[i])].Rate() > r.stats[rankKey(out[j])].Rate()
	})
	return out
}

// Snapshot copies all counters, e.g. for persistence.
func (r *Ranker) Snapshot() map[string]SelectorStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]SelectorStats, len(r.stats))
	for k, v := range r.stats {
		out[k] = v
	}
	return out
}

// Restore replaces counters from a snapshot.
func (r *Ranker) Restore(snap map[string]SelectorStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[string]SelectorStats, len(snap))
	for k, v := range snap {
		r.stats[k] = v
	}
}
