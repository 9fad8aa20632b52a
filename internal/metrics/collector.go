package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

const (
	defaultWindow = 1000
	defaultRecent = 50
)

// Sample is one solved request as shown on the dashboard.
type Sample struct {
	Tier      schemas.Tier `json:"tier"`
	ElapsedMS float64      `json:"elapsed_ms"`
	Success   bool         `json:"success"`
	At        time.Time    `json:"at"`
}

// TimingStats summarizes the latency window in milliseconds.
type TimingStats struct {
	Avg float64 `json:"avg_ms"`
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
	Max float64 `json:"max_ms"`
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalRequests int64            `json:"total_requests"`
	Successful    int64            `json:"successful"`
	Failed        int64            `json:"failed"`
	SuccessRate   float64          `json:"success_rate"`
	ReuseRate     float64          `json:"reuse_rate"`
	ByTier        map[string]int64 `json:"by_tier"`
	Timing        TimingStats      `json:"timing"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Recent        []Sample         `json:"recent,omitempty"`
}

// Collector keeps request counters behind a single lock. Updates are O(1);
// percentiles are computed on read.
type Collector struct {
	mu      sync.Mutex
	started time.Time
	now     func() time.Time

	total   int64
	success int64
	byTier  map[schemas.Tier]int64

	latencies []float64
	next      int
	filled    bool

	recent     []Sample
	recentNext int
	recentFull bool
}

// New returns a collector with a latency window of window samples and a
// recent-request ring of recent entries. Zero picks the defaults.
func New(window, recent int) *Collector {
	if window <= 0 {
		window = defaultWindow
	}
	if recent <= 0 {
		recent = defaultRecent
	}
	return &Collector{
		started:   time.Now(),
		now:       time.Now,
		byTier:    make(map[schemas.Tier]int64),
		latencies: make([]float64, window),
		recent:    make([]Sample, recent),
	}
}

// Record implements the router's recorder.
func (c *Collector) Record(tier schemas.Tier, elapsed time.Duration, success bool) {
	ms := float64(elapsed) / float64(time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if success {
		c.success++
	}
	c.byTier[tier]++

	c.latencies[c.next] = ms
	c.next = (c.next + 1) % len(c.latencies)
	if c.next == 0 {
		c.filled = true
	}

	c.recent[c.recentNext] = Sample{Tier: tier, ElapsedMS: ms, Success: success, At: c.now()}
	c.recentNext = (c.recentNext + 1) % len(c.recent)
	if c.recentNext == 0 {
		c.recentFull = true
	}
}

func (c *Collector) windowLocked() []float64 {
	if c.filled {
		return append([]float64(nil), c.latencies...)
	}
	return append([]float64(nil), c.latencies[:c.next]...)
}

// AvgResponseTime is the mean over the latency window.
func (c *Collector) AvgResponseTime() time.Duration {
	c.mu.Lock()
	w := c.windowLocked()
	c.mu.Unlock()
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return time.Duration(sum / float64(len(w)) * float64(time.Millisecond))
}

// SuccessRate is the share of requests that produced a sequence, 1 with no
// traffic.
func (c *Collector) SuccessRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total == 0 {
		return 1
	}
	return float64(c.success) / float64(c.total)
}

// Snapshot copies the counters. Recent samples are newest first.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalRequests: c.total,
		Successful:    c.success,
		Failed:        c.total - c.success,
		ByTier:        make(map[string]int64, len(c.byTier)),
		Timing:        computeTiming(c.windowLocked()),
		UptimeSeconds: math.Round(c.now().Sub(c.started).Seconds()),
	}
	var reused int64
	for tier, n := range c.byTier {
		s.ByTier[string(tier)] = n
		switch tier {
		case schemas.TierCache, schemas.TierMemory, schemas.TierPattern:
			reused += n
		}
	}
	if c.total > 0 {
		s.SuccessRate = round3(float64(c.success) / float64(c.total))
		s.ReuseRate = round3(float64(reused) / float64(c.total))
	}

	n := c.recentNext
	if c.recentFull {
		n = len(c.recent)
	}
	for i := 0; i < n; i++ {
		idx := (c.recentNext - 1 - i + len(c.recent)) % len(c.recent)
		s.Recent = append(s.Recent, c.recent[idx])
	}
	return s
}

func computeTiming(latencies []float64) TimingStats {
	if len(latencies) == 0 {
		return TimingStats{}
	}
	sort.Float64s(latencies)
	var sum float64
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return TimingStats{
		Avg: round3(sum / float64(n)),
		P50: round3(percentile(latencies, 0.50)),
		P95: round3(percentile(latencies, 0.95)),
		P99: round3(percentile(latencies, 0.99)),
		Max: latencies[n-1],
	}
}

// percentile interpolates linearly between the closest ranks of a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	fraction := index - float64(lower)
	return sorted[lower]*(1-fraction) + sorted[upper]*fraction
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
