package memory

import (
	"crypto/md5"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

const (
	sameDomainBonus = 0.05
	actionWordBonus = 0.10
)

// actionWords earn a similarity bonus when both prompts contain one.
var actionWords = []string{"login", "click", "type", "submit", "search", "fill", "select", "navigate"}

// Gate decides whether a reuse may be served.
type Gate interface {
	Check(key string, similarity float64) governor.Decision
}

// CacheEntry is one cached action sequence.
type CacheEntry struct {
	Key              string
	PatternKey       string
	NormalizedPrompt string
	Domain           string
	Actions          []schemas.Action
	// Task holds the values the actions were generated with, so a hit for a
	// prompt with other credentials can be rebound.
	Task      schemas.ParsedTask
	Timestamp time.Time
	keywords  map[string]bool
}

// Hit is a cache lookup result. Actions are a private copy.
type Hit struct {
	Entry      CacheEntry
	Similarity float64
	Exact      bool
	Decision   governor.Decision
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Vetoed    int64   `json:"vetoed"`
	Size      int     `json:"size"`
	HitRate   float64 `json:"hit_rate"`
	Threshold float64 `json:"threshold"`
	TTL       float64 `json:"ttl_seconds"`
}

// SemanticCache maps normalized prompts to action sequences, matching either
// exactly or by keyword similarity. It is safe for concurrent use.
type SemanticCache struct {
	logger *zap.Logger
	cfg    config.CacheConfig
	gate   Gate
	now    func() time.Time

	mu        sync.Mutex
	entries   *lru[string, *CacheEntry]
	keywords  *lru[string, map[string]bool]
	threshold float64
	ttl       time.Duration
	hits      int64
	misses    int64
	vetoed    int64

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSemanticCache creates a cache. gate may be nil to disable governance.
// The expiry janitor must be started with Start.
func NewSemanticCache(logger *zap.Logger, cfg config.CacheConfig, gate Gate) *SemanticCache {
	return &SemanticCache{
		logger:    logger.Named("semantic_cache"),
		cfg:       cfg,
		gate:      gate,
		now:       time.Now,
		entries:   newLRU[string, *CacheEntry](cfg.MaxSize),
		keywords:  newLRU[string, map[string]bool](cfg.KeywordCacheSize),
		threshold: cfg.SimilarityThreshold,
		ttl:       cfg.TTL,
		stopChan:  make(chan struct{}),
	}
}

// CacheKey is md5(normalize(prompt)|domain(url)).
func CacheKey(prompt, rawURL string) string {
	sum := md5.Sum([]byte(taskparse.PatternKey(prompt, rawURL)))
	return hex.EncodeToString(sum[:])
}

func (c *SemanticCache) keywordsLocked(normalized string) map[string]bool {
	if kw, ok := c.keywords.Get(normalized); ok {
		return kw
	}
	kw := taskparse.KeywordSet(normalized)
	c.keywords.Add(normalized, kw)
	return kw
}

func (c *SemanticCache) expiredLocked(e *CacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.Timestamp) > c.ttl
}

// Similarity scores two keyword sets with the domain and action-word bonuses.
func Similarity(a, b map[string]bool, sameDomain bool) float64 {
	s := taskparse.Jaccard(a, b)
	if sameDomain {
		s += sameDomainBonus
	}
	for _, w := range actionWords {
		if a[w] && b[w] {
			s += actionWordBonus
			break
		}
	}
	return math.Min(1.0, s)
}

// Get looks up a sequence for the prompt. Every candidate is re-checked by
// the gate; a vetoed candidate counts as a miss.
func (c *SemanticCache) Get(prompt, rawURL string) (Hit, bool) {
	if !c.cfg.Enabled {
		return Hit{}, false
	}
	normalized := taskparse.Normalize(prompt)
	domain := taskparse.Domain(rawURL)
	key := CacheKey(prompt, rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		best    *CacheEntry
		bestSim float64
		exact   bool
	)
	if e, ok := c.entries.Peek(key); ok {
		if c.expiredLocked(e) {
			c.entries.Remove(key)
		} else {
			best, bestSim, exact = e, 1.0, true
		}
	}

	if best == nil {
		query := c.keywordsLocked(normalized)
		c.entries.Each(func(_ string, e *CacheEntry) bool {
			if c.expiredLocked(e) {
				return true
			}
			if s := Similarity(query, e.keywords, e.Domain == domain); s > bestSim {
				best, bestSim = e, s
			}
			return true
		})
		if best != nil && bestSim < c.threshold {
			best = nil
		}
	}

	if best == nil {
		c.misses++
		return Hit{}, false
	}

	hit := Hit{Similarity: bestSim, Exact: exact}
	if c.gate != nil {
		hit.Decision = c.gate.Check(best.PatternKey, bestSim)
		if !hit.Decision.Allow {
			c.misses++
			c.vetoed++
			c.logger.Debug("Cache hit vetoed",
				zap.String("reason", string(hit.Decision.Reason)),
				zap.Float64("similarity", bestSim))
			return Hit{Decision: hit.Decision}, false
		}
	} else {
		hit.Decision = governor.Decision{Allow: true, Adjusted: bestSim, Reason: governor.ReasonDisabled}
	}

	c.entries.Touch(best.Key)
	c.hits++
	hit.Entry = *best
	hit.Entry.Actions = schemas.CloneActions(best.Actions)
	hit.Entry.keywords = nil
	return hit, true
}

// Put stores a sequence for the prompt, replacing any previous entry.
func (c *SemanticCache) Put(prompt, rawURL string, actions []schemas.Action, task schemas.ParsedTask) {
	if !c.cfg.Enabled || len(actions) == 0 {
		return
	}
	normalized := taskparse.Normalize(prompt)
	domain := taskparse.Domain(rawURL)
	e := &CacheEntry{
		Key:              CacheKey(prompt, rawURL),
		PatternKey:       normalized + "|" + domain,
		NormalizedPrompt: normalized,
		Domain:           domain,
		Actions:          schemas.CloneActions(actions),
		Task:             task,
		Timestamp:        c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e.keywords = c.keywordsLocked(normalized)
	if n := c.entries.Add(e.Key, e); n > 0 {
		c.logger.Debug("Evicted cache entries", zap.Int("count", n))
	}
}

// PurgeExpired drops entries older than the TTL.
func (c *SemanticCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.RemoveIf(func(_ string, e *CacheEntry) bool { return c.expiredLocked(e) })
}

// SetThreshold clamps and applies a new similarity threshold.
func (c *SemanticCache) SetThreshold(v float64) float64 {
	v = math.Max(c.cfg.MinThreshold, math.Min(c.cfg.MaxThreshold, v))
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = v
	return v
}

// SetTTL clamps and applies a new entry lifetime.
func (c *SemanticCache) SetTTL(d time.Duration) time.Duration {
	if d < c.cfg.MinTTL {
		d = c.cfg.MinTTL
	}
	if c.cfg.MaxTTL > 0 && d > c.cfg.MaxTTL {
		d = c.cfg.MaxTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = d
	return d
}

func (c *SemanticCache) Threshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

func (c *SemanticCache) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// Stats returns a counter snapshot.
func (c *SemanticCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Vetoed:    c.vetoed,
		Size:      c.entries.Len(),
		Threshold: c.threshold,
		TTL:       c.ttl.Seconds(),
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

// Start launches the background expiry janitor.
func (c *SemanticCache) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := c.PurgeExpired(); n > 0 {
					c.logger.Debug("Purged expired cache entries", zap.Int("count", n))
				}
			case <-c.stopChan:
				return
			}
		}
	}()
}

// Stop shuts the janitor down. It is safe to call multiple times.
func (c *SemanticCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
}
