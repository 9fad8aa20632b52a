package feedback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
)

const (
	lowHitRate     = 0.3
	highHitRate    = 0.7
	lowSuccessRate = 0.5
)

// LatencySource reports the recent average response time.
type LatencySource interface {
	AvgResponseTime() time.Duration
}

// SuccessSource reports the validated success rate.
type SuccessSource interface {
	SuccessRate() (float64, bool)
}

// Adjustment describes one tuning pass.
type Adjustment struct {
	AvgResponse  time.Duration
	HitRate      float64
	SuccessRate  float64
	Threshold    float64
	TTL          time.Duration
	ThresholdDir int
	TTLDir       int
}

// Tuner periodically nudges the semantic cache's similarity threshold and
// TTL toward the response-time target.
type Tuner struct {
	logger   *zap.Logger
	cfg      config.TunerConfig
	cache    *memory.SemanticCache
	latency  LatencySource
	outcomes SuccessSource

	wg       sync.WaitGroup
	stopOnce sync.Once
	cancel   context.CancelFunc
}

func NewTuner(logger *zap.Logger, cfg config.TunerConfig, cache *memory.SemanticCache, latency LatencySource, outcomes SuccessSource) *Tuner {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.TargetResponseTime <= 0 {
		cfg.TargetResponseTime = 1500 * time.Millisecond
	}
	if cfg.TTLStep <= 0 {
		cfg.TTLStep = time.Minute
	}
	if cfg.ThresholdStep <= 0 {
		cfg.ThresholdStep = 0.01
	}
	return &Tuner{
		logger:   logger.Named("tuner"),
		cfg:      cfg,
		cache:    cache,
		latency:  latency,
		outcomes: outcomes,
	}
}

// Tune runs one pass. The threshold rises when responses are slow and the
// cache rarely hits; it falls when the cache hits often but validated
// success is low. The TTL grows while responses are slower than the target
// and shrinks otherwise.
func (t *Tuner) Tune() Adjustment {
	st := t.cache.Stats()
	adj := Adjustment{
		HitRate:     st.HitRate,
		SuccessRate: 1,
		Threshold:   st.Threshold,
		TTL:         time.Duration(st.TTL * float64(time.Second)),
	}
	if t.latency != nil {
		adj.AvgResponse = t.latency.AvgResponseTime()
	}
	if t.outcomes != nil {
		if rate, ok := t.outcomes.SuccessRate(); ok {
			adj.SuccessRate = rate
		}
	}
	if adj.AvgResponse == 0 {
		return adj
	}
	slow := adj.AvgResponse > t.cfg.TargetResponseTime

	switch {
	case slow && adj.HitRate < lowHitRate:
		adj.ThresholdDir = 1
	case adj.SuccessRate < lowSuccessRate && adj.HitRate > highHitRate:
		adj.ThresholdDir = -1
	}
	if adj.ThresholdDir != 0 {
		adj.Threshold = t.cache.SetThreshold(st.Threshold + float64(adj.ThresholdDir)*t.cfg.ThresholdStep)
	}

	if slow {
		adj.TTLDir = 1
	} else {
		adj.TTLDir = -1
	}
	adj.TTL = t.cache.SetTTL(adj.TTL + time.Duration(adj.TTLDir)*t.cfg.TTLStep)

	t.logger.Info("Tuned semantic cache",
		zap.Duration("avg_response", adj.AvgResponse),
		zap.Float64("hit_rate", adj.HitRate),
		zap.Float64("success_rate", adj.SuccessRate),
		zap.Float64("threshold", adj.Threshold),
		zap.Duration("ttl", adj.TTL))
	return adj
}

// Start runs Tune on every interval until ctx is done or Stop is called.
func (t *Tuner) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Tune()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background loop and waits for it. Safe to call repeatedly.
func (t *Tuner) Stop() {
	t.stopOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
	})
}
