package persist

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteJSON encodes v to path through a temp file and rename, so readers
// never see a partial file.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadJSON decodes path into v. found is false when the file does not exist.
func ReadJSON(path string, v any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

// PatternsFile is the on-disk form of learned patterns and vector memory.
type PatternsFile struct {
	Patterns []memory.PatternStats `json:"patterns"`
	Memory   []memory.Record       `json:"memory,omitempty"`
	Saved    time.Time             `json:"saved"`
}

// PatternSink receives learned patterns on every flush.
type PatternSink interface {
	SavePatterns(ctx context.Context, patterns []memory.PatternStats) error
}

// Targets are the components whose state is persisted. Nil fields are
// skipped.
type Targets struct {
	Feedback *feedback.Loop
	Patterns *memory.PatternLearner
	Vector   *memory.VectorMemory
	Sink     PatternSink
}

// Persister loads advisory state at startup and flushes it periodically.
// Missing or corrupt files never stop the service.
type Persister struct {
	logger       *zap.Logger
	feedbackPath string
	patternsPath string
	interval     time.Duration
	Targets

	mu       sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New resolves the state directory, expanding a leading ~.
func New(logger *zap.Logger, cfg config.PersistenceConfig, targets Targets) (*Persister, error) {
	dir, err := cfg.ResolvedDir()
	if err != nil {
		return nil, fmt.Errorf("resolve persistence dir: %w", err)
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Persister{
		logger:       logger.Named("persist"),
		feedbackPath: filepath.Join(dir, cfg.FeedbackFile),
		patternsPath: filepath.Join(dir, cfg.PatternsFile),
		interval:     interval,
		Targets:      targets,
	}, nil
}

// Load restores whatever state is on disk.
func (p *Persister) Load() {
	if p.Feedback != nil {
		var st feedback.State
		found, err := ReadJSON(p.feedbackPath, &st)
		switch {
		case err != nil:
			p.logger.Warn("Ignoring unreadable feedback state", zap.String("path", p.feedbackPath), zap.Error(err))
		case found:
			p.Feedback.Restore(st)
			p.logger.Info("Restored feedback state", zap.Int("patterns", len(st.Patterns)), zap.Int("outcomes", st.Total))
		}
	}

	if p.Patterns == nil && p.Vector == nil {
		return
	}
	var pf PatternsFile
	found, err := ReadJSON(p.patternsPath, &pf)
	if err != nil {
		p.logger.Warn("Ignoring unreadable patterns state", zap.String("path", p.patternsPath), zap.Error(err))
		return
	}
	if !found {
		return
	}
	if p.Patterns != nil {
		p.Patterns.Restore(pf.Patterns)
	}
	if p.Vector != nil {
		p.Vector.Restore(pf.Memory)
	}
	p.logger.Info("Restored learned patterns", zap.Int("patterns", len(pf.Patterns)), zap.Int("memory", len(pf.Memory)))
}

// Flush writes the current state. Errors are joined; every target is tried.
func (p *Persister) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.Feedback != nil {
		if err := WriteJSON(p.feedbackPath, p.Feedback.Snapshot()); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Patterns != nil || p.Vector != nil {
		pf := PatternsFile{Saved: time.Now().UTC()}
		if p.Patterns != nil {
			pf.Patterns = p.Patterns.Snapshot()
		}
		if p.Vector != nil {
			pf.Memory = p.Vector.Snapshot()
		}
		if err := WriteJSON(p.patternsPath, pf); err != nil {
			errs = append(errs, err)
		}
		if p.Sink != nil && len(pf.Patterns) > 0 {
			if err := p.Sink.SavePatterns(ctx, pf.Patterns); err != nil {
				errs = append(errs, fmt.Errorf("save patterns to database: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// Start flushes every interval until Stop.
func (p *Persister) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.Flush(ctx); err != nil {
					p.logger.Warn("Periodic flush failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the flush loop and writes a final snapshot.
func (p *Persister) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		p.wg.Wait()
		if err := p.Flush(ctx); err != nil {
			p.logger.Warn("Final flush failed", zap.Error(err))
		}
	})
}
