package actions

import (
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/smartwait"
)

// Pipeline is the post-generation path every sequence takes before it is
// returned: live override, validation, then optimization.
type Pipeline struct {
	logger    *zap.Logger
	optimizer *Optimizer
}

func NewPipeline(logger *zap.Logger, waits *smartwait.Strategy) *Pipeline {
	return &Pipeline{
		logger:    logger.Named("action_pipeline"),
		optimizer: NewOptimizer(waits),
	}
}

// Process runs the pipeline on typed actions. The result is never empty.
func (p *Pipeline) Process(in []schemas.Action, opts Options) []schemas.Action {
	xs := ApplyLive(in, opts.Live)
	xs = Validate(p.logger, xs)
	xs = p.optimizer.Optimize(xs, opts)
	p.logger.Debug("Pipeline finished",
		zap.Int("in", len(in)),
		zap.Int("out", len(xs)))
	return xs
}

// ProcessRaw converts internal action shapes first.
func (p *Pipeline) ProcessRaw(raw []map[string]any, opts Options) []schemas.Action {
	return p.Process(Convert(raw), opts)
}

// Optimize exposes the optimizer for sequences that are already valid.
func (p *Pipeline) Optimize(in []schemas.Action, opts Options) []schemas.Action {
	return p.optimizer.Optimize(in, opts)
}
