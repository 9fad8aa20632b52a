package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/actions"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/detect"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

// Task is one synthesis request as seen by the agents.
type Task struct {
	ID     string
	Prompt string
	URL    string
}

// Result is a generated sequence and the tier that produced it.
type Result struct {
	Actions []schemas.Action
	Tier    schemas.Tier
	// Score is the ensemble score of the winning candidate, zero otherwise.
	Score float64
}

// Agent turns a prepared task into an action sequence.
type Agent interface {
	Tier() schemas.Tier
	Generate(ctx context.Context, p *Prepared) (*Result, error)
}

// LiveSource grounds selectors in the target page.
type LiveSource interface {
	Selectors(ctx context.Context, url, intent string, taskType schemas.TaskType) []schemas.LiveSelector
}

// Prepared is everything derived from a task before any generator runs. It
// is read-only once built and shared by every tier of a request.
type Prepared struct {
	Task       Task
	Parsed     schemas.ParsedTask
	Detection  detect.Detection
	Complexity taskparse.Complexity
	Live       []schemas.LiveSelector
	SelfTest   bool
}

// URL is the effective target: the request URL or the inferred one.
func (p *Prepared) URL() string {
	if p.Parsed.URL != "" {
		return p.Parsed.URL
	}
	return p.Task.URL
}

// Strategy is the composed per-request strategy.
func (p *Prepared) Strategy() schemas.Strategy { return p.Detection.Strategy }

// Options returns the pipeline options for this request.
func (p *Prepared) Options() actions.Options {
	return actions.Options{
		URL:      p.URL(),
		Strategy: p.Detection.Strategy,
		Context:  p.Detection.Context,
		Live:     p.Live,
	}
}

// Preparer parses, detects and optionally grounds a task.
type Preparer struct {
	logger   *zap.Logger
	cfg      config.AgentConfig
	parser   *taskparse.Parser
	detector *detect.WebsiteDetector
	live     LiveSource
}

// NewPreparer builds a preparer. live may be nil.
func NewPreparer(logger *zap.Logger, cfg config.AgentConfig, parser *taskparse.Parser, detector *detect.WebsiteDetector, live LiveSource) *Preparer {
	return &Preparer{
		logger:   logger.Named("preparer"),
		cfg:      cfg,
		parser:   parser,
		detector: detector,
		live:     live,
	}
}

// Prepare runs parsing and detection. Live grounding is deferred to Ground
// so reuse tiers never pay for a page fetch.
func (pr *Preparer) Prepare(task Task) *Prepared {
	parsed := pr.parser.Parse(task.Prompt, task.URL)
	p := &Prepared{
		Task:       task,
		Parsed:     parsed,
		Complexity: taskparse.AnalyzeComplexity(task.Prompt),
		SelfTest:   pr.IsSelfTest(task.Prompt),
	}
	p.Detection = pr.detector.Analyze(p.URL(), task.Prompt, parsed.TaskType)
	return p
}

// Ground attaches live selectors unless live analysis is off, the prompt is
// a self-test, or no URL is known.
func (pr *Preparer) Ground(ctx context.Context, p *Prepared) {
	if pr.live == nil || !pr.cfg.LiveAnalysis || p.SelfTest || p.URL() == "" || p.Live != nil {
		return
	}
	p.Live = pr.live.Selectors(ctx, p.URL(), p.Task.Prompt, p.Parsed.TaskType)
}

// IsSelfTest reports whether prompt carries a configured self-test marker.
func (pr *Preparer) IsSelfTest(prompt string) bool {
	lower := strings.ToLower(prompt)
	for _, m := range pr.cfg.SelfTestMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
