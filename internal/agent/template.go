package agent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/actions"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

// criticalIntent names the button a task of the given type must press.
var criticalIntent = map[schemas.TaskType]string{
	schemas.TaskBooking:  "book",
	schemas.TaskLogin:    "login",
	schemas.TaskRegister: "register",
}

// TemplateAgent builds sequences from deterministic per-task handlers.
type TemplateAgent struct {
	logger   *zap.Logger
	registry *HandlerRegistry
	pipeline *actions.Pipeline
}

func NewTemplateAgent(logger *zap.Logger, registry *HandlerRegistry, pipeline *actions.Pipeline) *TemplateAgent {
	return &TemplateAgent{
		logger:   logger.Named("template_agent"),
		registry: registry,
		pipeline: pipeline,
	}
}

func (t *TemplateAgent) Tier() schemas.Tier { return schemas.TierTemplate }

// Generate dispatches to a handler, frames the body with the navigation
// prefix and runs the action pipeline.
func (t *TemplateAgent) Generate(ctx context.Context, p *Prepared) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, body := t.registry.Dispatch(p)
	seq := append(navigationPrefix(p), body...)
	seq = EnsureCritical(seq, p.Parsed.TaskType)
	if len(seq) == 0 || seq[len(seq)-1].Type != schemas.ActionScreenshot {
		seq = append(seq, schemas.Screenshot())
	}
	out := t.pipeline.Process(seq, p.Options())
	t.logger.Debug("Template generated",
		zap.String("handler", name),
		zap.String("task_type", string(p.Parsed.TaskType)),
		zap.Int("actions", len(out)))
	return &Result{Actions: out, Tier: schemas.TierTemplate}, nil
}

// navigationPrefix opens the target and captures it once loaded.
func navigationPrefix(p *Prepared) []schemas.Action {
	url := p.URL()
	if url == "" {
		return nil
	}
	return []schemas.Action{
		schemas.Navigate(url),
		schemas.Wait(p.Strategy().WaitAfterNavigation),
		schemas.Screenshot(),
	}
}

// EnsureCritical makes sure booking, login and registration sequences press
// their decisive button. A missing click is inserted before the trailing
// screenshot.
func EnsureCritical(seq []schemas.Action, taskType schemas.TaskType) []schemas.Action {
	intent, ok := criticalIntent[taskType]
	if !ok {
		return seq
	}
	labels := selectors.Synonyms(intent)
	for _, a := range seq {
		if a.Type == schemas.ActionClick && a.Selector != nil && pressesAny(*a.Selector, labels) {
			return seq
		}
	}
	sels := selectors.Buttons(labels...)
	click := schemas.Click(sels[0])
	click.Alternatives = append(sels[1:], schemas.Attr("type", "submit"))
	insert := []schemas.Action{click, schemas.Wait(1)}

	at := len(seq)
	if at > 0 && seq[at-1].Type == schemas.ActionScreenshot {
		at--
	}
	out := make([]schemas.Action, 0, len(seq)+len(insert))
	out = append(out, seq[:at]...)
	out = append(out, insert...)
	return append(out, seq[at:]...)
}

func pressesAny(sel schemas.Selector, labels []string) bool {
	v := strings.ToLower(sel.Value)
	if sel.Type == schemas.SelectorAttributeValue && sel.Attribute == "type" && v == "submit" {
		return true
	}
	for _, l := range labels {
		if strings.Contains(v, strings.ToLower(l)) {
			return true
		}
	}
	return false
}
