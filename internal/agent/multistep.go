package agent

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

var (
	navStep   = regexp.MustCompile(`(?i)^(?:go\s+to|navigate\s+to|open|visit)\s+(?:the\s+)?(.+?)(?:\s+page)?$`)
	loginStep = regexp.MustCompile(`(?i)\b(log(?:ging)?\s*in|sign(?:ing)?\s*in|login)\b`)
)

// needsLogin are step kinds that only work for an authenticated user.
var needsLogin = map[schemas.TaskType]bool{
	schemas.TaskModify:   true,
	schemas.TaskComment:  true,
	schemas.TaskSocial:   true,
	schemas.TaskBooking:  true,
	schemas.TaskJobApply: true,
	schemas.TaskForm:     true,
}

// planStep is one decomposed step and the steps it depends on.
type planStep struct {
	index int
	text  string
	kind  schemas.TaskType
	nav   string
	deps  []int
}

// planSteps classifies steps and orders them so that every dependency runs
// first. The order is otherwise the prompt's.
func planSteps(texts []string) []planStep {
	steps := make([]planStep, len(texts))
	login, lastNav := -1, -1
	for i, t := range texts {
		s := planStep{index: i, text: t, kind: taskparse.ClassifySingle(t)}
		if m := navStep.FindStringSubmatch(t); m != nil {
			s.nav = strings.TrimSpace(m[1])
		}
		if s.kind != schemas.TaskLogin && s.kind != schemas.TaskRegister && loginStep.MatchString(t) {
			s.kind = schemas.TaskLogin
		}
		if s.kind == schemas.TaskLogin && login < 0 {
			login = i
		}
		steps[i] = s
	}
	for i := range steps {
		s := &steps[i]
		if login >= 0 && i != login && needsLogin[s.kind] {
			s.deps = append(s.deps, login)
		}
		if s.nav != "" {
			lastNav = i
		} else if lastNav >= 0 {
			s.deps = append(s.deps, lastNav)
		}
	}
	return topoSort(steps)
}

// topoSort is Kahn's algorithm picking the lowest ready index each round.
// Steps caught in a cycle keep their original order at the end.
func topoSort(steps []planStep) []planStep {
	placed := make([]bool, len(steps))
	out := make([]planStep, 0, len(steps))
	for len(out) < len(steps) {
		progressed := false
		for i, s := range steps {
			if placed[i] || !depsPlaced(s, placed) {
				continue
			}
			placed[i] = true
			out = append(out, s)
			progressed = true
			break
		}
		if !progressed {
			for i, s := range steps {
				if !placed[i] {
					placed[i] = true
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func depsPlaced(s planStep, placed []bool) bool {
	for _, d := range s.deps {
		if !placed[d] {
			return false
		}
	}
	return true
}

// buildMultiStep runs a single-step handler per step, separated by a wait
// and a screenshot.
func (r *HandlerRegistry) buildMultiStep(b *builder) {
	steps := planSteps(b.p.Complexity.Steps)
	for i, s := range steps {
		if i > 0 {
			b.pause()
			b.shot()
		}
		if s.nav != "" {
			b.navigate(s.nav)
			continue
		}
		name, body := r.dispatchSingle(r.subTask(b.p, s))
		r.logger.Debug("Step planned",
			zap.Int("step", i),
			zap.String("handler", name),
			zap.String("text", s.text))
		b.add(body...)
	}
}

// navigate follows a link by label, or loads the page when given a URL.
func (b *builder) navigate(target string) {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		b.add(schemas.Navigate(target))
	} else {
		b.button(capitalize(target), target)
	}
	b.settle()
}

// subTask prepares one step, inheriting what the step itself omits.
func (r *HandlerRegistry) subTask(parent *Prepared, s planStep) *Prepared {
	parsed := r.parser.Parse(s.text, parent.URL())
	parsed.TaskType = s.kind
	if parsed.Credentials.IsZero() {
		parsed.Credentials = parent.Parsed.Credentials
	}
	if len(parsed.FormFields) == 0 && needsLogin[s.kind] {
		parsed.FormFields = parent.Parsed.FormFields
	}
	return &Prepared{
		Task:       Task{ID: parent.Task.ID, Prompt: s.text, URL: parent.URL()},
		Parsed:     parsed,
		Detection:  parent.Detection,
		Complexity: taskparse.Complexity{Level: taskparse.ComplexityLow, Steps: []string{s.text}},
		Live:       parent.Live,
		SelfTest:   parent.SelfTest,
	}
}

// dispatchSingle never recurses into the multi-step handler.
func (r *HandlerRegistry) dispatchSingle(p *Prepared) (string, []schemas.Action) {
	for _, h := range r.handlers {
		if h.Name == "multi_step" || !h.Match(p) {
			continue
		}
		if body, err := r.run(h, p); err == nil {
			return h.Name, body
		}
		break
	}
	body, _ := r.run(r.fallback, p)
	return r.fallback.Name, body
}
