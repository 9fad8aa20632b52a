package agent

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
	"github.com/irun2themoney/autoppia-miner/internal/taskparse"
)

// Handler builds the body of a template sequence for one kind of task. The
// navigation prefix is added by the template agent.
type Handler struct {
	Name  string
	Match func(p *Prepared) bool
	Build func(b *builder)
}

// -- Handler Registry --

// HandlerRegistry dispatches a prepared task to the first matching handler.
type HandlerRegistry struct {
	logger   *zap.Logger
	cfg      config.AgentConfig
	parser   *taskparse.Parser
	handlers []Handler
	fallback Handler
}

// NewHandlerRegistry creates a registry with the built-in handlers in
// priority order.
func NewHandlerRegistry(logger *zap.Logger, cfg config.AgentConfig, parser *taskparse.Parser) *HandlerRegistry {
	r := &HandlerRegistry{
		logger: logger.Named("handler_registry"),
		cfg:    cfg,
		parser: parser,
	}
	r.fallback = Handler{Name: "default", Match: func(*Prepared) bool { return true }, Build: buildDefault}
	r.register(
		Handler{"booking", taskIs(schemas.TaskBooking), buildBooking},
		Handler{"registration", taskIs(schemas.TaskRegister), buildRegistration},
		Handler{"job", taskIs(schemas.TaskJobApply, schemas.TaskJobView, schemas.TaskJobSearch), buildJob},
		Handler{"login", taskIs(schemas.TaskLogin), buildLogin},
		Handler{"form", taskIs(schemas.TaskForm), buildForm},
		Handler{"modify", taskIs(schemas.TaskModify), buildModify},
		Handler{"filter", taskIs(schemas.TaskFilter), buildFilter},
		Handler{"search", taskIs(schemas.TaskSearch), buildSearch},
		Handler{"comment", taskIs(schemas.TaskComment), buildComment},
		Handler{"social", taskIs(schemas.TaskSocial), buildSocial},
		Handler{"click", taskIs(schemas.TaskClick), buildClick},
		Handler{"type", taskIs(schemas.TaskTypeText), buildType},
		Handler{"scroll", promptHas("scroll"), buildScroll},
		Handler{"extract", taskIs(schemas.TaskExtract), buildExtract},
		Handler{"calendar", taskIs(schemas.TaskCalendar), buildCalendar},
		Handler{"view", promptHas("view", "open ", " see "), buildView},
		Handler{"file_upload", promptHas("upload", "attach"), buildUpload},
		Handler{"modal", promptHas("modal", "popup", "pop-up", "dialog"), buildModal},
		Handler{"tab", promptHas(" tab ", " tabs ", " tab."), buildTab},
		Handler{"pagination", promptHas("next page", "previous page", "page ", "pagination"), buildPagination},
		Handler{"multi_step", isMultiStep, r.buildMultiStep},
	)
	return r
}

func (r *HandlerRegistry) register(hs ...Handler) {
	r.handlers = append(r.handlers, hs...)
}

// Register appends a handler after the built-in ones.
func (r *HandlerRegistry) Register(h Handler) {
	r.register(h)
}

// Names lists the handlers in dispatch order.
func (r *HandlerRegistry) Names() []string {
	out := make([]string, 0, len(r.handlers)+1)
	for _, h := range r.handlers {
		out = append(out, h.Name)
	}
	return append(out, r.fallback.Name)
}

// Dispatch builds the body for p with the first matching handler. A handler
// that panics is replaced by the default handler.
func (r *HandlerRegistry) Dispatch(p *Prepared) (name string, body []schemas.Action) {
	h := r.fallback
	for _, cand := range r.handlers {
		if cand.Match(p) {
			h = cand
			break
		}
	}
	body, err := r.run(h, p)
	if err != nil {
		r.logger.Error("Handler panicked, using default", zap.String("handler", h.Name), zap.Error(err))
		h = r.fallback
		body, _ = r.run(h, p)
	}
	return h.Name, body
}

func (r *HandlerRegistry) run(h Handler, p *Prepared) (out []schemas.Action, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler %s panicked: %v", h.Name, rec)
		}
	}()
	b := &builder{p: p, cfg: r.cfg}
	h.Build(b)
	return b.out, nil
}

// -- Predicates --

func taskIs(types ...schemas.TaskType) func(*Prepared) bool {
	return func(p *Prepared) bool {
		for _, t := range types {
			if p.Parsed.TaskType == t {
				return true
			}
		}
		return false
	}
}

// promptHas matches single-step prompts containing any of the words.
func promptHas(words ...string) func(*Prepared) bool {
	return func(p *Prepared) bool {
		if p.Parsed.TaskType == schemas.TaskMultiStep {
			return false
		}
		lower := " " + strings.ToLower(p.Task.Prompt) + " "
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
}

func isMultiStep(p *Prepared) bool {
	return p.Parsed.TaskType == schemas.TaskMultiStep && len(p.Complexity.Steps) >= 2
}

// -- Builder --

// builder accumulates a handler's actions.
type builder struct {
	p   *Prepared
	cfg config.AgentConfig
	out []schemas.Action
}

func (b *builder) add(as ...schemas.Action) { b.out = append(b.out, as...) }

// click adds a click on the first selector with the rest as alternatives.
func (b *builder) click(sels ...schemas.Selector) {
	if len(sels) == 0 {
		sels = []schemas.Selector{selectors.Fallback()}
	}
	a := schemas.Click(sels[0])
	a.Alternatives = append([]schemas.Selector(nil), sels[1:]...)
	b.add(a)
}

// button clicks an element by visible label.
func (b *builder) button(labels ...string) {
	b.click(selectors.Buttons(labels...)...)
}

// intent clicks the button for a known intent such as "login".
func (b *builder) intent(name string) {
	b.button(selectors.Synonyms(name)...)
}

// fill focuses a canonical field and types value into it.
func (b *builder) fill(field, value string) {
	sels := selectors.Field(field)
	if len(sels) == 0 {
		sels = []schemas.Selector{selectors.Primary(field)}
	}
	b.typeInto(value, sels...)
}

func (b *builder) typeInto(value string, sels ...schemas.Selector) {
	b.click(sels...)
	t := schemas.TypeText(sels[0], value)
	t.Alternatives = append([]schemas.Selector(nil), sels[1:]...)
	b.add(t)
}

// pause waits the strategy's between-action delay.
func (b *builder) pause() {
	b.add(schemas.Wait(math.Max(b.p.Strategy().WaitBetweenActions, 0.5)))
}

// settle waits for a navigation triggered by a click.
func (b *builder) settle() {
	b.add(schemas.Wait(math.Max(b.p.Strategy().WaitAfterNavigation, 1)))
}

func (b *builder) shot() { b.add(schemas.Screenshot()) }

// -- Task Values --

func (b *builder) prompt() string { return strings.ToLower(b.p.Task.Prompt) }

func (b *builder) has(words ...string) bool {
	lower := b.prompt()
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// subject is the thing the task is about: a quoted value, the target or the
// text to type.
func (b *builder) subject() string {
	if q := taskparse.QuotedValues(b.p.Task.Prompt); len(q) > 0 && q[0] != "" {
		return q[0]
	}
	if t := b.p.Parsed.TargetElement; t != "" {
		return t
	}
	return b.p.Parsed.TextToType
}

func (b *builder) username() string {
	c := b.p.Parsed.Credentials
	switch {
	case c.Username != "":
		return c.Username
	case c.Email != "":
		return c.Email
	case b.cfg.DefaultUsername != "":
		return b.cfg.DefaultUsername
	}
	return "user"
}

func (b *builder) password() string {
	if pw := b.p.Parsed.Credentials.Password; pw != "" {
		return pw
	}
	if b.cfg.DefaultPassword != "" {
		return b.cfg.DefaultPassword
	}
	return "password123"
}

func (b *builder) email() string {
	c := b.p.Parsed.Credentials
	if c.Email != "" {
		return c.Email
	}
	if v := b.p.Parsed.FormFields["email"]; v != "" {
		return v
	}
	if strings.Contains(c.Username, "@") {
		return c.Username
	}
	return b.username() + "@example.com"
}
