package schemas

import (
	"encoding/json"
	"fmt"
	"strings"
)

// -- IWA Action Schemas --

// ActionType is the PascalCase discriminator used on the wire.
type ActionType string

const (
	ActionNavigate   ActionType = "NavigateAction"
	ActionClick      ActionType = "ClickAction"
	ActionTypeText   ActionType = "TypeAction"
	ActionWait       ActionType = "WaitAction"
	ActionScroll     ActionType = "ScrollAction"
	ActionScreenshot ActionType = "ScreenshotAction"
	ActionSendKeys   ActionType = "SendKeysIWAAction"
)

// Wait bounds enforced on every WaitAction that leaves the pipeline.
const (
	MinWaitSeconds = 0.1
	MaxWaitSeconds = 5.0
)

// KnownActionTypes is the closed set of action types accepted by the evaluator.
var KnownActionTypes = map[ActionType]bool{
	ActionNavigate:   true,
	ActionClick:      true,
	ActionTypeText:   true,
	ActionWait:       true,
	ActionScroll:     true,
	ActionScreenshot: true,
	ActionSendKeys:   true,
}

// Action is a single browser command in IWA format. Only the fields relevant
// to Type are populated; everything else is omitted on the wire.
type Action struct {
	Type ActionType `json:"type"`

	// NavigateAction
	URL string `json:"url,omitempty"`

	// ClickAction / TypeAction
	Selector *Selector `json:"selector,omitempty"`
	X        *int      `json:"x,omitempty"`
	Y        *int      `json:"y,omitempty"`
	Text     string    `json:"text,omitempty"`

	// WaitAction
	TimeSeconds float64 `json:"time_seconds,omitempty"`

	// ScrollAction
	Up    bool `json:"up,omitempty"`
	Down  bool `json:"down,omitempty"`
	Left  bool `json:"left,omitempty"`
	Right bool `json:"right,omitempty"`
	Value any  `json:"value,omitempty"`

	// SendKeysIWAAction
	Keys string `json:"keys,omitempty"`

	// Alternatives holds ranked selector variants that were not chosen as the
	// primary selector. They stay in-process for live-selector matching and are
	// never serialized.
	Alternatives []Selector `json:"-"`
}

// IsInteraction reports whether the action needs an element selector.
func (a Action) IsInteraction() bool {
	return a.Type == ActionClick || a.Type == ActionTypeText
}

// Clone returns a deep copy so cached sequences can be handed out without aliasing.
func (a Action) Clone() Action {
	c := a
	if a.Selector != nil {
		s := a.Selector.Clone()
		c.Selector = &s
	}
	if a.X != nil {
		x := *a.X
		c.X = &x
	}
	if a.Y != nil {
		y := *a.Y
		c.Y = &y
	}
	if len(a.Alternatives) > 0 {
		c.Alternatives = make([]Selector, len(a.Alternatives))
		for i, s := range a.Alternatives {
			c.Alternatives[i] = s.Clone()
		}
	}
	return c
}

// String renders a short human readable form used in logs.
func (a Action) String() string {
	switch a.Type {
	case ActionNavigate:
		return fmt.Sprintf("Navigate(%s)", a.URL)
	case ActionClick:
		return fmt.Sprintf("Click(%s)", a.Selector)
	case ActionTypeText:
		return fmt.Sprintf("Type(%s, %q)", a.Selector, a.Text)
	case ActionWait:
		return fmt.Sprintf("Wait(%.2f)", a.TimeSeconds)
	case ActionScroll:
		return "Scroll"
	case ActionScreenshot:
		return "Screenshot"
	case ActionSendKeys:
		return fmt.Sprintf("SendKeys(%s)", a.Keys)
	default:
		return string(a.Type)
	}
}

// CloneActions deep-copies a sequence.
func CloneActions(in []Action) []Action {
	if in == nil {
		return nil
	}
	out := make([]Action, len(in))
	for i, a := range in {
		out[i] = a.Clone()
	}
	return out
}

// -- Action constructors --

func Navigate(url string) Action { return Action{Type: ActionNavigate, URL: url} }

func Click(sel Selector) Action { return Action{Type: ActionClick, Selector: &sel} }

func TypeText(sel Selector, text string) Action {
	return Action{Type: ActionTypeText, Selector: &sel, Text: text}
}

func Wait(seconds float64) Action { return Action{Type: ActionWait, TimeSeconds: seconds} }

func Screenshot() Action { return Action{Type: ActionScreenshot} }

func ScrollDown() Action { return Action{Type: ActionScroll, Down: true} }

func ScrollUp() Action { return Action{Type: ActionScroll, Up: true} }

func SendKeys(keys string) Action { return Action{Type: ActionSendKeys, Keys: keys} }

// MinimalSequence is the response used when nothing else could be produced.
func MinimalSequence() []Action {
	return []Action{Wait(1.0), Screenshot()}
}

// -- Selector Schemas --

// SelectorType is the discriminator of an IWA selector.
type SelectorType string

const (
	SelectorTagContains    SelectorType = "tagContainsSelector"
	SelectorAttributeValue SelectorType = "attributeValueSelector"
	SelectorXPath          SelectorType = "xpathSelector"
	SelectorCSS            SelectorType = "cssSelector"
	SelectorTag            SelectorType = "tagSelector"
)

// AllowedAttributes lists the attributes an attributeValueSelector may target.
var AllowedAttributes = map[string]bool{
	"id":          true,
	"name":        true,
	"type":        true,
	"class":       true,
	"data-testid": true,
	"aria-label":  true,
	"placeholder": true,
	"href":        true,
	"role":        true,
}

// Selector is a structured element locator.
// For tagSelector, Value carries the tag name so every selector has a value.
type Selector struct {
	Type          SelectorType      `json:"type"`
	Attribute     string            `json:"attribute,omitempty"`
	Value         string            `json:"value"`
	CaseSensitive bool              `json:"case_sensitive"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	// Tag mirrors Value for tagSelector; validators read either field.
	Tag string `json:"tag,omitempty"`
}

// UnmarshalJSON accepts a tagSelector that only names its tag.
func (s *Selector) UnmarshalJSON(data []byte) error {
	type plain Selector
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Selector(p)
	if s.Value == "" {
		s.Value = s.Tag
	}
	return nil
}

func (s Selector) Clone() Selector {
	c := s
	if s.Attributes != nil {
		c.Attributes = make(map[string]string, len(s.Attributes))
		for k, v := range s.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// Key is a stable identity used by rankers and feedback counters.
func (s Selector) Key() string {
	if s.Type == SelectorAttributeValue {
		return fmt.Sprintf("%s:%s=%s", s.Type, s.Attribute, s.Value)
	}
	return fmt.Sprintf("%s:%s", s.Type, s.Value)
}

func (s *Selector) String() string {
	if s == nil {
		return "<nil>"
	}
	switch s.Type {
	case SelectorAttributeValue:
		return fmt.Sprintf("[%s=%s]", s.Attribute, s.Value)
	case SelectorTagContains:
		return fmt.Sprintf("text(%s)", s.Value)
	default:
		return s.Value
	}
}

// Equal compares type, attribute and value (case-insensitively for values
// that are not case sensitive).
func (s Selector) Equal(o Selector) bool {
	if s.Type != o.Type || s.Attribute != o.Attribute {
		return false
	}
	if s.CaseSensitive || o.CaseSensitive {
		return s.Value == o.Value
	}
	return strings.EqualFold(s.Value, o.Value)
}

// -- Selector constructors --

// TagContains matches visible text, case-insensitively.
func TagContains(text string) Selector {
	return Selector{Type: SelectorTagContains, Value: text}
}

func Attr(attribute, value string) Selector {
	return Selector{Type: SelectorAttributeValue, Attribute: attribute, Value: value}
}

func CSS(value string) Selector { return Selector{Type: SelectorCSS, Value: value} }

func XPath(value string) Selector { return Selector{Type: SelectorXPath, Value: value} }

func Tag(tag string, attributes map[string]string) Selector {
	return Selector{Type: SelectorTag, Value: tag, Tag: tag, Attributes: attributes}
}
