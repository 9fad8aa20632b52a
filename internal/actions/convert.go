package actions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

// typeAliases maps normalized internal type names to IWA action types.
var typeAliases = map[string]schemas.ActionType{
	"navigate": schemas.ActionNavigate, "goto": schemas.ActionNavigate, "open": schemas.ActionNavigate, "visit": schemas.ActionNavigate,
	"click": schemas.ActionClick, "tap": schemas.ActionClick, "pressbutton": schemas.ActionClick,
	"type": schemas.ActionTypeText, "fill": schemas.ActionTypeText, "input": schemas.ActionTypeText,
	"typetext": schemas.ActionTypeText, "entertext": schemas.ActionTypeText,
	"wait": schemas.ActionWait, "sleep": schemas.ActionWait, "pause": schemas.ActionWait,
	"scroll": schemas.ActionScroll,
	"screenshot": schemas.ActionScreenshot, "capture": schemas.ActionScreenshot,
	"sendkeys": schemas.ActionSendKeys, "press": schemas.ActionSendKeys, "key": schemas.ActionSendKeys, "keypress": schemas.ActionSendKeys,
}

var selectorAliases = map[string]schemas.SelectorType{
	"tagcontains": schemas.SelectorTagContains, "text": schemas.SelectorTagContains, "contains": schemas.SelectorTagContains,
	"attributevalue": schemas.SelectorAttributeValue, "attribute": schemas.SelectorAttributeValue, "attr": schemas.SelectorAttributeValue,
	"xpath": schemas.SelectorXPath,
	"css": schemas.SelectorCSS,
	"tag": schemas.SelectorTag,
}

// ResolveType maps any accepted spelling ("click", "ClickAction",
// "send_keys", "SendKeysIWAAction") to an IWA type. ok is false when unknown.
func ResolveType(raw string) (schemas.ActionType, bool) {
	if t := schemas.ActionType(raw); schemas.KnownActionTypes[t] {
		return t, true
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
	s = strings.TrimSuffix(s, "action")
	s = strings.TrimSuffix(s, "iwa")
	t, ok := typeAliases[s]
	return t, ok
}

// Convert maps internal action shapes to IWA actions. Unknown types become
// screenshots so that position and count are preserved.
func Convert(raw []map[string]any) []schemas.Action {
	out := make([]schemas.Action, 0, len(raw))
	for _, m := range raw {
		out = append(out, ConvertOne(m))
	}
	return out
}

// ConvertOne maps one internal action.
func ConvertOne(m map[string]any) schemas.Action {
	name := firstString(m, "type", "action_type", "action")
	t, ok := ResolveType(name)
	if !ok {
		return schemas.Screenshot()
	}

	a := schemas.Action{Type: t}
	switch t {
	case schemas.ActionNavigate:
		a.URL = firstString(m, "url", "href", "value")
	case schemas.ActionClick:
		a.Selector = selectorFrom(m)
		a.X = intPtr(m["x"])
		a.Y = intPtr(m["y"])
	case schemas.ActionTypeText:
		a.Selector = selectorFrom(m)
		a.Text = firstString(m, "text", "value", "content")
	case schemas.ActionWait:
		if v, ok := firstNumber(m, "time_seconds", "duration", "seconds", "time"); ok {
			a.TimeSeconds = v
		} else if ms, ok := firstNumber(m, "milliseconds", "ms"); ok {
			a.TimeSeconds = ms / 1000
		}
	case schemas.ActionScroll:
		a.Up, a.Down = boolOf(m["up"]), boolOf(m["down"])
		a.Left, a.Right = boolOf(m["left"]), boolOf(m["right"])
		switch strings.ToLower(firstString(m, "direction")) {
		case "up":
			a.Up = true
		case "down":
			a.Down = true
		case "left":
			a.Left = true
		case "right":
			a.Right = true
		}
		if v, ok := m["value"]; ok && v != nil {
			a.Value = v
		}
	case schemas.ActionSendKeys:
		a.Keys = keysOf(m)
	}
	return a
}

func selectorFrom(m map[string]any) *schemas.Selector {
	switch v := m["selector"].(type) {
	case string:
		s := selectors.FromString(v)
		return &s
	case map[string]any:
		s := selectorFromMap(v)
		return &s
	case nil:
	default:
		s := selectors.FromString(fmt.Sprint(v))
		return &s
	}
	// Some shapes put the locator at the top level.
	if v := firstString(m, "css", "xpath", "target", "element"); v != "" {
		s := selectors.FromString(v)
		return &s
	}
	return nil
}

func selectorFromMap(m map[string]any) schemas.Selector {
	raw := strings.ToLower(firstString(m, "type"))
	raw = strings.TrimSuffix(raw, "selector")
	value := firstString(m, "value", "text")
	st, ok := selectorAliases[raw]
	if !ok {
		return selectors.FromString(value)
	}
	s := schemas.Selector{
		Type:          st,
		Attribute:     firstString(m, "attribute"),
		Value:         value,
		CaseSensitive: boolOf(m["case_sensitive"]),
	}
	if st == schemas.SelectorTag {
		if tag := firstString(m, "tag"); tag != "" {
			s.Value = tag
		}
		s.Tag = s.Value
		if attrs, ok := m["attributes"].(map[string]any); ok && len(attrs) > 0 {
			s.Attributes = make(map[string]string, len(attrs))
			for k, v := range attrs {
				s.Attributes[k] = fmt.Sprint(v)
			}
		}
	}
	return s
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		case map[string]any, []any:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func firstNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := numberOf(m[k]); ok {
			return v, true
		}
	}
	return 0, false
}

func intPtr(v any) *int {
	f, ok := numberOf(v)
	if !ok {
		return nil
	}
	i := int(f)
	return &i
}

func boolOf(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(b)
		return ok
	}
	return false
}

func keysOf(m map[string]any) string {
	for _, k := range []string{"keys", "key", "value", "text"} {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "+")
		}
	}
	return ""
}
