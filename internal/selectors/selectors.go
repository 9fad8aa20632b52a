package selectors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// fieldSelectors are the canonical cascades for well-known form fields, most
// specific first.
var fieldSelectors = map[string][]schemas.Selector{
	"username": {
		schemas.Attr("name", "username"),
		schemas.Attr("id", "username"),
		schemas.Attr("name", "email"),
		schemas.Attr("name", "user"),
		schemas.Attr("name", "login"),
	},
	"password": {
		schemas.Attr("type", "password"),
		schemas.Attr("name", "password"),
		schemas.Attr("id", "password"),
	},
	"email": {
		schemas.Attr("name", "email"),
		schemas.Attr("type", "email"),
		schemas.Attr("id", "email"),
	},
	"name": {
		schemas.Attr("name", "name"),
		schemas.Attr("id", "name"),
		schemas.Attr("placeholder", "Name"),
	},
	"phone": {
		schemas.Attr("name", "phone"),
		schemas.Attr("type", "tel"),
		schemas.Attr("id", "phone"),
	},
	"address": {
		schemas.Attr("name", "address"),
		schemas.Attr("id", "address"),
		schemas.Attr("placeholder", "Address"),
	},
	"message": {
		schemas.Attr("name", "message"),
		schemas.Attr("id", "message"),
		schemas.Tag("textarea", nil),
	},
	"subject": {
		schemas.Attr("name", "subject"),
		schemas.Attr("id", "subject"),
	},
	"search": {
		schemas.Attr("type", "search"),
		schemas.Attr("name", "search"),
		schemas.Attr("name", "q"),
		schemas.Attr("placeholder", "Search"),
	},
	"comment": {
		schemas.Attr("name", "comment"),
		schemas.Attr("id", "comment"),
		schemas.Tag("textarea", nil),
	},
	"confirm_password": {
		schemas.Attr("name", "confirm_password"),
		schemas.Attr("name", "password_confirmation"),
		schemas.Attr("id", "confirm_password"),
	},
}

// buttonSynonyms maps an intent to the visible labels a button may carry.
var buttonSynonyms = map[string][]string{
	"login":    {"Login", "Log In", "Sign In"},
	"register": {"Register", "Sign Up", "Create Account"},
	"search":   {"Search", "Find", "Go"},
	"submit":   {"Submit", "Send", "Save", "Continue"},
	"apply":    {"Apply", "Apply Filters", "Filter"},
	"book":     {"Book", "Book Now", "Reserve"},
	"save":     {"Save", "Update", "Save Changes"},
	"delete":   {"Delete", "Remove"},
	"post":     {"Post", "Comment", "Submit"},
	"next":     {"Next", "Continue", ">"},
	"close":    {"Close", "Cancel", "×"},
	"logout":   {"Logout", "Log Out", "Sign Out"},
}

var synonymOrder = []string{
	"login", "register", "search", "submit", "apply", "book",
	"save", "delete", "post", "next", "close", "logout",
}

// fieldHint matches selector values that name a known form field.
var fieldHint = regexp.MustCompile(`(?i)(confirm[_-]?password|username|password|e-?mail|phone|address|name|search|comment|message|subject)`)

// Field returns the canonical selector cascade for a field, or nil.
func Field(field string) []schemas.Selector {
	list := fieldSelectors[strings.ToLower(field)]
	out := make([]schemas.Selector, len(list))
	for i, s := range list {
		out[i] = s.Clone()
	}
	return out
}

// Primary returns the first canonical selector for a field, falling back to
// the name attribute.
func Primary(field string) schemas.Selector {
	if list := Field(field); len(list) > 0 {
		return list[0]
	}
	return schemas.Attr("name", strings.ToLower(field))
}

// FieldFromValue reports which known field a selector value hints at.
func FieldFromValue(value string) (string, bool) {
	m := fieldHint.FindString(value)
	if m == "" {
		return "", false
	}
	m = strings.ToLower(strings.ReplaceAll(m, "-", ""))
	if strings.HasPrefix(m, "confirm") {
		return "confirm_password", true
	}
	return m, true
}

// Synonyms returns the button labels for an intent, or nil.
func Synonyms(intent string) []string {
	return append([]string(nil), buttonSynonyms[strings.ToLower(intent)]...)
}

// Buttons builds tagContains selectors for labels.
func Buttons(labels ...string) []schemas.Selector {
	out := make([]schemas.Selector, 0, len(labels))
	for _, l := range labels {
		out = append(out, schemas.TagContains(l))
	}
	return out
}

// Fallback is the selector injected when an interaction has none.
func Fallback() schemas.Selector {
	return schemas.TagContains("button")
}

var (
	attrSelector = regexp.MustCompile(`^\s*(?:[a-zA-Z]+)?\[\s*([a-zA-Z-]+)\s*[*^$~|]?=\s*['"]?([^'"\]]*)['"]?\s*\]\s*$`)
	simpleID     = regexp.MustCompile(`^#[A-Za-z_][\w-]*$`)
	simpleClass  = regexp.MustCompile(`^\.[A-Za-z_][\w-]*$`)
	bareTag      = regexp.MustCompile(`^(?i)(button|input|a|select|textarea|form|img|li|div|span|label|option)$`)
	cssChars     = regexp.MustCompile(`[#.\[\]>:~+*=]`)
)

// FromString converts the loose selector strings produced by handlers and
// models into structured selectors.
func FromString(raw string) schemas.Selector {
	s := strings.TrimSpace(raw)
	switch {
	case s == "":
		return Fallback()
	case strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//"):
		return schemas.XPath(s)
	case strings.HasPrefix(strings.ToLower(s), "text="):
		return schemas.TagContains(strings.Trim(s[5:], `'"`))
	case simpleID.MatchString(s):
		return schemas.Attr("id", s[1:])
	case simpleClass.MatchString(s):
		return schemas.Attr("class", s[1:])
	case bareTag.MatchString(s):
		return schemas.Tag(strings.ToLower(s), nil)
	}
	if m := attrSelector.FindStringSubmatch(s); m != nil {
		attr := strings.ToLower(m[1])
		if schemas.AllowedAttributes[attr] && !strings.ContainsAny(s, "*^$~|") {
			return schemas.Attr(attr, m[2])
		}
		return schemas.CSS(s)
	}
	if cssChars.MatchString(s) {
		return schemas.CSS(s)
	}
	return schemas.TagContains(s)
}

// Sanitize makes a selector safe for the wire: attribute selectors outside
// the allowed set become CSS, tag selectors get their tag as value.
func Sanitize(sel schemas.Selector) (schemas.Selector, error) {
	switch sel.Type {
	case schemas.SelectorAttributeValue:
		attr := strings.ToLower(strings.TrimSpace(sel.Attribute))
		if sel.Value == "" || attr == "" {
			return sel, fmt.Errorf("attribute selector needs attribute and value")
		}
		if !schemas.AllowedAttributes[attr] {
			return schemas.CSS(fmt.Sprintf(`[%s="%s"]`, attr, sel.Value)), nil
		}
		sel.Attribute = attr
	case schemas.SelectorTag:
		if strings.TrimSpace(sel.Value) == "" {
			return sel, fmt.Errorf("tag selector needs a tag")
		}
		sel.Tag = sel.Value
	case schemas.SelectorTagContains, schemas.SelectorXPath, schemas.SelectorCSS:
		if strings.TrimSpace(sel.Value) == "" {
			return sel, fmt.Errorf("%s needs a value", sel.Type)
		}
	default:
		return sel, fmt.Errorf("unknown selector type %q", sel.Type)
	}
	return sel, nil
}

// Dedupe drops selectors with a repeated key, keeping order.
func Dedupe(in []schemas.Selector) []schemas.Selector {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		k := strings.ToLower(s.Key())
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}

// Slug lowercases and hyphenates a label, e.g. "Sign Up" -> "sign-up".
func Slug(label string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
