package live

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

const (
	DefaultMaxResults    = 10
	DefaultMinConfidence = 0.4
)

var (
	submitLabel = regexp.MustCompile(`(?i)\b(submit|log\s*in|login|sign\s*(in|up)|register|apply|save|send|continue|confirm|create account)\b`)
	searchLabel = regexp.MustCompile(`(?i)\bsearch\b`)
	userHint    = regexp.MustCompile(`(?i)user|login`)
	passHint    = regexp.MustCompile(`(?i)pass`)
	emailHint   = regexp.MustCompile(`(?i)e-?mail`)
	searchHint  = regexp.MustCompile(`(?i)^(q|query)$|search`)
)

// SelectorFor builds a selector from extracted attributes alone, preferring
// id, then data-testid, then name, then the first class, then the tag.
func SelectorFor(el schemas.PageElement) schemas.Selector {
	switch {
	case strings.TrimSpace(el.ID) != "":
		return schemas.Attr("id", strings.TrimSpace(el.ID))
	case strings.TrimSpace(el.DataTestID) != "":
		return schemas.Attr("data-testid", strings.TrimSpace(el.DataTestID))
	case strings.TrimSpace(el.Name) != "":
		return schemas.Attr("name", strings.TrimSpace(el.Name))
	}
	if classes := strings.Fields(el.Class); len(classes) > 0 && isCSSIdent(classes[0]) {
		return schemas.CSS("." + classes[0])
	}
	tag := el.Tag
	if tag == "" {
		tag = "button"
	}
	return schemas.Tag(tag, nil)
}

func isCSSIdent(s string) bool {
	for i, r := range s {
		if r == '-' || r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return s != ""
}

// FieldType classifies an extracted element.
func FieldType(el schemas.PageElement) string {
	hints := strings.Join([]string{el.Name, el.ID, el.Placeholder, el.AriaLabel}, " ")
	typ := strings.ToLower(el.Type)
	if el.IsInput() {
		switch {
		case typ == "password" || passHint.MatchString(hints):
			return schemas.FieldPassword
		case typ == "email" || emailHint.MatchString(hints):
			return schemas.FieldEmail
		case userHint.MatchString(hints):
			return schemas.FieldUsername
		case typ == "search" || searchHint.MatchString(el.Name) || searchHint.MatchString(el.Placeholder):
			return schemas.FieldSearch
		case typ == "submit":
			return schemas.FieldSubmit
		}
		return schemas.FieldText
	}
	label := el.Text + " " + el.AriaLabel
	switch {
	case typ == "submit" || submitLabel.MatchString(label):
		return schemas.FieldSubmit
	case el.Tag == "a" && el.Role != "button":
		return schemas.FieldLink
	}
	return schemas.FieldButton
}

// keywords are the intent words longer than three characters.
func keywords(intent string) []string {
	seen := map[string]bool{}
	var out []string
	for _, w := range strings.FieldsFunc(strings.ToLower(intent), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) > 3 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// overlap returns the share of keywords found in the element's visible label.
func overlap(el schemas.PageElement, kws []string) float64 {
	if len(kws) == 0 {
		return 0
	}
	label := strings.ToLower(el.Text + " " + el.AriaLabel + " " + el.Placeholder)
	if strings.TrimSpace(label) == "" {
		return 0
	}
	hits := 0
	for _, k := range kws {
		if strings.Contains(label, k) {
			hits++
		}
	}
	return float64(hits) / float64(len(kws))
}

func isCredentialTask(t schemas.TaskType) bool {
	return t == schemas.TaskLogin || t == schemas.TaskRegister
}

func isFillTask(t schemas.TaskType) bool {
	return t == schemas.TaskTypeText || t == schemas.TaskForm || t == schemas.TaskComment || t == schemas.TaskJobApply
}

func isSubmitTask(t schemas.TaskType, intent string) bool {
	switch t {
	case schemas.TaskForm, schemas.TaskRegister, schemas.TaskLogin, schemas.TaskComment, schemas.TaskJobApply:
		return true
	}
	return submitLabel.MatchString(intent)
}

// score rates one element for the task; the best applicable rule wins.
func score(el schemas.PageElement, field string, kws []string, intent string, t schemas.TaskType) float64 {
	best := 0.0
	consider := func(v float64) {
		if v > best {
			best = v
		}
	}

	if el.IsInput() {
		if isCredentialTask(t) {
			switch field {
			case schemas.FieldPassword:
				consider(0.9)
			case schemas.FieldUsername, schemas.FieldEmail:
				consider(0.85)
			}
		}
		if isFillTask(t) || isCredentialTask(t) {
			switch field {
			case schemas.FieldText, schemas.FieldEmail, schemas.FieldUsername, schemas.FieldPassword:
				consider(0.7)
			}
		}
		if t == schemas.TaskSearch || t == schemas.TaskFilter || t == schemas.TaskJobSearch {
			if field == schemas.FieldSearch {
				consider(0.85)
			}
		}
		if ov := overlap(el, kws); ov > 0 && (isFillTask(t) || t == schemas.TaskSearch) {
			consider(0.7 + 0.1*ov)
		}
		return best
	}

	if field == schemas.FieldSubmit {
		if isCredentialTask(t) {
			consider(0.8)
		}
		if isSubmitTask(t, intent) {
			consider(0.9)
		}
	}
	if (t == schemas.TaskSearch || t == schemas.TaskJobSearch) && searchLabel.MatchString(el.Text+" "+el.AriaLabel) {
		consider(0.8)
	}
	if ov := overlap(el, kws); ov > 0 {
		consider(0.8 + 0.1*ov)
	}
	if field == schemas.FieldButton || field == schemas.FieldSubmit {
		consider(0.6)
	}
	return best
}

// Score rates every element of page against intent and task type and
// returns the strongest candidates, best first.
func Score(page *schemas.PageData, intent string, t schemas.TaskType, maxResults int, minConfidence float64) []schemas.LiveSelector {
	if page.Empty() {
		return nil
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	kws := keywords(intent)

	var out []schemas.LiveSelector
	seen := map[string]bool{}
	add := func(el schemas.PageElement) {
		field := FieldType(el)
		conf := score(el, field, kws, intent, t)
		if conf <= minConfidence {
			return
		}
		sel := SelectorFor(el)
		if seen[sel.Key()] {
			return
		}
		seen[sel.Key()] = true
		out = append(out, schemas.LiveSelector{
			Selector:   sel,
			FieldType:  field,
			Confidence: conf,
			Element:    el,
		})
	}
	for _, el := range page.Inputs {
		add(el)
	}
	for _, el := range page.Buttons {
		add(el)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}
