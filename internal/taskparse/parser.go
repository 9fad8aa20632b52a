package taskparse

import (
	"regexp"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// valueStopwords are never accepted as an unquoted credential value.
var valueStopwords = map[string]bool{
	"and": true, "with": true, "password": true, "email": true, "username": true,
	"then": true, "is": true, "the": true, "to": true, "field": true, "of": true,
}

var (
	usernamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\buser(?:\s*name)?\s*(?:[:=]|equals)\s*['"]?([^\s'",]+)`),
		regexp.MustCompile(`(?i)\buser(?:\s*name)?\s+(?:is\s+|of\s+)?['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)\b(?:log\s*in|sign\s*in|login)\s+as\s+(?:user\s+)?['"]?([A-Za-z0-9_.@<>-]+)`),
		regexp.MustCompile(`(?i)\busername\s+(?:is\s+)?([A-Za-z0-9_.@<>-]+)`),
	}
	passwordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bpass(?:word)?\s*(?:[:=]|equals)\s*['"]?([^\s'",]+)`),
		regexp.MustCompile(`(?i)\bpass(?:word)?\s+(?:is\s+|of\s+)?['"]([^'"]+)['"]`),
		regexp.MustCompile(`(?i)\bpassword\s+(?:is\s+)?([^\s'",]+)`),
	}
	emailLabeled = regexp.MustCompile(`(?i)\be-?mail\s*(?:[:=]|is|equals)?\s*['"]?([^\s'",]+@[^\s'",]+)`)

	quotedPattern = regexp.MustCompile(`['"]([^'"]+)['"]`)
	textVerbs     = regexp.MustCompile(`(?i)\b(?:type|enter|write|input|comment|post|review|message|say|reply|search(?:\s+for)?|find|look\s+for|fill\s+in)\b[^'"]*?['"]([^'"]+)['"]`)
	searchBare    = regexp.MustCompile(`(?i)\b(?:search(?:\s+for)?|look\s+for|find)\s+(?:a\s+|an\s+|the\s+)?([a-z0-9][a-z0-9 '-]*?)(?:\s+(?:and|then|on|in|at|using|with|by)\b|[.,!?]|$)`)
	targetPattern = regexp.MustCompile(`(?i)\b(?:click|press|tap|select|open|choose|hit)\s+(?:on\s+)?(?:the\s+|a\s+|an\s+)?['"]?([^'".,!?]+?)['"]?(?:\s+(?:and|then|to|on\s+the|in\s+the|from)\b|[.,!?]|$)`)

	filterQuoted = regexp.MustCompile(`(?i)\b(genre|category|year|rating|author|director|cuisine|location|price|status|language|brand|color|size)\s*(?:is|of|=|:|equals|as)?\s*['"]([^'"]+)['"]`)
	filterBare   = regexp.MustCompile(`(?i)\b(genre|category|year|rating|cuisine|language)\s*(?:is|of|=|:|equals)?\s+([A-Za-z0-9-]+)`)
	formQuoted   = regexp.MustCompile(`(?i)\b(name|email|phone|message|subject)\s*(?:is|=|:|as|to|of|equals)?\s*['"]([^'"]+)['"]`)
	formBare     = regexp.MustCompile(`(?i)\b(name|email|phone|subject)\s*[:=]\s*([^\s,'"]+)`)
)

// Parser turns prompts into ParsedTask values.
type Parser struct {
	inferrer *URLInferrer
}

// NewParser builds a parser that uses inferrer for missing URLs. A nil
// inferrer leaves the URL empty.
func NewParser(inferrer *URLInferrer) *Parser {
	return &Parser{inferrer: inferrer}
}

// Parse derives a ParsedTask from a prompt and optional URL. It never fails:
// malformed input produces defaults.
func (p *Parser) Parse(prompt, rawURL string) schemas.ParsedTask {
	prompt = strings.TrimSpace(prompt)
	task := schemas.ParsedTask{
		Prompt:   prompt,
		URL:      strings.TrimSpace(rawURL),
		Keywords: Keywords(prompt),
	}

	if task.URL == "" {
		if u := urlPattern.FindString(prompt); u != "" {
			task.URL = strings.TrimRight(u, ".,;)")
		}
	}
	if task.URL == "" && p.inferrer != nil {
		task.URL = p.inferrer.Infer(prompt)
		task.URLInferred = task.URL != ""
	}

	task.Credentials = ExtractCredentials(prompt)
	task.Filters = ExtractFilters(prompt)
	task.FormFields = ExtractFormFields(prompt)
	task.TextToType = extractTextToType(prompt, task)
	task.TargetElement = ExtractTarget(prompt)
	task.TaskType = Classify(prompt)
	return task
}

// ExtractCredentials pulls username, password and email values. Quotes are stripped.
func ExtractCredentials(prompt string) schemas.Credentials {
	var c schemas.Credentials
	c.Username = firstValue(prompt, usernamePatterns)
	c.Password = firstValue(prompt, passwordPatterns)
	if m := emailLabeled.FindStringSubmatch(prompt); m != nil {
		c.Email = cleanValue(m[1])
	} else if m := emailPattern.FindString(prompt); m != "" {
		c.Email = m
	}
	return c
}

// firstValue returns the first non-empty capture. Quoted captures are taken
// literally; bare ones are skipped when they are connector words.
func firstValue(prompt string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		for _, loc := range re.FindAllStringSubmatchIndex(prompt, -1) {
			if loc[2] < 0 {
				continue
			}
			v := cleanValue(prompt[loc[2]:loc[3]])
			if v == "" {
				continue
			}
			if !quotedAt(prompt, loc[2]) && valueStopwords[strings.ToLower(v)] {
				continue
			}
			return v
		}
	}
	return ""
}

func quotedAt(prompt string, start int) bool {
	if start == 0 {
		return false
	}
	c := prompt[start-1]
	return c == '\'' || c == '"'
}

func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, `'"`+"`")
	return strings.TrimRight(v, ".,;!?)")
}

// ExtractFilters finds criteria such as genre 'Horror'.
func ExtractFilters(prompt string) map[string]string {
	filters := map[string]string{}
	for _, m := range filterQuoted.FindAllStringSubmatch(prompt, -1) {
		filters[strings.ToLower(m[1])] = cleanValue(m[2])
	}
	for _, m := range filterBare.FindAllStringSubmatch(prompt, -1) {
		key := strings.ToLower(m[1])
		if _, ok := filters[key]; ok {
			continue
		}
		v := cleanValue(m[2])
		if v == "" || valueStopwords[strings.ToLower(v)] {
			continue
		}
		filters[key] = v
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

// ExtractFormFields finds labeled values for name, email, phone, message and subject.
func ExtractFormFields(prompt string) map[string]string {
	fields := map[string]string{}
	for _, m := range formQuoted.FindAllStringSubmatch(prompt, -1) {
		key := strings.ToLower(m[1])
		if _, ok := fields[key]; !ok {
			fields[key] = cleanValue(m[2])
		}
	}
	for _, m := range formBare.FindAllStringSubmatch(prompt, -1) {
		key := strings.ToLower(m[1])
		if _, ok := fields[key]; !ok {
			fields[key] = cleanValue(m[2])
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ExtractTarget returns the element named after a click-like verb.
func ExtractTarget(prompt string) string {
	m := targetPattern.FindStringSubmatch(prompt)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func extractTextToType(prompt string, task schemas.ParsedTask) string {
	taken := map[string]bool{
		task.Credentials.Username: true,
		task.Credentials.Password: true,
		task.Credentials.Email:    true,
	}
	for _, v := range task.Filters {
		taken[v] = true
	}

	for _, m := range textVerbs.FindAllStringSubmatch(prompt, -1) {
		if v := strings.TrimSpace(m[1]); v != "" && !taken[v] {
			return v
		}
	}
	if m := searchBare.FindStringSubmatch(prompt); m != nil {
		if v := strings.TrimSpace(m[1]); v != "" && !valueStopwords[v] {
			return v
		}
	}
	return ""
}

// QuotedValues returns every quoted substring in order.
func QuotedValues(prompt string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(prompt, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
