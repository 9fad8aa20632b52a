package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoJSON is returned when a response holds no JSON array or object.
	ErrNoJSON = errors.New("no json found in model response")

	// Backticks are written as \x60 since raw strings cannot hold them.
	fenceRegex = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")
	// trailingComma matches a comma directly before a closing bracket.
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// StripFences returns the body of the first fenced block, or the trimmed
// input when there is none.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRegex.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimPrefix(strings.TrimSuffix(s, "```"), "```")
}

// ExtractArray returns the outermost JSON array in s, balancing brackets
// and skipping brackets inside strings. An unterminated array is returned up
// to the end of input so RepairJSON can try to close it.
func ExtractArray(s string) (string, bool) {
	return extract(s, '[', ']')
}

// ExtractObject is ExtractArray for objects.
func ExtractObject(s string) (string, bool) {
	return extract(s, '{', '}')
}

func extract(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

// RepairJSON fixes the mistakes models commonly make: trailing commas,
// smart quotes and unclosed brackets at the end of a truncated response.
func RepairJSON(s string) string {
	s = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'").Replace(s)
	s = trailingComma.ReplaceAllString(s, "$1")

	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			stack = append(stack, ']')
		case '{':
			stack = append(stack, '}')
		case ']', '}':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	s = strings.TrimRight(s, " \t\r\n,")
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}

// ParseJSONArray extracts and decodes the JSON array in a model response.
func ParseJSONArray[T any](response string) ([]T, error) {
	body := StripFences(response)
	raw, ok := ExtractArray(body)
	if !ok {
		// Some models wrap the list in an object, e.g. {"actions": [...]}.
		if obj, ok := ExtractObject(body); ok {
			var wrapped map[string][]T
			if err := json.Unmarshal([]byte(RepairJSON(obj)), &wrapped); err == nil {
				for _, v := range wrapped {
					return v, nil
				}
			}
		}
		return nil, ErrNoJSON
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out, nil
	}
	repaired := RepairJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model json: %w. Extracted JSON (truncated): %s", err, truncateString(repaired, 500))
	}
	return out, nil
}

// ParseJSONResponse decodes a single JSON object from a model response.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, ok := ExtractObject(StripFences(response))
	if !ok {
		return nil, ErrNoJSON
	}
	var result T
	if err := json.Unmarshal([]byte(RepairJSON(raw)), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model json: %w. Extracted JSON (truncated): %s", err, truncateString(raw, 500))
	}
	return &result, nil
}

func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
