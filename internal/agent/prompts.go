package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// maxPromptSelectors bounds the live selectors quoted in a user prompt.
const maxPromptSelectors = 8

// systemPrompt is fixed for every request so providers can cache it.
var systemPrompt = systemRole + actionSchemaPrompt + selectorSchemaPrompt + closingPrompt

const systemRole = `You are a web automation agent. Given a task and a target URL you produce the exact sequence of browser actions that completes the task.
The actions are replayed by an automated evaluator, so every selector must match a real element and every typed value must come from the task.`

const actionSchemaPrompt = `

Available Action Types:
    - NavigateAction: open a URL. {"type": "NavigateAction", "url": "https://..."}
    - ClickAction: click an element. {"type": "ClickAction", "selector": <selector>}
    - TypeAction: type into an element. {"type": "TypeAction", "selector": <selector>, "text": "..."}
    - WaitAction: pause. {"type": "WaitAction", "time_seconds": 1.0}
    - ScrollAction: scroll the page. {"type": "ScrollAction", "down": true} or {"type": "ScrollAction", "up": true}
    - ScreenshotAction: capture the page. {"type": "ScreenshotAction"}
    - SendKeysIWAAction: press keys. {"type": "SendKeysIWAAction", "keys": "Enter"}`

const selectorSchemaPrompt = `

Selectors:
    - {"type": "attributeValueSelector", "attribute": "name", "value": "username"}
      Allowed attributes: id, name, type, class, data-testid, aria-label, placeholder, href, role.
    - {"type": "tagContainsSelector", "value": "Login"} matches visible text, case-insensitively.
    - {"type": "xpathSelector", "value": "//button[1]"}
    - {"type": "cssSelector", "value": "form button[type='submit']"}
    Prefer attribute selectors for inputs and visible text for buttons and links.`

const closingPrompt = `

Rules:
    1. Start with a NavigateAction to the target URL when one is given.
    2. Click an input before typing into it.
    3. Wait after navigation and after clicks that load a new page.
    4. End with a ScreenshotAction.
    5. Use credentials and values exactly as given; never invent them.

Respond with a JSON array of actions only. No prose, no markdown.`

// userPrompt enriches the raw task with everything parsing and detection
// found, plus the live selectors when available.
func userPrompt(p *Prepared) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n", p.Task.Prompt)
	if url := p.URL(); url != "" {
		fmt.Fprintf(&sb, "Target URL: %s\n", url)
	}
	fmt.Fprintf(&sb, "Task type: %s\n", p.Parsed.TaskType)

	c := p.Parsed.Credentials
	if c.Username != "" {
		fmt.Fprintf(&sb, "Username: %s\n", c.Username)
	}
	if c.Password != "" {
		fmt.Fprintf(&sb, "Password: %s\n", c.Password)
	}
	if c.Email != "" {
		fmt.Fprintf(&sb, "Email: %s\n", c.Email)
	}
	if p.Parsed.TextToType != "" {
		fmt.Fprintf(&sb, "Text to type: %s\n", p.Parsed.TextToType)
	}
	if p.Parsed.TargetElement != "" {
		fmt.Fprintf(&sb, "Target element: %s\n", p.Parsed.TargetElement)
	}
	writePairs(&sb, "Filters", p.Parsed.Filters)
	writePairs(&sb, "Form fields", p.Parsed.FormFields)

	if p.Detection.Site != nil {
		fmt.Fprintf(&sb, "Website: %s\n", p.Detection.Site.Name)
	}
	fmt.Fprintf(&sb, "Page type: %s\n", p.Detection.Context.PageType)
	if len(p.Complexity.Steps) > 1 {
		sb.WriteString("Steps, in order:\n")
		for i, s := range p.Complexity.Steps {
			fmt.Fprintf(&sb, "    %d. %s\n", i+1, s)
		}
	}

	if len(p.Live) > 0 {
		sb.WriteString("Elements found on the page (prefer these selectors):\n")
		for i, ls := range p.Live {
			if i == maxPromptSelectors {
				break
			}
			sel, _ := json.Marshal(ls.Selector)
			fmt.Fprintf(&sb, "    - %s (%s, confidence %.2f): %s\n",
				ls.FieldType, elementLabel(ls.Element), ls.Confidence, sel)
		}
	}
	sb.WriteString("\nReturn the JSON array of actions.")
	return sb.String()
}

func writePairs(sb *strings.Builder, title string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + m[k]
	}
	fmt.Fprintf(sb, "%s: %s\n", title, strings.Join(pairs, ", "))
}

func elementLabel(el schemas.PageElement) string {
	for _, v := range []string{el.Text, el.Placeholder, el.Name, el.ID} {
		if v = strings.TrimSpace(v); v != "" {
			if len(v) > 40 {
				v = v[:40]
			}
			return el.Tag + " " + v
		}
	}
	return el.Tag
}
