package browser

import (
	"fmt"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

// extractionJS collects visible buttons and inputs in document order. The
// element limit is substituted for %d.
const extractionJS = `(() => {
  const limit = %d;
  const clean = (s) => (s || "").replace(/\s+/g, " ").trim().slice(0, 120);
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    const st = window.getComputedStyle(el);
    return r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none";
  };
  const describe = (el) => ({
    tag: el.tagName.toLowerCase(),
    text: clean(el.innerText || el.value || ""),
    id: el.id || "",
    name: el.getAttribute("name") || "",
    type: (el.getAttribute("type") || "").toLowerCase(),
    class: (typeof el.className === "string" ? el.className : "").trim(),
    dataTestId: el.getAttribute("data-testid") || "",
    ariaLabel: el.getAttribute("aria-label") || "",
    placeholder: el.getAttribute("placeholder") || "",
    role: el.getAttribute("role") || "",
    href: el.getAttribute("href") || ""
  });
  const collect = (selector) => {
    const out = [];
    for (const el of document.querySelectorAll(selector)) {
      if (out.length >= limit) break;
      if (visible(el)) out.push(describe(el));
    }
    return out;
  };
  return {
    title: document.title || "",
    buttons: collect('button, input[type="submit"], input[type="button"], [role="button"], a[href]'),
    inputs: collect('input:not([type="hidden"]):not([type="submit"]):not([type="button"]), textarea, select')
  };
})()`

func extractScript(limit int) string {
	if limit <= 0 {
		limit = defaultMaxElements
	}
	return fmt.Sprintf(extractionJS, limit)
}

// extraction mirrors the object returned by extractionJS.
type extraction struct {
	Title   string                `json:"title"`
	Buttons []schemas.PageElement `json:"buttons"`
	Inputs  []schemas.PageElement `json:"inputs"`
}

// pageData trims and caps the raw extraction.
func (e extraction) pageData(rawURL string, limit int) *schemas.PageData {
	if limit <= 0 {
		limit = defaultMaxElements
	}
	return &schemas.PageData{
		URL:     rawURL,
		Title:   strings.TrimSpace(e.Title),
		Buttons: normalize(e.Buttons, limit),
		Inputs:  normalize(e.Inputs, limit),
		Source:  "browser",
	}
}

func normalize(in []schemas.PageElement, limit int) []schemas.PageElement {
	out := make([]schemas.PageElement, 0, min(len(in), limit))
	for _, el := range in {
		if len(out) == limit {
			break
		}
		el.Tag = strings.ToLower(strings.TrimSpace(el.Tag))
		if el.Tag == "" {
			continue
		}
		el.Text = strings.Join(strings.Fields(el.Text), " ")
		el.Class = strings.TrimSpace(el.Class)
		out = append(out, el)
	}
	return out
}
