package live

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/network"
)

const maxHTMLBytes = 64 << 10

// skipped subtrees never contain interactive elements worth grounding.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
}

// HTTPFetcher loads pages without a browser and extracts the same element
// shape from static HTML.
type HTTPFetcher struct {
	client      *network.Client
	maxElements int
}

func NewHTTPFetcher(client *network.Client, maxElements int) *HTTPFetcher {
	if maxElements <= 0 {
		maxElements = 30
	}
	return &HTTPFetcher{client: client, maxElements: maxElements}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*schemas.PageData, error) {
	p, err := f.client.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	data, err := ParseHTML(p.Body, p.URL, f.maxElements)
	if err != nil {
		return nil, err
	}
	data.Duration = float64(p.Duration.Milliseconds())
	return data, nil
}

// ParseHTML extracts the title, buttons and inputs from a document, ignoring
// script and style content. HTML is kept only when nothing was found.
func ParseHTML(body []byte, rawURL string, maxElements int) (*schemas.PageData, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing html: %w", err)
	}
	data := &schemas.PageData{URL: rawURL, Source: "http"}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			switch {
			case n.DataAtom == atom.Title && data.Title == "":
				data.Title = collapse(textOf(n))
			case isInput(n):
				if len(data.Inputs) < maxElements {
					data.Inputs = append(data.Inputs, element(n))
				}
			case isButton(n):
				if len(data.Buttons) < maxElements {
					data.Buttons = append(data.Buttons, element(n))
				}
				// Nested buttons are not separate targets.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if data.Empty() {
		h := string(body)
		if len(h) > maxHTMLBytes {
			h = h[:maxHTMLBytes]
		}
		data.HTML = h
	}
	return data, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func isInput(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Textarea, atom.Select:
		return true
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "hidden", "submit", "button", "image", "reset":
			return false
		}
		return true
	}
	return false
}

func isButton(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		return true
	case atom.Input:
		t := strings.ToLower(attr(n, "type"))
		return t == "submit" || t == "button"
	case atom.A:
		return attr(n, "href") != "" || attr(n, "role") == "button"
	}
	return attr(n, "role") == "button"
}

func element(n *html.Node) schemas.PageElement {
	text := collapse(textOf(n))
	if text == "" && n.DataAtom == atom.Input {
		text = attr(n, "value")
	}
	if len(text) > 120 {
		text = text[:120]
	}
	return schemas.PageElement{
		Tag:         n.Data,
		Text:        text,
		ID:          attr(n, "id"),
		Name:        attr(n, "name"),
		Type:        strings.ToLower(attr(n, "type")),
		Class:       strings.TrimSpace(attr(n, "class")),
		DataTestID:  attr(n, "data-testid"),
		AriaLabel:   attr(n, "aria-label"),
		Placeholder: attr(n, "placeholder"),
		Role:        attr(n, "role"),
		Href:        attr(n, "href"),
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
