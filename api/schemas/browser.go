package schemas

// -- Live Page Schemas --

// PageElement is one interactive element pulled from a live page.
type PageElement struct {
	Tag         string `json:"tag"`
	Text        string `json:"text"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Class       string `json:"class"`
	DataTestID  string `json:"dataTestId"`
	AriaLabel   string `json:"ariaLabel"`
	Placeholder string `json:"placeholder"`
	Role        string `json:"role"`
	Href        string `json:"href"`
}

// IsInput reports whether the element accepts text.
func (e PageElement) IsInput() bool {
	return e.Tag == "input" || e.Tag == "textarea" || e.Tag == "select"
}

// PageData is the result of fetching a page for analysis.
type PageData struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Buttons  []PageElement `json:"buttons"`
	Inputs   []PageElement `json:"inputs"`
	HTML     string        `json:"html,omitempty"`
	Source   string        `json:"source"` // "browser" or "http"
	Duration float64       `json:"duration_ms"`
}

// Empty reports whether no interactive element was found.
func (p *PageData) Empty() bool {
	return p == nil || (len(p.Buttons) == 0 && len(p.Inputs) == 0)
}

// Field types assigned by the live analyzer.
const (
	FieldUsername = "username"
	FieldPassword = "password"
	FieldEmail    = "email"
	FieldSubmit   = "submit"
	FieldSearch   = "search"
	FieldText     = "text"
	FieldButton   = "button"
	FieldLink     = "link"
)

// LiveSelector is a selector grounded in the live DOM.
type LiveSelector struct {
	Selector   Selector    `json:"iwa_selector"`
	FieldType  string      `json:"field_type"`
	Confidence float64     `json:"confidence"`
	Element    PageElement `json:"element"`
}
