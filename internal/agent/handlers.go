package agent

import (
	"regexp"
	"sort"
	"strings"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

var (
	bookingItem  = regexp.MustCompile(`(?i)\b(?:book|reserve|rent)\s+(?:a|an|the)?\s*(.+?)(?:\s+(?:for|on|at|from|with|in)\b.*)?$`)
	calendarView = regexp.MustCompile(`(?i)\b(month|week|day|agenda)\s+view\b`)
	pageNumber   = regexp.MustCompile(`(?i)\bpage\s+(\d+)\b`)
)

// formOrder is the fill order for well-known form fields.
var formOrder = []string{"name", "email", "phone", "address", "subject", "message"}

// submit clicks the button for intent, with the generic submit input last.
func (b *builder) submit(intent string) {
	sels := selectors.Buttons(selectors.Synonyms(intent)...)
	b.click(append(sels, schemas.Attr("type", "submit"))...)
}

// fillGuess types value into the field the prompt names, or the first input.
func (b *builder) fillGuess(value string) {
	if field, ok := selectors.FieldFromValue(b.p.Task.Prompt); ok {
		b.fill(field, value)
		return
	}
	b.typeInto(value, schemas.Tag("input", nil), schemas.Tag("textarea", nil))
}

// fillFields types every labeled form value, known fields first.
func (b *builder) fillFields(skip ...string) int {
	fields := b.p.Parsed.FormFields
	done := map[string]bool{}
	for _, s := range skip {
		done[s] = true
	}
	n := 0
	for _, f := range formOrder {
		if v := fields[f]; v != "" && !done[f] {
			b.fill(f, v)
			done[f] = true
			n++
		}
	}
	rest := make([]string, 0, len(fields))
	for k := range fields {
		if !done[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if v := fields[k]; v != "" {
			b.fill(k, v)
			n++
		}
	}
	return n
}

func (b *builder) onPage(pt schemas.PageType) bool {
	return b.p.Detection.Context.PageType == pt
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// -- Handlers --

func buildLogin(b *builder) {
	b.fill("username", b.username())
	b.fill("password", b.password())
	b.submit("login")
	b.settle()
	b.shot()
}

func buildRegistration(b *builder) {
	if !b.onPage(schemas.PageRegister) {
		b.intent("register")
		b.settle()
	}
	b.fill("username", b.username())
	b.fill("email", b.email())
	b.fill("password", b.password())
	if b.has("confirm") {
		b.fill("confirm_password", b.password())
	}
	b.fillFields("username", "email", "password")
	b.submit("register")
	b.settle()
	b.shot()
}

func buildBooking(b *builder) {
	item := b.subject()
	if item == "" {
		if m := bookingItem.FindStringSubmatch(b.p.Task.Prompt); m != nil {
			item = strings.TrimSpace(m[1])
		}
	}
	if item != "" {
		b.fill("search", item)
		b.intent("search")
		b.settle()
		b.button(item)
		b.settle()
	}
	b.fillFields()
	b.intent("book")
	b.settle()
	b.shot()
}

func buildJob(b *builder) {
	title := b.subject()
	switch b.p.Parsed.TaskType {
	case schemas.TaskJobSearch:
		q := b.p.Parsed.TextToType
		if q == "" {
			q = title
		}
		if q != "" {
			b.fill("search", q)
		}
		b.intent("search")
	case schemas.TaskJobView:
		if title != "" {
			b.button(title, "View Details", "View Job")
		} else {
			b.button("View Details", "View Job", "View")
		}
	default:
		if title != "" {
			b.button(title)
			b.settle()
		}
		b.button("Apply Now", "Apply", "Apply for this job")
		b.settle()
		if b.fillFields() > 0 {
			b.submit("submit")
		}
	}
	b.settle()
	b.shot()
}

func buildForm(b *builder) {
	if b.fillFields() == 0 {
		if email := b.p.Parsed.Credentials.Email; email != "" {
			b.fill("email", email)
		}
		if t := b.p.Parsed.TextToType; t != "" {
			b.fill("message", t)
		}
	}
	b.submit("submit")
	b.settle()
	b.shot()
}

func buildModify(b *builder) {
	target := b.p.Parsed.TargetElement
	if b.has("delete", "remove") {
		if target != "" {
			b.button(target)
			b.pause()
		}
		b.intent("delete")
		b.pause()
		b.button("Confirm", "Yes", "OK")
		b.settle()
		b.shot()
		return
	}
	if target != "" && target != b.p.Parsed.TextToType {
		b.button(target)
		b.pause()
	}
	b.button("Edit", "Update", "Modify")
	b.pause()
	if v := b.p.Parsed.TextToType; v != "" {
		b.fillGuess(v)
	}
	b.fillFields()
	b.intent("save")
	b.settle()
	b.shot()
}

func buildFilter(b *builder) {
	filters := b.p.Parsed.Filters
	if len(filters) == 0 {
		buildSearch(b)
		return
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.button(capitalize(k), "Filter", "Filters")
		b.pause()
		b.button(filters[k])
		b.pause()
	}
	b.intent("apply")
	b.settle()
	b.shot()
}

func buildSearch(b *builder) {
	q := b.p.Parsed.TextToType
	if q == "" {
		q = b.subject()
	}
	if q != "" {
		b.fill("search", q)
	} else {
		b.click(selectors.Field("search")...)
	}
	b.intent("search")
	b.settle()
	b.shot()
}

func buildComment(b *builder) {
	text := b.p.Parsed.TextToType
	if text == "" {
		text = b.p.Parsed.FormFields["comment"]
	}
	if text == "" {
		text = "Great post!"
	}
	if t := b.p.Parsed.TargetElement; t != "" && t != text {
		b.button(t)
		b.settle()
	}
	b.fill("comment", text)
	b.intent("post")
	b.settle()
	b.shot()
}

var socialVerbs = []struct{ word, label string }{
	{"unfollow", "Unfollow"},
	{"follow", "Follow"},
	{"unlike", "Unlike"},
	{"like", "Like"},
	{"share", "Share"},
	{"connect", "Connect"},
}

func buildSocial(b *builder) {
	if b.has("post") && b.p.Parsed.TextToType != "" {
		b.typeInto(b.p.Parsed.TextToType,
			schemas.Tag("textarea", nil), schemas.Attr("name", "content"), schemas.Attr("placeholder", "What's on your mind?"))
		b.intent("post")
		b.settle()
		b.shot()
		return
	}
	label := "Like"
	for _, v := range socialVerbs {
		if b.has(v.word) {
			label = v.label
			break
		}
	}
	if t := b.p.Parsed.TargetElement; t != "" && !strings.EqualFold(t, label) {
		b.button(t)
		b.settle()
	}
	b.button(label)
	b.pause()
	b.shot()
}

func buildClick(b *builder) {
	target := b.p.Parsed.TargetElement
	if target == "" {
		target = b.subject()
	}
	if m := calendarView.FindStringSubmatch(target); m != nil {
		target = capitalize(strings.ToLower(m[1]))
	}
	b.pause()
	if target == "" {
		b.click(selectors.Fallback())
	} else {
		b.click(schemas.TagContains(target), schemas.Attr("aria-label", target))
	}
	b.settle()
	b.shot()
}

func buildType(b *builder) {
	text := b.p.Parsed.TextToType
	if text == "" {
		text = b.subject()
	}
	if text != "" {
		b.fillGuess(text)
		b.pause()
	}
	b.shot()
}

func buildScroll(b *builder) {
	if b.has(" up", "top") {
		b.add(schemas.ScrollUp())
	} else {
		b.add(schemas.ScrollDown())
	}
	b.pause()
	if t := b.p.Parsed.TargetElement; t != "" && b.has("click") {
		b.button(t)
		b.settle()
	}
	b.shot()
}

func buildExtract(b *builder) {
	if s := b.subject(); s != "" {
		b.button(s)
	} else {
		b.click(
			schemas.CSS(".book-card a"),
			schemas.CSS("a[href*='book']"),
			schemas.CSS(".card a"),
			schemas.TagContains("Details"),
		)
	}
	b.settle()
	b.shot()
}

func buildCalendar(b *builder) {
	if m := calendarView.FindStringSubmatch(b.p.Task.Prompt); m != nil {
		b.button(capitalize(strings.ToLower(m[1])))
		b.pause()
		b.shot()
		return
	}
	if b.has("add", "create", "new", "schedule") {
		b.button("Add Event", "New Event", "Create")
		b.pause()
		if title := b.subject(); title != "" {
			b.typeInto(title, schemas.Attr("name", "title"), schemas.Attr("placeholder", "Title"), schemas.Attr("id", "title"))
		}
		b.intent("save")
		b.settle()
		b.shot()
		return
	}
	if s := b.subject(); s != "" {
		b.button(s)
	} else {
		b.button("Today")
	}
	b.pause()
	b.shot()
}

func buildView(b *builder) {
	if s := b.subject(); s != "" {
		b.button(s, "View Details", "Details")
	} else {
		b.button("View", "View Details", "Details")
	}
	b.settle()
	b.shot()
}

func buildUpload(b *builder) {
	b.click(schemas.Attr("type", "file"), schemas.TagContains("Upload"), schemas.TagContains("Choose File"))
	b.pause()
	b.button("Upload", "Submit")
	b.settle()
	b.shot()
}

func buildModal(b *builder) {
	if b.has("close", "dismiss") {
		b.intent("close")
	} else if s := b.subject(); s != "" {
		b.button(s, "Open")
	} else {
		b.button("Open", "Show")
	}
	b.pause()
	b.shot()
}

func buildTab(b *builder) {
	if s := b.subject(); s != "" {
		b.click(schemas.TagContains(s), schemas.Attr("role", "tab"))
	} else {
		b.click(schemas.Attr("role", "tab"))
	}
	b.pause()
	b.shot()
}

func buildPagination(b *builder) {
	switch {
	case b.has("previous", "prev "):
		b.button("Previous", "Prev", "<")
	case pageNumber.MatchString(b.p.Task.Prompt):
		b.button(pageNumber.FindStringSubmatch(b.p.Task.Prompt)[1])
	default:
		b.intent("next")
	}
	b.settle()
	b.shot()
}

func buildDefault(b *builder) {
	switch {
	case b.p.Parsed.TargetElement != "":
		b.button(b.p.Parsed.TargetElement)
		b.settle()
	case b.p.Parsed.TextToType != "":
		b.fillGuess(b.p.Parsed.TextToType)
		b.pause()
	}
	b.shot()
}
