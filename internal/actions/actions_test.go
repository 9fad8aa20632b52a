package actions

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/smartwait"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const siteURL = "https://site.example/login"

// ignoreAlternatives compares only wire-visible fields.
var ignoreAlternatives = cmpopts.IgnoreFields(schemas.Action{}, "Alternatives")

func verifyStrategy() schemas.Strategy {
	s := schemas.DefaultStrategy()
	s.WaitAfterNavigation = 1.5
	return s
}

func TestResolveType(t *testing.T) {
	testCases := map[string]schemas.ActionType{
		"click":             schemas.ActionClick,
		"ClickAction":       schemas.ActionClick,
		"type":              schemas.ActionTypeText,
		"fill":              schemas.ActionTypeText,
		"send_keys":         schemas.ActionSendKeys,
		"SendKeysIWAAction": schemas.ActionSendKeys,
		"navigate":          schemas.ActionNavigate,
		"Wait":              schemas.ActionWait,
		"scroll":            schemas.ActionScroll,
		"screenshot":        schemas.ActionScreenshot,
	}
	for in, expected := range testCases {
		got, ok := ResolveType(in)
		assert.True(t, ok, in)
		assert.Equal(t, expected, got, in)
	}
	_, ok := ResolveType("hover")
	assert.False(t, ok)
}

func TestConvertRenamesFields(t *testing.T) {
	raw := []map[string]any{
		{"action_type": "navigate", "url": siteURL},
		{"action_type": "wait", "duration": 2.0},
		{"action_type": "click", "selector": "#login", "x": 10.0, "y": 20.0},
		{"action_type": "type", "selector": map[string]any{"type": "attributeValueSelector", "attribute": "name", "value": "username"}, "text": "alice"},
		{"action_type": "scroll", "direction": "down"},
		{"action_type": "send_keys", "key": "Enter"},
		{"action_type": "hover", "selector": "#menu"},
		{"action_type": "wait", "milliseconds": 500},
	}
	got := Convert(raw)
	x, y := 10, 20
	expected := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.Wait(2),
		{Type: schemas.ActionClick, Selector: &schemas.Selector{Type: schemas.SelectorAttributeValue, Attribute: "id", Value: "login"}, X: &x, Y: &y},
		schemas.TypeText(schemas.Attr("name", "username"), "alice"),
		schemas.ScrollDown(),
		schemas.SendKeys("Enter"),
		schemas.Screenshot(),
		schemas.Wait(0.5),
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("Convert mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertRoundTripPreservesFields(t *testing.T) {
	x, y := 3, 4
	originals := []schemas.Action{
		schemas.Navigate(siteURL),
		{Type: schemas.ActionClick, Selector: &schemas.Selector{Type: schemas.SelectorTagContains, Value: "Month", CaseSensitive: true}, X: &x, Y: &y},
		schemas.TypeText(schemas.Attr("type", "password"), "secret123"),
		schemas.Wait(1.25),
		{Type: schemas.ActionScroll, Up: true},
		schemas.Screenshot(),
		schemas.SendKeys("Tab"),
		schemas.Click(schemas.XPath("//button[1]")),
		schemas.Click(schemas.CSS("form > button")),
		schemas.Click(schemas.Tag("button", map[string]string{"role": "tab"})),
	}
	for _, orig := range originals {
		t.Run(string(orig.Type), func(t *testing.T) {
			data, err := jsoniter.Marshal(orig)
			require.NoError(t, err)
			var m map[string]any
			require.NoError(t, jsoniter.Unmarshal(data, &m))
			assert.Equal(t, orig, ConvertOne(m))
		})
	}
}

func TestValidate(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("drops invalid and repairs the rest", func(t *testing.T) {
		in := []schemas.Action{
			{Type: schemas.ActionNavigate},
			{Type: schemas.ActionClick},
			{Type: schemas.ActionTypeText, Selector: &schemas.Selector{Type: schemas.SelectorCSS, Value: "#q"}},
			{Type: schemas.ActionWait, TimeSeconds: 9},
			{Type: schemas.ActionWait, TimeSeconds: -1},
			{Type: schemas.ActionScroll},
			{Type: "HoverAction"},
			schemas.Click(schemas.Attr("data-role", "menu")),
		}
		out := Validate(logger, in)
		require.Len(t, out, 4)
		assert.Equal(t, schemas.TagContains("button"), *out[0].Selector, "selector fallback injected")
		assert.Equal(t, schemas.MaxWaitSeconds, out[1].TimeSeconds)
		assert.True(t, out[2].Down)
		assert.Equal(t, schemas.CSS(`[data-role="menu"]`), *out[3].Selector)
	})

	t.Run("never empty", func(t *testing.T) {
		out := Validate(logger, []schemas.Action{{Type: schemas.ActionNavigate, URL: "not a url"}})
		assert.Equal(t, []schemas.Action{schemas.Screenshot()}, out)
		assert.Equal(t, []schemas.Action{schemas.Screenshot()}, Validate(logger, nil))
	})

	assert.ErrorIs(t, Check(schemas.Action{Type: "Nope"}), ErrUnknownType)
	assert.ErrorIs(t, Check(schemas.SendKeys(" ")), ErrMissingKeys)
}

func TestOptimizeSequenceRules(t *testing.T) {
	o := NewOptimizer(smartwait.New())
	opts := Options{URL: siteURL, Strategy: schemas.Strategy{ScreenshotFrequency: schemas.ScreenshotsAfterImportant}}

	in := []schemas.Action{
		schemas.Screenshot(),
		schemas.Screenshot(),
		schemas.Navigate("https://site.example/old"),
		schemas.Click(schemas.TagContains("Menu")),
		schemas.Navigate(siteURL),
		schemas.TypeText(schemas.Attr("name", "q"), "dune"),
		schemas.Click(schemas.TagContains("Go")),
		schemas.Wait(0.05),
		schemas.Wait(3),
		schemas.Wait(3),
		schemas.Screenshot(),
	}
	out := o.Optimize(in, opts)

	expected := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.Wait(2.25),
		schemas.Screenshot(),
		schemas.Click(schemas.TagContains("Menu")),
		schemas.TypeText(schemas.Attr("name", "q"), "dune"),
		schemas.Wait(0.3),
		schemas.Click(schemas.TagContains("Go")),
		schemas.Wait(5),
		schemas.Screenshot(),
	}
	if diff := cmp.Diff(expected, out, ignoreAlternatives); diff != "" {
		t.Errorf("Optimize mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizeFramesWithoutURL(t *testing.T) {
	o := NewOptimizer(nil)
	out := o.Optimize([]schemas.Action{schemas.Click(schemas.TagContains("Month"))}, Options{})
	require.Len(t, out, 3)
	assert.Equal(t, schemas.ActionScreenshot, out[0].Type)
	assert.Equal(t, schemas.ActionScreenshot, out[2].Type)

	assert.Equal(t, []schemas.Action{schemas.Screenshot()}, o.Optimize(nil, Options{}))
}

func TestOptimizeTrimsScreenshots(t *testing.T) {
	o := NewOptimizer(nil)
	var in []schemas.Action
	in = append(in, schemas.Navigate(siteURL))
	for i := 0; i < 5; i++ {
		in = append(in, schemas.Click(schemas.TagContains("Next")), schemas.Screenshot())
	}
	out := o.Optimize(in, Options{URL: siteURL})
	assert.LessOrEqual(t, countType(out, schemas.ActionScreenshot), 3)
	assert.Equal(t, schemas.ActionScreenshot, out[len(out)-1].Type)

	always := o.Optimize(in, Options{URL: siteURL, Strategy: schemas.Strategy{ScreenshotFrequency: schemas.ScreenshotsAlways}})
	assert.Equal(t, 5, countType(always, schemas.ActionScreenshot))
}

func TestOptimizeVerification(t *testing.T) {
	o := NewOptimizer(nil)
	in := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.Click(schemas.TagContains("Submit")),
		schemas.Click(schemas.TagContains("Close")),
	}
	out := o.Optimize(in, Options{URL: siteURL, Strategy: verifyStrategy()})
	expected := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.Wait(1.5),
		schemas.Screenshot(),
		schemas.Click(schemas.TagContains("Submit")),
		schemas.Wait(2.0),
		schemas.Screenshot(),
		schemas.Click(schemas.TagContains("Close")),
		schemas.Screenshot(),
	}
	if diff := cmp.Diff(expected, out, ignoreAlternatives); diff != "" {
		t.Errorf("verification mismatch (-want +got):\n%s", diff)
	}
}

func TestOptimizeFieldClicksAreNotVerified(t *testing.T) {
	o := NewOptimizer(nil)
	field := schemas.Attr("type", "search")
	in := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.Click(field),
		schemas.TypeText(field, "seaside"),
		schemas.Click(schemas.TagContains("Book")),
	}
	out := o.Optimize(in, Options{URL: siteURL, Strategy: verifyStrategy()})

	i := slicesIndex(out, func(a schemas.Action) bool { return a.Type == schemas.ActionClick && a.Selector.Value == "search" })
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, schemas.ActionTypeText, out[i+1].Type, "a field click is followed directly by its typing")

	assert.True(t, isCritical(schemas.Click(schemas.Attr("type", "submit"))))
	assert.True(t, isCritical(schemas.Click(schemas.Attr("aria-label", "Search"))))
	assert.False(t, isCritical(schemas.Click(schemas.Attr("name", "search"))))
	assert.False(t, isCritical(schemas.Click(schemas.CSS("#search"))))
}

func TestOptimizeWaitConditions(t *testing.T) {
	waits := smartwait.New()
	o := NewOptimizer(waits)

	nav := o.Optimize([]schemas.Action{schemas.Navigate(siteURL), schemas.Click(schemas.TagContains("Menu"))}, Options{URL: siteURL})
	require.Equal(t, schemas.ActionWait, nav[1].Type)
	assert.Equal(t, 2.25, nav[1].TimeSeconds, "navigation multiplier applies without a strategy wait")

	in := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.Wait(1),
		schemas.Click(schemas.TagContains("Sign In")),
		schemas.Click(schemas.TagContains("Profile")),
	}
	out := o.Optimize(in, Options{URL: siteURL})
	i := slicesIndex(out, func(a schemas.Action) bool { return a.Type == schemas.ActionClick && a.Selector.Value == "Sign In" })
	require.Equal(t, schemas.ActionWait, out[i+1].Type)
	// Click base 1.0, form submit x2.0, previous wait x0.7.
	assert.Equal(t, 1.4, out[i+1].TimeSeconds)

	waits.Learn(schemas.ActionClick, 3.0)
	out = o.Optimize(in, Options{URL: siteURL})
	i = slicesIndex(out, func(a schemas.Action) bool { return a.Type == schemas.ActionClick && a.Selector.Value == "Sign In" })
	assert.InDelta(t, 0.7*3.0+0.3*1.4, out[i+1].TimeSeconds, 0.01, "learned waits blend in")
}

func slicesIndex(xs []schemas.Action, pred func(schemas.Action) bool) int {
	for i, a := range xs {
		if pred(a) {
			return i
		}
	}
	return -1
}

func TestOptimizeIsIdempotent(t *testing.T) {
	o := NewOptimizer(smartwait.New())
	ctx := schemas.PageContext{IsLoginPage: true}
	seqs := [][]schemas.Action{
		nil,
		{schemas.Wait(0.01)},
		{schemas.TypeText(schemas.Attr("name", "username"), "alice"), schemas.TypeText(schemas.Attr("type", "password"), "pw"), schemas.Click(schemas.TagContains("Login"))},
		{schemas.Click(schemas.TagContains("Book Now")), schemas.Wait(0.2), schemas.Click(schemas.TagContains("Confirm")), schemas.Navigate(siteURL)},
		{schemas.Screenshot(), schemas.Wait(5), schemas.Wait(5), schemas.ScrollDown(), schemas.Screenshot(), schemas.Screenshot()},
	}
	for _, strategy := range []schemas.Strategy{{}, verifyStrategy(), {ScreenshotFrequency: schemas.ScreenshotsAlways, Verify: true}} {
		for _, url := range []string{"", siteURL} {
			for _, in := range seqs {
				opts := Options{URL: url, Strategy: strategy, Context: ctx}
				once := o.Optimize(in, opts)
				twice := o.Optimize(once, opts)
				if diff := cmp.Diff(once, twice, ignoreAlternatives); diff != "" {
					t.Errorf("not idempotent for %v (-once +twice):\n%s", in, diff)
				}
				assertInvariants(t, once, url)
			}
		}
	}
}

// assertInvariants checks the wire contract every returned sequence obeys.
func assertInvariants(t *testing.T, out []schemas.Action, url string) {
	t.Helper()
	require.NotEmpty(t, out)
	for i, a := range out {
		assert.True(t, schemas.KnownActionTypes[a.Type], "type %q", a.Type)
		if a.IsInteraction() {
			require.NotNil(t, a.Selector)
			assert.NotEmpty(t, a.Selector.Type)
			assert.NotEmpty(t, a.Selector.Value)
		}
		if a.Type == schemas.ActionWait {
			assert.GreaterOrEqual(t, a.TimeSeconds, schemas.MinWaitSeconds)
			assert.LessOrEqual(t, a.TimeSeconds, schemas.MaxWaitSeconds)
		}
		if a.Type == schemas.ActionNavigate {
			assert.Equal(t, 0, i, "navigate must be first")
		}
	}
	if url != "" {
		assert.Equal(t, schemas.ActionNavigate, out[0].Type)
	} else if out[0].Type != schemas.ActionNavigate {
		assert.Equal(t, schemas.ActionScreenshot, out[0].Type)
	}
	assert.Equal(t, schemas.ActionScreenshot, out[len(out)-1].Type)
}

func TestApplyLive(t *testing.T) {
	live := []schemas.LiveSelector{
		{Selector: schemas.Attr("id", "user-box"), FieldType: schemas.FieldUsername, Confidence: 0.9, Element: schemas.PageElement{Tag: "input", ID: "user-box"}},
		{Selector: schemas.Attr("id", "pw"), FieldType: schemas.FieldPassword, Confidence: 0.85, Element: schemas.PageElement{Tag: "input", Type: "password", ID: "pw"}},
		{Selector: schemas.Attr("id", "go"), FieldType: schemas.FieldSubmit, Confidence: 0.9, Element: schemas.PageElement{Tag: "button", Text: "Sign in", ID: "go"}},
		{Selector: schemas.Attr("id", "month"), FieldType: schemas.FieldButton, Confidence: 0.85, Element: schemas.PageElement{Tag: "button", Text: "Month"}},
	}
	in := []schemas.Action{
		schemas.Navigate(siteURL),
		schemas.TypeText(schemas.Attr("name", "username"), "alice"),
		schemas.TypeText(schemas.Attr("type", "password"), "pw"),
		schemas.Click(schemas.TagContains("Login")),
		schemas.Click(schemas.TagContains("month")),
		schemas.Click(schemas.TagContains("Unrelated")),
	}
	out := ApplyLive(in, live)
	require.Len(t, out, len(in))
	assert.Equal(t, schemas.Attr("id", "user-box"), *out[1].Selector)
	assert.Equal(t, schemas.Attr("name", "username"), out[1].Alternatives[0])
	assert.Equal(t, schemas.Attr("id", "pw"), *out[2].Selector)
	assert.Equal(t, schemas.Attr("id", "go"), *out[3].Selector)
	assert.Equal(t, schemas.Attr("id", "month"), *out[4].Selector)
	assert.Equal(t, schemas.TagContains("Unrelated"), *out[5].Selector, "heuristic wins without a match")
	assert.Equal(t, schemas.TagContains("Login"), *in[3].Selector, "input untouched")

	assert.Equal(t, in, ApplyLive(in, nil))
}

func TestRebind(t *testing.T) {
	from := schemas.ParsedTask{
		URL:         "http://localhost:8001/login",
		Credentials: schemas.Credentials{Username: "alice", Password: "a1"},
		Filters:     map[string]string{"genre": "Horror"},
	}
	to := schemas.ParsedTask{
		URL:         "http://localhost:8001/signin",
		Credentials: schemas.Credentials{Username: "bob", Password: "b2"},
		Filters:     map[string]string{"genre": "Comedy"},
	}
	in := []schemas.Action{
		schemas.Navigate(from.URL),
		schemas.TypeText(schemas.Attr("name", "username"), "alice"),
		schemas.TypeText(schemas.Attr("type", "password"), "a1"),
		schemas.Click(schemas.TagContains("Horror")),
		schemas.TypeText(schemas.Attr("name", "q"), "untouched"),
	}
	out := Rebind(in, from, to)
	assert.Equal(t, to.URL, out[0].URL)
	assert.Equal(t, "bob", out[1].Text)
	assert.Equal(t, "b2", out[2].Text)
	assert.Equal(t, "Comedy", out[3].Selector.Value)
	assert.Equal(t, "untouched", out[4].Text)
	assert.Equal(t, "alice", in[1].Text)
}

func TestPipelineProcessRaw(t *testing.T) {
	p := NewPipeline(zaptest.NewLogger(t), smartwait.New())
	out := p.ProcessRaw([]map[string]any{
		{"action": "click"},
		{"action": "teleport"},
		{"action": "type", "selector": "input[name='username']", "text": "alice"},
	}, Options{URL: siteURL})
	assertInvariants(t, out, siteURL)
	require.Equal(t, schemas.ActionClick, out[2].Type)
	assert.Equal(t, schemas.TagContains("button"), *out[2].Selector)
}
