package taskparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Run("credentials collapse", func(t *testing.T) {
		a := Normalize("Login with username:alice and password:secret123")
		b := Normalize("Please login with username:bob and password:hunter2")
		assert.Equal(t, a, b)
		assert.Contains(t, a, "username:xxx")
		assert.Contains(t, a, "password:xxx")
		assert.NotContains(t, a, "alice")
	})

	t.Run("quoted credentials collapse", func(t *testing.T) {
		a := Normalize("Register with username 'newu', email 'n@e.com' and password 'PASSWORD'")
		b := Normalize("Register with username 'other', email 'o@x.org' and password 'pw'")
		assert.Equal(t, a, b)
	})

	t.Run("login as user", func(t *testing.T) {
		assert.Equal(t, Normalize("Login as user bob"), Normalize("login as carol"))
	})

	t.Run("urls collapse", func(t *testing.T) {
		a := Normalize("Open https://a.example/x and click Go")
		b := Normalize("open http://b.example/y?z=1 and click go")
		assert.Equal(t, a, b)
		assert.Contains(t, a, "url:xxx")
	})

	t.Run("fillers and punctuation removed", func(t *testing.T) {
		assert.Equal(t, "click month view button", Normalize("Please, click the Month view button!"))
	})

	t.Run("different intents stay different", func(t *testing.T) {
		assert.NotEqual(t, Normalize("Click the month view button"), Normalize("Click the week view button"))
	})
}

func TestDomain(t *testing.T) {
	assert.Equal(t, "localhost:8001", Domain("http://localhost:8001/books?id=1"))
	assert.Equal(t, "site.example", Domain("site.example/login"))
	assert.Equal(t, "site.example", Domain("HTTPS://Site.Example"))
	assert.Equal(t, "", Domain(""))
	assert.Equal(t, "", Domain("http://[::1"))
}

func TestPatternKey(t *testing.T) {
	k1 := PatternKey("Login with username:a and password:b", "http://localhost:8001/login")
	k2 := PatternKey("login with username:c and password:d", "http://localhost:8001/")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, PatternKey("Login with username:a and password:b", "http://localhost:8000/"))
}

func TestKeywordsAndJaccard(t *testing.T) {
	kw := Keywords("Click the Login button and the login link")
	assert.Equal(t, []string{"click", "login", "button", "link"}, kw)

	a := KeywordSet("click login button")
	b := KeywordSet("click login link")
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard(a, a))
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}
