package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/llmutil"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

const fencedLogin = "Here you go:\n```json\n[\n" +
	`{"type": "ClickAction", "selector": {"type": "attributeValueSelector", "attribute": "name", "value": "username"}},` + "\n" +
	`{"type": "TypeAction", "selector": {"type": "attributeValueSelector", "attribute": "name", "value": "username"}, "text": "alice"},` + "\n" +
	`{"type": "ClickAction", "selector": {"type": "tagContainsSelector", "value": "Login"}},` + "\n" +
	"]\n```"

func newTestLLMAgent(t *testing.T, env *testEnv, client *MockLLMClient) *LLMAgent {
	t.Helper()
	cfg := env.cfg.LLM()
	cfg.Timeout = time.Second
	return NewLLMAgent(zaptest.NewLogger(t), cfg, client, env.pipeline, selectors.NewRanker())
}

func TestLLMAgentGeneratesAndCaches(t *testing.T) {
	env := newTestEnv(t, nil)
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return strings.Contains(req.UserPrompt, "Username: alice") &&
			strings.Contains(req.UserPrompt, "Task type: login") &&
			strings.Contains(req.SystemPrompt, "JSON array") &&
			req.Options.ForceJSON
	})).Return(fencedLogin, nil).Once()

	agent := newTestLLMAgent(t, env, client)
	p := env.prepare("Login with username:alice and password:secret123", "https://site.example/login")

	res, err := agent.Generate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, schemas.TierLLM, res.Tier)
	require.NotEmpty(t, res.Actions)
	assert.Equal(t, schemas.ActionNavigate, res.Actions[0].Type)
	assert.Equal(t, schemas.ActionScreenshot, res.Actions[len(res.Actions)-1].Type)
	assert.GreaterOrEqual(t, indexOf(res.Actions, typed("alice")), 0)
	assert.GreaterOrEqual(t, indexOf(res.Actions, clickOn("Login")), 0)

	// The second call is answered from the per-prompt cache.
	again, err := agent.Generate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, res.Actions, again.Actions)
	client.AssertExpectations(t)
}

func TestLLMAgentPromptCacheExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return(fencedLogin, nil).Twice()

	agent := newTestLLMAgent(t, env, client)
	now := time.Now()
	agent.now = func() time.Time { return now }
	p := env.prepare("Login with username:alice", "https://site.example/login")

	_, err := agent.Generate(context.Background(), p)
	require.NoError(t, err)
	now = now.Add(agent.cfg.CacheTTL + time.Second)
	_, err = agent.Generate(context.Background(), p)
	require.NoError(t, err)
	client.AssertNumberOfCalls(t, "Generate", 2)
}

func TestLLMAgentParseFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("I cannot help with that.", nil)

	agent := newTestLLMAgent(t, env, client)
	_, err := agent.Generate(context.Background(), env.prepare("Click the 'Go' button", "http://localhost:8001"))
	assert.ErrorIs(t, err, ErrParse)
	assert.ErrorIs(t, err, llmutil.ErrNoJSON)
}

func TestLLMAgentClientError(t *testing.T) {
	env := newTestEnv(t, nil)
	client := new(MockLLMClient)
	boom := errors.New("rate limited")
	client.On("Generate", mock.Anything, mock.Anything).Return("", boom)

	agent := newTestLLMAgent(t, env, client)
	_, err := agent.Generate(context.Background(), env.prepare("Click the 'Go' button", "http://localhost:8001"))
	assert.ErrorIs(t, err, boom)
}

func TestLLMAgentRejectsEmptyOutput(t *testing.T) {
	env := newTestEnv(t, nil)
	client := new(MockLLMClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("[]", nil)

	agent := newTestLLMAgent(t, env, client)
	_, err := agent.Generate(context.Background(), env.prepare("Click the 'Go' button", "http://localhost:8001"))
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestLLMAgentWithoutClient(t *testing.T) {
	env := newTestEnv(t, nil)
	agent := NewLLMAgent(zaptest.NewLogger(t), env.cfg.LLM(), nil, env.pipeline, nil)
	_, err := agent.Generate(context.Background(), env.prepare("Click the 'Go' button", ""))
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestUserPromptIncludesHints(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.prepare("Filter for books in the genre 'Horror'", "")
	p.Live = []schemas.LiveSelector{{
		Selector:   schemas.TagContains("Horror"),
		FieldType:  schemas.FieldButton,
		Confidence: 0.9,
		Element:    schemas.PageElement{Tag: "button", Text: "Horror"},
	}}

	up := userPrompt(p)
	assert.Contains(t, up, "Target URL: http://localhost:8001")
	assert.Contains(t, up, "Filters: genre=Horror")
	assert.Contains(t, up, `"tagContainsSelector"`)
	assert.Contains(t, up, "button Horror")
}
