package api

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/agent"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/metrics"
)

type mockSolver struct {
	mock.Mock
}

func (m *mockSolver) Solve(ctx context.Context, task agent.Task) *agent.Response {
	args := m.Called(ctx, task)
	return args.Get(0).(*agent.Response)
}

type panicSolver struct{}

func (panicSolver) Solve(context.Context, agent.Task) *agent.Response { panic("boom") }

type fixture struct {
	server  *Server
	handler http.Handler
	solver  *mockSolver
	metrics *metrics.Collector
}

func newFixture(t *testing.T, mutate func(*Deps)) fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()
	agentCfg := cfg.Agent()
	agentCfg.WebAgentID = "agent-7"

	solver := &mockSolver{}
	collector := metrics.New(0, 0)
	deps := Deps{
		Solver:   solver,
		Feedback: feedback.NewLoop(logger, feedback.Deps{}),
		Metrics:  collector,
		Cache:    memory.NewSemanticCache(logger, cfg.Cache(), nil),
	}
	if mutate != nil {
		mutate(&deps)
	}
	s := NewServer(logger, cfg.Server(), agentCfg, deps)
	return fixture{server: s, handler: s.Routes(), solver: solver, metrics: collector}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestSolveTask(t *testing.T) {
	f := newFixture(t, nil)
	seq := []schemas.Action{schemas.Navigate("http://localhost:8001/login"), schemas.Screenshot()}
	f.solver.On("Solve", mock.Anything, agent.Task{ID: "t-1", Prompt: "Login as alice", URL: "http://localhost:8001/login"}).
		Return(&agent.Response{Actions: seq, Tier: schemas.TierTemplate, TaskType: schemas.TaskLogin, Success: true}).Once()

	rr := f.do(t, http.MethodPost, "/solve_task",
		`{"id":"t-1","prompt":"Login as alice","url":"http://localhost:8001/login","extra":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	resp := decode[schemas.SolveResponse](t, rr)
	assert.Equal(t, seq, resp.Actions)
	assert.Equal(t, "agent-7", resp.WebAgentID)
	assert.Equal(t, "template", resp.Recording)
	assert.Equal(t, "t-1", resp.ID)
	assert.Equal(t, "t-1", resp.TaskID)
	assert.Equal(t, "login", resp.TaskType)
	assert.True(t, resp.Success)
	_, err := strconv.ParseFloat(resp.ResponseTimeMS, 64)
	assert.NoError(t, err, "response_time_ms must be a numeric string")
	f.solver.AssertExpectations(t)
}

func TestSolveTaskFallsBackToTaskID(t *testing.T) {
	f := newFixture(t, nil)
	f.solver.On("Solve", mock.Anything, mock.MatchedBy(func(task agent.Task) bool { return task.ID == "legacy" })).
		Return(&agent.Response{Actions: []schemas.Action{schemas.Screenshot()}, Tier: schemas.TierCache, Success: true}).Once()

	resp := decode[schemas.SolveResponse](t, f.do(t, http.MethodPost, "/solve_task", `{"task_id":"legacy","prompt":"Click Login"}`))
	assert.Equal(t, "legacy", resp.ID)
	assert.Equal(t, "cache", resp.Recording)
}

func TestSolveTaskRoundStart(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.do(t, http.MethodPost, "/solve_task", `{"id":"r-1","round_id":"42","task_type":"login"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[schemas.SolveResponse](t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, []schemas.Action{schemas.Screenshot()}, resp.Actions)
	assert.Equal(t, "round_start", resp.Recording)
	assert.Equal(t, "login", resp.TaskType)
	f.solver.AssertNotCalled(t, "Solve", mock.Anything, mock.Anything)
}

func TestSolveTaskNeverReturnsEmptyActions(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		f := newFixture(t, nil)
		rr := f.do(t, http.MethodPost, "/solve_task", `{"prompt":`)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[schemas.SolveResponse](t, rr)
		assert.Equal(t, schemas.MinimalSequence(), resp.Actions)
		assert.False(t, resp.Success)
		assert.Equal(t, "agent-7", resp.WebAgentID)
	})

	t.Run("empty solver output", func(t *testing.T) {
		f := newFixture(t, nil)
		f.solver.On("Solve", mock.Anything, mock.Anything).
			Return(&agent.Response{Tier: schemas.TierTemplate, Success: true}).Once()
		resp := decode[schemas.SolveResponse](t, f.do(t, http.MethodPost, "/solve_task", `{"id":"x","prompt":"do it"}`))
		assert.Equal(t, schemas.MinimalSequence(), resp.Actions)
		assert.False(t, resp.Success)
	})

	t.Run("solver panic", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Solver = panicSolver{} })
		rr := f.do(t, http.MethodPost, "/solve_task", `{"id":"x","prompt":"do it"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[schemas.SolveResponse](t, rr)
		assert.Equal(t, schemas.MinimalSequence(), resp.Actions)
		assert.False(t, resp.Success)
		assert.Equal(t, "fallback", resp.Recording)
	})
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[schemas.HealthResponse](t, rr)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, config.AgentHybrid, resp.AgentType)
}

func TestMetricsEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	f.metrics.Record(schemas.TierTemplate, 100*time.Millisecond, true)
	f.metrics.Record(schemas.TierCache, 20*time.Millisecond, true)
	f.metrics.Record(schemas.TierFallback, 300*time.Millisecond, false)

	t.Run("metrics", func(t *testing.T) {
		rr := f.do(t, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[MetricsResponse](t, rr)
		assert.EqualValues(t, 3, resp.TotalRequests)
		assert.EqualValues(t, 1, resp.Failed)
		assert.EqualValues(t, 1, resp.ByTier["cache"])
		require.NotNil(t, resp.Cache)
		assert.Equal(t, 0.95, resp.Cache.Threshold)
	})

	t.Run("dashboard", func(t *testing.T) {
		require.NoError(t, f.server.Feedback.Record(context.Background(), feedback.Outcome{Prompt: "Click Login", Success: true}))
		rr := f.do(t, http.MethodGet, "/api/dashboard/metrics", "")
		require.Equal(t, http.StatusOK, rr.Code)
		resp := decode[DashboardResponse](t, rr)
		assert.EqualValues(t, 3, resp.Metrics.TotalRequests)
		require.NotNil(t, resp.Feedback)
		assert.Equal(t, 1, resp.Feedback.Total)
		assert.Equal(t, 1.0, resp.Feedback.SuccessRate)
		assert.Nil(t, resp.Diversity)
		assert.Equal(t, config.AgentHybrid, resp.AgentType)
	})
}

func TestFeedback(t *testing.T) {
	t.Run("records a valid outcome", func(t *testing.T) {
		f := newFixture(t, nil)
		rr := f.do(t, http.MethodPost, "/feedback",
			`{"task_id":"t-1","prompt":"Click Login","url":"http://localhost:8001/","success":false,"error":"not found"}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"recorded"}`, rr.Body.String())

		c, ok := f.server.Feedback.Counts("Click Login", "http://localhost:8001/")
		require.True(t, ok)
		assert.Equal(t, 1, c.Failures)
		assert.Equal(t, "not found", c.LastError)
	})

	t.Run("rejects an empty prompt", func(t *testing.T) {
		f := newFixture(t, nil)
		rr := f.do(t, http.MethodPost, "/feedback", `{"success":true}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects a malformed body", func(t *testing.T) {
		f := newFixture(t, nil)
		rr := f.do(t, http.MethodPost, "/feedback", `nope`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "Invalid request body")
	})

	t.Run("reports disabled feedback", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Feedback = nil })
		rr := f.do(t, http.MethodPost, "/feedback", `{"prompt":"x"}`)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	rr := f.do(t, http.MethodOptions, "/solve_task", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	f.solver.AssertNotCalled(t, "Solve", mock.Anything, mock.Anything)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	defer client.CloseIdleConnections()
	resp, err := client.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestFormatMillis(t *testing.T) {
	assert.Equal(t, "1.50", formatMillis(1500*time.Microsecond))
	assert.Equal(t, "0.00", formatMillis(0))
}
