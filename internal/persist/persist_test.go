package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/selectors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	prompt = "Login with username:alice and password:secret123"
	url    = "http://localhost:8001/login"
)

type sinkFunc func(context.Context, []memory.PatternStats) error

func (f sinkFunc) SavePatterns(ctx context.Context, p []memory.PatternStats) error { return f(ctx, p) }

func persistenceConfig(dir string) config.PersistenceConfig {
	cfg := config.NewDefaultConfig().Persistence()
	cfg.Dir = dir
	cfg.FlushInterval = time.Millisecond
	return cfg
}

type targets struct {
	Targets
	ranker *selectors.Ranker
}

func newTargets(t *testing.T) targets {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ranker := selectors.NewRanker()
	return targets{
		Targets: Targets{
			Feedback: feedback.NewLoop(logger, feedback.Deps{Ranker: ranker}),
			Patterns: memory.NewPatternLearner(logger, nil),
			Vector:   memory.NewVectorMemory(logger, config.NewDefaultConfig().Memory(), nil),
		},
		ranker: ranker,
	}
}

func TestWriteReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	require.NoError(t, WriteJSON(path, map[string]int{"a": 1}))

	var got map[string]int
	found, err := ReadJSON(path, &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[string]int{"a": 1}, got)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	assert.Empty(t, leftovers)
}

func TestReadJSONMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	var v map[string]any
	found, err := ReadJSON(filepath.Join(dir, "absent.json"), &v)
	assert.NoError(t, err)
	assert.False(t, found)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{oops"), 0o644))
	found, err = ReadJSON(bad, &v)
	assert.Error(t, err)
	assert.True(t, found)
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := newTargets(t)
	seq := []schemas.Action{schemas.Navigate(url), schemas.Click(schemas.TagContains("Login")), schemas.Screenshot()}
	src.Patterns.Learn(prompt, url, seq, schemas.ParsedTask{TaskType: schemas.TaskLogin}, true)
	src.Vector.Add(memory.Record{Prompt: prompt, URL: url, Actions: seq, SuccessRate: 1})
	require.NoError(t, src.Feedback.Record(context.Background(), feedback.Outcome{Prompt: prompt, URL: url, Actions: seq, Success: true}))

	var saved []memory.PatternStats
	src.Sink = sinkFunc(func(_ context.Context, p []memory.PatternStats) error {
		saved = p
		return nil
	})

	p, err := New(zaptest.NewLogger(t), persistenceConfig(dir), src.Targets)
	require.NoError(t, err)
	require.NoError(t, p.Flush(context.Background()))
	assert.FileExists(t, filepath.Join(dir, "feedback.json"))
	assert.FileExists(t, filepath.Join(dir, "patterns.json"))
	require.Len(t, saved, 1)

	dst := newTargets(t)
	q, err := New(zaptest.NewLogger(t), persistenceConfig(dir), dst.Targets)
	require.NoError(t, err)
	q.Load()

	st, ok := dst.Patterns.Stats(prompt, url)
	require.True(t, ok)
	assert.Equal(t, 1, st.Successes)
	assert.Equal(t, seq, st.Actions)
	assert.Equal(t, 1, dst.Vector.Len())
	rate, ok := dst.Feedback.SuccessRate()
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
	assert.Equal(t, 1, dst.ranker.Stats(schemas.TagContains("Login")).Success)
}

func TestLoadIgnoresCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feedback.json"), []byte("not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patterns.json"), []byte("[1,2"), 0o644))

	tg := newTargets(t)
	p, err := New(zaptest.NewLogger(t), persistenceConfig(dir), tg.Targets)
	require.NoError(t, err)
	p.Load()

	_, ok := tg.Feedback.SuccessRate()
	assert.False(t, ok)
	assert.Zero(t, tg.Patterns.Len())
}

func TestFlushReportsSinkErrors(t *testing.T) {
	tg := newTargets(t)
	tg.Patterns.Learn(prompt, url, []schemas.Action{schemas.Screenshot()}, schemas.ParsedTask{}, true)
	sinkErr := errors.New("db down")
	tg.Sink = sinkFunc(func(context.Context, []memory.PatternStats) error { return sinkErr })

	p, err := New(zaptest.NewLogger(t), persistenceConfig(t.TempDir()), tg.Targets)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Flush(context.Background()), sinkErr)
}

func TestStartStopWritesFinalSnapshot(t *testing.T) {
	dir := t.TempDir()
	tg := newTargets(t)
	p, err := New(zaptest.NewLogger(t), persistenceConfig(dir), tg.Targets)
	require.NoError(t, err)

	p.Start(context.Background())
	require.NoError(t, tg.Feedback.Record(context.Background(), feedback.Outcome{Prompt: prompt, URL: url}))
	p.Stop(context.Background())
	p.Stop(context.Background())

	var st feedback.State
	found, err := ReadJSON(filepath.Join(dir, "feedback.json"), &st)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, st.Total)
}
