package governor

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
	"github.com/irun2themoney/autoppia-miner/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.GovernorConfig {
	return config.GovernorConfig{
		Enabled:               true,
		DiversityWindow:       20,
		UsageWindow:           50,
		MinConfidence:         0.5,
		HighSimilarity:        0.9,
		ForceFreshProbability: 0.1,
		PerturbBelow:          0.7,
	}
}

func newTestGovernor(cfg config.GovernorConfig) *Governor {
	return New(zap.NewNop(), cfg, rand.New(rand.NewPCG(1, 2)))
}

func TestPenalty(t *testing.T) {
	testCases := []struct {
		s         float64
		usage     int
		diversity float64
		expected  float64
	}{
		{0.8, 0, 1.0, 0},
		{0.95, 0, 1.0, 0.03},
		{0.8, 7, 1.0, 0.2},
		{0.8, 0, 0.1, 0.04},
		{1.0, 6, 0.0, 0.045 + 0.1 + 0.06},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("s=%v/u=%d/d=%v", tc.s, tc.usage, tc.diversity), func(t *testing.T) {
			assert.InDelta(t, tc.expected, Penalty(tc.s, tc.usage, tc.diversity), 1e-9)
		})
	}
}

func TestCheckAllowsModerateSimilarity(t *testing.T) {
	g := newTestGovernor(testConfig())
	d := g.Check("k", 0.8)
	assert.True(t, d.Allow)
	assert.Equal(t, ReasonAllowed, d.Reason)
	assert.InDelta(t, 0.8, d.Adjusted, 1e-9)
	assert.Equal(t, 1, g.Usage("k"))
}

func TestCheckRejectsLowConfidence(t *testing.T) {
	g := newTestGovernor(testConfig())
	d := g.Check("k", 0.4)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonLowConfidence, d.Reason)
	assert.Equal(t, 0, g.Usage("k"), "vetoed reuse does not count")
}

func TestRepeatedReuseIsEventuallyVetoed(t *testing.T) {
	cfg := testConfig()
	cfg.ForceFreshProbability = 0
	g := newTestGovernor(cfg)

	allowed := 0
	for i := 0; i < 30; i++ {
		g.Observe("Click the month view button", "http://localhost:8010/")
		if g.Check("same", 1.0).Allow {
			allowed++
		}
	}
	assert.Less(t, allowed, 30)
	assert.Greater(t, allowed, 0)
	assert.LessOrEqual(t, g.Usage("same"), 10)
}

func TestVetoedKeyRecoversAsUsageAges(t *testing.T) {
	cfg := testConfig()
	cfg.ForceFreshProbability = 0
	cfg.UsageWindow = 10
	g := newTestGovernor(cfg)

	vetoed, recovered := false, false
	for i := 0; i < 100; i++ {
		allow := g.Check("same", 1.0).Allow
		if !allow {
			vetoed = true
		} else if vetoed {
			recovered = true
		}
	}
	assert.True(t, vetoed)
	assert.True(t, recovered, "refusals age old uses out of the window")
	assert.LessOrEqual(t, g.Usage("same"), cfg.UsageWindow)
}

func TestHighSimilarityForcesFreshSometimes(t *testing.T) {
	cfg := testConfig()
	g := newTestGovernor(cfg)

	forced := 0
	for i := 0; i < 1000; i++ {
		// Distinct keys keep usage penalties out of the picture.
		d := g.Check(fmt.Sprintf("k%d", i), 0.95)
		if d.Reason == ReasonForcedFresh {
			forced++
		}
		if d.Allow {
			assert.GreaterOrEqual(t, d.Adjusted, 0.5)
			assert.LessOrEqual(t, d.Adjusted, 0.95)
		}
	}
	assert.InDelta(t, 100, forced, 40)
}

func TestStalePatternForcedFresh(t *testing.T) {
	cfg := testConfig()
	cfg.ForceFreshProbability = 0
	g := newTestGovernor(cfg)
	for i := 0; i < 4; i++ {
		require.True(t, g.Check("k", 0.8).Allow)
	}
	g.RecordOutcome("k", false)
	g.RecordOutcome("k", false)
	g.RecordOutcome("k", true)

	d := g.Check("k", 0.8)
	assert.False(t, d.Allow)
	assert.Equal(t, ReasonStalePattern, d.Reason)
}

func TestDisabledAllowsEverything(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	g := newTestGovernor(cfg)
	d := g.Check("k", 0.1)
	assert.True(t, d.Allow)
	assert.False(t, g.ShouldPerturb(d))
}

func TestDiversityScore(t *testing.T) {
	g := newTestGovernor(testConfig())
	assert.Equal(t, 1.0, g.DiversityScore())

	// Same task shape with different credentials counts once.
	g.Observe("Login with username:alice and password:a", "http://localhost:8001/")
	g.Observe("Login with username:bob and password:b", "http://localhost:8001/")
	assert.Equal(t, 0.5, g.DiversityScore())

	for i := 0; i < 40; i++ {
		g.Observe(fmt.Sprintf("task number %d", i), "")
	}
	assert.Equal(t, 1.0, g.DiversityScore(), "window only keeps the last 20")
}

func TestPerturb(t *testing.T) {
	g := newTestGovernor(testConfig())
	in := []schemas.Action{
		schemas.Navigate("http://localhost:8001/"),
		schemas.Wait(1.5),
		schemas.Click(schemas.TagContains("Go")),
		schemas.Wait(schemas.MaxWaitSeconds),
		schemas.Screenshot(),
	}
	out := g.Perturb(in)
	require.Len(t, out, len(in))
	assert.Equal(t, 1.5, in[1].TimeSeconds, "input untouched")
	assert.NotEqual(t, in, out)
	for _, a := range out {
		if a.Type == schemas.ActionWait {
			assert.GreaterOrEqual(t, a.TimeSeconds, schemas.MinWaitSeconds)
			assert.LessOrEqual(t, a.TimeSeconds, schemas.MaxWaitSeconds)
		}
	}

	noWaits := []schemas.Action{schemas.Screenshot()}
	assert.Equal(t, noWaits, g.Perturb(noWaits))
}

func TestConcurrentChecks(t *testing.T) {
	g := newTestGovernor(testConfig())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.Observe(fmt.Sprintf("p%d", i), "")
			g.Check("shared", 0.8)
			g.RecordOutcome("shared", true)
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, g.Usage("shared"), 20)
}
