package governor

import (
	"math"

	"github.com/irun2themoney/autoppia-miner/api/schemas"
)

const jitterSpread = 0.3

// Perturb returns a copy of actions with every wait jittered by up to ±15%,
// kept inside the wait bounds. At least one wait changes when any exists.
func (g *Governor) Perturb(actions []schemas.Action) []schemas.Action {
	out := schemas.CloneActions(actions)
	g.mu.Lock()
	defer g.mu.Unlock()

	changed, first := false, -1
	for i := range out {
		if out[i].Type != schemas.ActionWait {
			continue
		}
		if first < 0 {
			first = i
		}
		factor := 1 - jitterSpread/2 + g.rnd.Float64()*jitterSpread
		t := clampWait(round2(out[i].TimeSeconds * factor))
		if t != out[i].TimeSeconds {
			changed = true
		}
		out[i].TimeSeconds = t
	}
	if !changed && first >= 0 {
		t := out[first].TimeSeconds
		if t+0.1 <= schemas.MaxWaitSeconds {
			out[first].TimeSeconds = round2(t + 0.1)
		} else {
			out[first].TimeSeconds = round2(t - 0.1)
		}
	}
	return out
}

func clampWait(t float64) float64 {
	return math.Min(schemas.MaxWaitSeconds, math.Max(schemas.MinWaitSeconds, t))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
