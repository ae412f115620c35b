package scheduler

import (
	"testing"

	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/timectrl"
)

func TestPolicyMode(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		name string
		step float64
		want core.SamplingMode
	}{
		{"nominal", 0.02, core.SamplingDiscrete},
		{"moderate warp", 10, core.SamplingDiscrete},
		{"threshold", 20, core.SamplingAnalytic},
		{"high warp", 2000, core.SamplingAnalytic},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.Mode(tc.step, nil); got != tc.want {
				t.Fatalf("Mode(%v) = %v, want %v", tc.step, got, tc.want)
			}
		})
	}
}

func TestPolicyModeFollowsTracker(t *testing.T) {
	p := DefaultPolicy()
	tr := timectrl.NewWarpTracker()
	for _, step := range []float64{0.02, 0.5, 1, 2} {
		tr.Observe(step)
	}
	if got := p.Mode(2, tr); got != core.SamplingAnalytic {
		t.Fatalf("Mode while blending = %v, want analytic", got)
	}
	p.BlendingTicks = 3
	if got := p.Mode(2, tr); got != core.SamplingDiscrete {
		t.Fatalf("Mode with higher tolerance = %v, want discrete", got)
	}
}

func TestPolicyFromEnv(t *testing.T) {
	t.Setenv("STARLIGHT_NOMINAL_STEP_SECONDS", "0.5")
	t.Setenv("STARLIGHT_ANALYTIC_STEP_FACTOR", "4")
	t.Setenv("STARLIGHT_BLENDING_TICKS", "not-a-number")

	p := PolicyFromEnv()
	if p.NominalStep != 0.5 || p.AnalyticStepFactor != 4 {
		t.Fatalf("PolicyFromEnv = %+v", p)
	}
	if p.BlendingTicks != timectrl.DefaultBlendingTicks {
		t.Fatalf("BlendingTicks = %d, want default", p.BlendingTicks)
	}
	if p.AnalyticThreshold() != 2 {
		t.Fatalf("AnalyticThreshold = %v, want 2", p.AnalyticThreshold())
	}
}
