package scheduler

import (
	"os"
	"strconv"

	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/timectrl"
)

// Policy decides the sampling mode of a tick.
type Policy struct {
	// NominalStep is the physics step at 1× warp (seconds).
	NominalStep float64
	// AnalyticStepFactor is the multiple of NominalStep from which a step
	// is sampled analytically.
	AnalyticStepFactor float64
	// BlendingTicks is the number of consecutive unstable steps tolerated
	// before sampling analytically.
	BlendingTicks int
}

// DefaultPolicy returns the policy for a 50 Hz physics step.
func DefaultPolicy() Policy {
	return Policy{
		NominalStep:        0.02,
		AnalyticStepFactor: 1000,
		BlendingTicks:      timectrl.DefaultBlendingTicks,
	}
}

// PolicyFromEnv reads the policy from environment variables, keeping the
// defaults for unset or malformed values.
func PolicyFromEnv() Policy {
	p := DefaultPolicy()
	if v, ok := positiveFloatEnv("STARLIGHT_NOMINAL_STEP_SECONDS"); ok {
		p.NominalStep = v
	}
	if v, ok := positiveFloatEnv("STARLIGHT_ANALYTIC_STEP_FACTOR"); ok {
		p.AnalyticStepFactor = v
	}
	if raw := os.Getenv("STARLIGHT_BLENDING_TICKS"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			p.BlendingTicks = n
		}
	}
	return p
}

func positiveFloatEnv(key string) (float64, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !(v > 0) {
		return 0, false
	}
	return v, true
}

// AnalyticThreshold is the step (seconds) from which sampling is analytic.
func (p Policy) AnalyticThreshold() float64 {
	return p.NominalStep * p.AnalyticStepFactor
}

// Mode returns the sampling mode for a step of the given length. A nil
// tracker only considers the step length.
func (p Policy) Mode(step float64, tracker *timectrl.WarpTracker) core.SamplingMode {
	if tracker != nil && tracker.Blending(p.BlendingTicks) {
		return core.SamplingAnalytic
	}
	if p.AnalyticThreshold() > 0 && step >= p.AnalyticThreshold() {
		return core.SamplingAnalytic
	}
	return core.SamplingDiscrete
}
