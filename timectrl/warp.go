package timectrl

import (
	"math"
	"sync"
)

const (
	// DefaultStepTolerance is the largest change between consecutive steps
	// (seconds) still considered the same step.
	DefaultStepTolerance = 0.001
	// DefaultBlendingTicks is the number of consecutive unstable ticks
	// tolerated before the step is considered to be blending.
	DefaultBlendingTicks = 2
)

// WarpTracker watches the per-tick step for changes. While time warp is
// being changed the step drifts every tick; instantaneous samples taken
// then are unrepresentative.
type WarpTracker struct {
	mu sync.Mutex

	prev     float64
	unstable int
	observed bool
}

// NewWarpTracker returns an empty tracker.
func NewWarpTracker() *WarpTracker {
	return &WarpTracker{}
}

// Observe records the step (seconds) of the current tick.
func (w *WarpTracker) Observe(step float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.observed && math.Abs(step-w.prev) < DefaultStepTolerance {
		w.unstable = 0
	} else if w.observed {
		w.unstable++
	}
	w.prev = step
	w.observed = true
}

// Unstable returns the number of consecutive ticks whose step differed
// from the one before.
func (w *WarpTracker) Unstable() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.unstable
}

// Blending reports whether the step has been changing for more than
// limit ticks in a row.
func (w *WarpTracker) Blending(limit int) bool {
	return w.Unstable() > limit
}
