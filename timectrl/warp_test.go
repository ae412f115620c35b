package timectrl

import "testing"

func TestWarpTrackerCountsUnstableTicks(t *testing.T) {
	w := NewWarpTracker()

	w.Observe(0.02)
	w.Observe(0.02)
	if w.Unstable() != 0 {
		t.Fatalf("after steady steps: unstable=%d, want 0", w.Unstable())
	}

	// Warp ramping up changes the step every tick.
	for i, step := range []float64{0.04, 0.1, 0.5} {
		w.Observe(step)
		if got := w.Unstable(); got != i+1 {
			t.Fatalf("Unstable after step %v = %d, want %d", step, got, i+1)
		}
	}
	if !w.Blending(DefaultBlendingTicks) {
		t.Fatalf("expected three unstable ticks to count as blending")
	}
	if w.Blending(3) {
		t.Fatalf("three unstable ticks should not exceed a limit of 3")
	}

	// Within tolerance resets the counter.
	w.Observe(0.5005)
	if w.Unstable() != 0 || w.Blending(DefaultBlendingTicks) {
		t.Fatalf("unstable=%d, want reset after a steady tick", w.Unstable())
	}
}
