package timectrl

import (
	"sync"
	"time"
)

// SimClock gives read access to simulation time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

// Listener is invoked after every tick with the new simulation time and
// the simulated duration of the tick.
type Listener func(simTime time.Time, step time.Duration)

// TimeController drives simulation time and notifies registered listeners.
// Each tick lasts Tick of wall time and advances the simulation by
// Tick × warp.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration
	Mode      Mode

	// currentTime tracks the current simulation time. It is updated
	// as the controller advances time.
	currentTime time.Time
	warp        float64

	listeners []Listener
}

// NewTimeController constructs a controller with a warp factor of 1.
func NewTimeController(start time.Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		Mode:        mode,
		currentTime: start,
		warp:        1,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime jumps the simulation clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// SetWarp changes the time-warp factor. Factors below 1 are clamped to 1.
// The change takes effect on the next tick.
func (tc *TimeController) SetWarp(factor float64) {
	if factor < 1 {
		factor = 1
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.warp = factor
}

// Warp returns the current time-warp factor.
func (tc *TimeController) Warp() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.warp
}

// Step returns the simulated duration of the next tick.
func (tc *TimeController) Step() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return time.Duration(float64(tc.Tick) * tc.warp)
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance runs n ticks synchronously on the calling goroutine.
func (tc *TimeController) Advance(n int) time.Time {
	for i := 0; i < n; i++ {
		tc.advanceOnce()
	}
	return tc.Now()
}

func (tc *TimeController) advanceOnce() time.Duration {
	tc.mu.Lock()
	step := time.Duration(float64(tc.Tick) * tc.warp)
	tc.currentTime = tc.currentTime.Add(step)
	simTime := tc.currentTime
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(simTime, step)
	}
	return step
}

// Start runs the controller for the specified simulated duration in a
// separate goroutine, beginning at StartTime. It returns a channel that is
// closed when the controller finishes. A non-positive duration runs forever.
func (tc *TimeController) Start(duration time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		tc.mu.Lock()
		tc.currentTime = tc.StartTime
		tc.mu.Unlock()

		elapsed := time.Duration(0)

		var ticks <-chan time.Time
		if tc.Mode == RealTime {
			ticker := time.NewTicker(tc.Tick)
			defer ticker.Stop()
			ticks = ticker.C
		}

		for {
			if duration > 0 && elapsed >= duration {
				return
			}
			if ticks != nil {
				<-ticks
			}
			elapsed += tc.advanceOnce()
		}
	}()
	return done
}
