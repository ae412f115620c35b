package kb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/signalsfoundry/starlight/model"
)

// ErrNotLoaded is returned when the registry is read before a system has
// been loaded, or after it has been cleared.
var ErrNotLoaded = errors.New("body registry not loaded")

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventRegistryLoaded EventType = iota
	EventRegistryCleared
	EventPositionsUpdated
)

// Event is emitted to subscribers when the registry changes.
type Event struct {
	Type       EventType
	Generation uint64
	Bodies     int
	Lights     int
}

// Registry owns the body snapshot of the current system. Snapshots are
// immutable; loads and position updates swap in a new one, so a snapshot
// handed out during a tick stays valid for the whole tick.
type Registry struct {
	mu sync.RWMutex

	snap       *Snapshot
	generation uint64

	subs   []subscriber
	nextID uint64
}

type subscriber struct {
	id uint64
	fn func(Event)
}

// NewRegistry constructs an empty, unloaded registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Load validates the bodies and replaces the current system. Inputs are
// deep-copied; later changes by the caller are not observed.
func (r *Registry) Load(bodies []*model.Body) error {
	snap, err := newSnapshot(bodies)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.generation++
	snap.generation = r.generation
	r.snap = snap
	event := Event{Type: EventRegistryLoaded, Generation: snap.generation, Bodies: len(snap.bodies), Lights: len(snap.lights)}
	subs := r.callbacks()
	r.mu.Unlock()

	notify(subs, event)
	return nil
}

// Clear drops the current system. Subsequent snapshots fail with
// ErrNotLoaded until the next Load.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.snap = nil
	event := Event{Type: EventRegistryCleared, Generation: r.generation}
	subs := r.callbacks()
	r.mu.Unlock()

	notify(subs, event)
}

// Loaded reports whether a system is currently loaded.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap != nil
}

// Generation returns the number of successful loads so far.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Snapshot returns the current immutable snapshot.
func (r *Registry) Snapshot() (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap == nil {
		return nil, ErrNotLoaded
	}
	return r.snap, nil
}

// UpdatePositions moves bodies to new world positions. It must only be
// called between ticks. Unknown IDs are rejected and nothing is applied.
func (r *Registry) UpdatePositions(positions map[string]model.Vec3) error {
	r.mu.Lock()
	if r.snap == nil {
		r.mu.Unlock()
		return ErrNotLoaded
	}
	for id, pos := range positions {
		if _, ok := r.snap.byID[id]; !ok {
			r.mu.Unlock()
			return fmt.Errorf("body with ID %q not found", id)
		}
		if !pos.IsFinite() {
			r.mu.Unlock()
			return fmt.Errorf("body %q: position is not finite", id)
		}
	}

	next := r.snap.withPositions(positions)
	r.snap = next
	event := Event{Type: EventPositionsUpdated, Generation: next.generation, Bodies: len(next.bodies), Lights: len(next.lights)}
	subs := r.callbacks()
	r.mu.Unlock()

	notify(subs, event)
	return nil
}

// Subscribe registers a callback for registry events. It returns an unsubscribe function.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, subscriber{id: id, fn: fn})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, sub := range r.subs {
			if sub.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// callbacks copies the subscriber list. Callers hold r.mu.
func (r *Registry) callbacks() []func(Event) {
	out := make([]func(Event), len(r.subs))
	for i, sub := range r.subs {
		out[i] = sub.fn
	}
	return out
}

// Notify subscribers outside the lock to avoid deadlocks.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}

func validateBody(b *model.Body, seen map[string]bool) error {
	if b == nil {
		return errors.New("nil body")
	}
	if b.ID == "" {
		return errors.New("body with empty ID")
	}
	if seen[b.ID] {
		return fmt.Errorf("body with ID %q already exists", b.ID)
	}
	if !(b.Radius > 0) {
		return fmt.Errorf("body %q: radius must be positive, got %v", b.ID, b.Radius)
	}
	if !b.Position.IsFinite() {
		return fmt.Errorf("body %q: position is not finite", b.ID)
	}
	if b.Luminosity < 0 {
		return fmt.Errorf("body %q: luminosity must not be negative", b.ID)
	}
	if b.ParentID == b.ID {
		return fmt.Errorf("body %q: cannot be its own parent", b.ID)
	}
	if atm := b.Atmosphere; atm != nil {
		if atm.Depth < 0 {
			return fmt.Errorf("body %q: atmosphere depth must not be negative", b.ID)
		}
		if atm.SurfaceDensity < 0 {
			return fmt.Errorf("body %q: surface density must not be negative", b.ID)
		}
		if len(atm.Profile) == 0 && atm.Depth > 0 && !(atm.ScaleHeight > 0) {
			return fmt.Errorf("body %q: atmosphere needs a positive scale height or a density profile", b.ID)
		}
		for i := 1; i < len(atm.Profile); i++ {
			if atm.Profile[i].Altitude < atm.Profile[i-1].Altitude {
				return fmt.Errorf("body %q: density profile is not sorted by altitude", b.ID)
			}
		}
	}
	return nil
}
