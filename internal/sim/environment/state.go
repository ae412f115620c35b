package environment

import (
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/starlight/core"
)

// Phase is the simulation lifecycle of a vehicle.
type Phase int

const (
	// PhaseUninitialized is the phase of a state that has not seen an
	// Update yet.
	PhaseUninitialized Phase = iota
	// PhaseSimulated states are evaluated by the scheduler.
	PhaseSimulated
	// PhaseNotSimulated states belong to vehicles that failed the validity
	// predicate. Their last sample is frozen.
	PhaseNotSimulated
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseSimulated:
		return "simulated"
	case PhaseNotSimulated:
		return "not_simulated"
	default:
		return "unknown"
	}
}

// State is the per-vehicle environment record. The evaluator is its only
// writer; the latest sample may be read from any goroutine.
type State struct {
	id string

	// Evaluation bookkeeping; written by one evaluation per tick.
	phase       Phase
	accum       float64
	dominantID  string
	evaluations uint64

	sample atomic.Pointer[core.EnvironmentSample]

	// fieldsMu guards fields, which collaborators may set at any time.
	fieldsMu sync.RWMutex
	fields   map[string]any
}

// NewState returns an uninitialized state for the given vehicle.
func NewState(vehicleID string) *State {
	return &State{id: vehicleID, fields: make(map[string]any)}
}

// VehicleID returns the ID of the vehicle the state belongs to.
func (s *State) VehicleID() string { return s.id }

// Phase returns the current phase.
func (s *State) Phase() Phase { return s.phase }

// IsSimulated reports whether the vehicle is currently being evaluated.
func (s *State) IsSimulated() bool { return s.phase == PhaseSimulated }

// SecondsSinceLastEvaluation returns the simulated time accumulated since
// the last successful evaluation.
func (s *State) SecondsSinceLastEvaluation() float64 { return s.accum }

// Accumulate adds elapsed simulated time without evaluating. Background
// vehicles accumulate every tick until they get their turn.
func (s *State) Accumulate(seconds float64) {
	if s.phase != PhaseSimulated {
		return
	}
	s.accum += seconds
}

// MarkAttempted restarts the accumulator after an evaluation that did not
// produce a sample. The previous sample and evaluation count are kept.
func (s *State) MarkAttempted() {
	if s.phase != PhaseSimulated {
		return
	}
	s.accum = 0
}

// Sample returns the latest environment sample, or nil before the first
// evaluation. The returned value must not be modified.
func (s *State) Sample() *core.EnvironmentSample { return s.sample.Load() }

// DominantSourceID returns the dominant light source of the latest
// evaluation.
func (s *State) DominantSourceID() string { return s.dominantID }

// Evaluations returns the number of successful evaluations.
func (s *State) Evaluations() uint64 { return s.evaluations }

// SetField stores an opaque collaborator value that is persisted with the
// state.
func (s *State) SetField(key string, value any) {
	s.fieldsMu.Lock()
	defer s.fieldsMu.Unlock()
	s.fields[key] = value
}

// Field returns a collaborator value.
func (s *State) Field(key string) (any, bool) {
	s.fieldsMu.RLock()
	defer s.fieldsMu.RUnlock()
	v, ok := s.fields[key]
	return v, ok
}

// Fields returns a copy of the collaborator values.
func (s *State) Fields() map[string]any {
	s.fieldsMu.RLock()
	defer s.fieldsMu.RUnlock()
	out := make(map[string]any, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

func (s *State) store(sample *core.EnvironmentSample) {
	s.sample.Store(sample)
	s.accum = 0
	s.evaluations++
	if dom, ok := sample.DominantSource(); ok {
		s.dominantID = dom.SourceID
	} else {
		s.dominantID = ""
	}
}

// Snapshot is the durable part of a State.
type Snapshot struct {
	VehicleID                  string
	Simulated                  bool
	SecondsSinceLastEvaluation float64
	DominantSourceID           string
	Fields                     map[string]any
}

// Snapshot captures the durable fields of the state.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		VehicleID:                  s.id,
		Simulated:                  s.phase == PhaseSimulated,
		SecondsSinceLastEvaluation: s.accum,
		DominantSourceID:           s.dominantID,
		Fields:                     s.Fields(),
	}
}

// Restore applies a persisted snapshot. Samples are not persisted, so a
// restored vehicle that was simulated goes back to uninitialized and is
// re-evaluated on its next Update.
func (s *State) Restore(snap Snapshot) {
	s.id = snap.VehicleID
	s.accum = snap.SecondsSinceLastEvaluation
	s.dominantID = snap.DominantSourceID
	if snap.Simulated {
		s.phase = PhaseUninitialized
	} else {
		s.phase = PhaseNotSimulated
	}

	s.fieldsMu.Lock()
	s.fields = make(map[string]any, len(snap.Fields))
	for k, v := range snap.Fields {
		s.fields[k] = v
	}
	s.fieldsMu.Unlock()
}
