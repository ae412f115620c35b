package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/internal/logging"
	"github.com/signalsfoundry/starlight/internal/observability"
	"github.com/signalsfoundry/starlight/internal/sim/environment"
	"github.com/signalsfoundry/starlight/timectrl"
)

// Metrics receives per-tick scheduler metrics.
type Metrics interface {
	ObserveTick(d time.Duration, analytic bool)
	SetVehicleCounts(active, background int)
	SetBackgroundStaleness(seconds float64)
}

// TickReport summarises one tick.
type TickReport struct {
	TickID string
	Step   float64
	Mode   core.SamplingMode

	// Evaluated lists the vehicles that got a new sample, in tracking
	// order, the background vehicle last.
	Evaluated []string
	// Background is the background vehicle evaluated this tick, if any.
	Background string
	// Errors holds per-vehicle evaluation failures.
	Errors map[string]error
}

// Err joins the per-vehicle errors of the tick.
func (r TickReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, err := range r.Errors {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type tracked struct {
	vehicle environment.Vehicle
	state   *environment.State
	active  bool
}

// Scheduler runs the environment evaluation of every tracked vehicle once
// per tick. Active vehicles are stepped every tick; among background
// vehicles only the one waiting longest is evaluated.
type Scheduler struct {
	mu sync.Mutex

	evaluator *environment.Evaluator
	tracker   *timectrl.WarpTracker
	policy    Policy
	log       logging.Logger
	metrics   Metrics
	tracer    trace.Tracer

	vehicles []*tracked
	byID     map[string]*tracked
}

// Option customises Scheduler construction.
type Option func(*Scheduler)

// WithTracker overrides the warp tracker.
func WithTracker(t *timectrl.WarpTracker) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracker = t
		}
	}
}

// WithPolicy overrides the sampling policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) { s.policy = p }
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer overrides the tracer used for tick spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// New constructs a scheduler driving evaluator.
func New(evaluator *environment.Evaluator, opts ...Option) *Scheduler {
	s := &Scheduler{
		evaluator: evaluator,
		tracker:   timectrl.NewWarpTracker(),
		policy:    DefaultPolicy(),
		log:       logging.Noop(),
		tracer:    observability.Tracer(),
		byID:      make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Track registers a vehicle with a fresh state. Re-tracking an ID
// replaces the vehicle and keeps its state.
func (s *Scheduler) Track(v environment.Vehicle, active bool) *environment.State {
	return s.TrackState(v, environment.NewState(v.VehicleID()), active)
}

// TrackState registers a vehicle with an existing (for example restored)
// state.
func (s *Scheduler) TrackState(v environment.Vehicle, st *environment.State, active bool) *environment.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.byID[v.VehicleID()]; ok {
		t.vehicle = v
		t.active = active
		return t.state
	}
	t := &tracked{vehicle: v, state: st, active: active}
	s.vehicles = append(s.vehicles, t)
	s.byID[v.VehicleID()] = t
	return st
}

// SetActive moves a vehicle between the active and background sets.
func (s *Scheduler) SetActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("vehicle %q is not tracked", id)
	}
	t.active = active
	return nil
}

// Untrack forgets a vehicle and its state.
func (s *Scheduler) Untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, t := range s.vehicles {
		if t.vehicle.VehicleID() == id {
			s.vehicles = append(s.vehicles[:i], s.vehicles[i+1:]...)
			break
		}
	}
}

// State returns the environment state of a tracked vehicle.
func (s *Scheduler) State(id string) (*environment.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return t.state, true
}

// States returns the states of all tracked vehicles in tracking order.
func (s *Scheduler) States() []*environment.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*environment.State, 0, len(s.vehicles))
	for _, t := range s.vehicles {
		out = append(out, t.state)
	}
	return out
}

// Tracker returns the warp tracker observed by Tick.
func (s *Scheduler) Tracker() *timectrl.WarpTracker { return s.tracker }

// Tick advances every tracked vehicle by stepSeconds of simulated time.
// Failures of single vehicles are collected in the report and returned
// joined; they do not stop the tick.
func (s *Scheduler) Tick(ctx context.Context, stepSeconds float64) (TickReport, error) {
	start := time.Now()
	ctx, log := logging.WithTickLogger(ctx, s.log)
	ctx, span := s.tracer.Start(ctx, "scheduler.Tick",
		trace.WithAttributes(attribute.Float64("step_seconds", stepSeconds)))
	defer span.End()

	s.tracker.Observe(stepSeconds)
	mode := s.policy.Mode(stepSeconds, s.tracker)
	report := TickReport{
		TickID: logging.TickIDFromContext(ctx),
		Step:   stepSeconds,
		Mode:   mode,
	}
	record := func(id string, evaluated bool, err error) {
		if err != nil {
			if report.Errors == nil {
				report.Errors = make(map[string]error)
			}
			report.Errors[id] = err
			return
		}
		if evaluated {
			report.Evaluated = append(report.Evaluated, id)
		}
	}

	s.mu.Lock()
	var (
		background *tracked
		active     int
		idle       int
	)
	for _, t := range s.vehicles {
		id := t.vehicle.VehicleID()
		entered := s.evaluator.Admit(ctx, t.state, t.vehicle)
		if !t.active {
			// Newly admitted background vehicles are not evaluated here.
			// They wait for the single background slot like the others.
			if !t.state.IsSimulated() {
				continue
			}
			idle++
			t.state.Accumulate(stepSeconds)
			if background == nil || t.state.SecondsSinceLastEvaluation() > background.state.SecondsSinceLastEvaluation() {
				background = t
			}
			continue
		}
		if !t.state.IsSimulated() {
			continue
		}
		active++
		if entered {
			evaluated, err := s.evaluator.Step(ctx, t.state, t.vehicle, 0, true, mode)
			record(id, evaluated, err)
			continue
		}
		evaluated, err := s.evaluator.Step(ctx, t.state, t.vehicle, stepSeconds, false, mode)
		record(id, evaluated, err)
	}

	if background != nil {
		id := background.vehicle.VehicleID()
		waited := background.state.SecondsSinceLastEvaluation()
		bgMode := s.policy.Mode(waited, s.tracker)
		evaluated, err := s.evaluator.Step(ctx, background.state, background.vehicle, 0, true, bgMode)
		record(id, evaluated, err)
		if err == nil {
			report.Background = id
		} else {
			// A failing vehicle gives up the slot until it is oldest again.
			background.state.MarkAttempted()
		}
		log.Debug(ctx, "background vehicle evaluated",
			logging.String("vehicle_id", id),
			logging.Float("waited_seconds", waited),
			logging.String("mode", bgMode.String()),
		)
	}

	staleness := 0.0
	for _, t := range s.vehicles {
		if !t.active && t.state.IsSimulated() && t.state.SecondsSinceLastEvaluation() > staleness {
			staleness = t.state.SecondsSinceLastEvaluation()
		}
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetVehicleCounts(active, idle)
		s.metrics.SetBackgroundStaleness(staleness)
		s.metrics.ObserveTick(time.Since(start), mode == core.SamplingAnalytic)
	}
	span.SetAttributes(
		attribute.String("mode", mode.String()),
		attribute.Int("active_vehicles", active),
		attribute.Int("background_vehicles", idle),
		attribute.Int("evaluated", len(report.Evaluated)),
	)

	err := report.Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vehicle evaluation failed")
		log.Warn(ctx, "tick finished with evaluation errors",
			logging.Int("failed", len(report.Errors)),
			logging.Err(err),
		)
	}
	return report, err
}
