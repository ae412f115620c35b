package environment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/internal/logging"
	"github.com/signalsfoundry/starlight/kb"
)

// DefaultInterval is the simulated time between two unforced evaluations
// of the same vehicle (seconds).
const DefaultInterval = 1.0

// Registry provides the body snapshot evaluations run against.
type Registry interface {
	Snapshot() (*kb.Snapshot, error)
}

// Recorder receives evaluation metrics.
type Recorder interface {
	ObserveEvaluation(kind, mode string, d time.Duration)
	IncSkipped()
	IncError(reason string)
}

// Evaluator refreshes vehicle environment states. It throttles
// evaluations of each vehicle to one per interval of simulated time
// unless forced.
type Evaluator struct {
	registry   Registry
	aggregator *core.FluxAggregator
	log        logging.Logger
	metrics    Recorder
	interval   float64
}

// Option customises Evaluator construction.
type Option func(*Evaluator)

// WithAggregator overrides the flux aggregator.
func WithAggregator(a *core.FluxAggregator) Option {
	return func(e *Evaluator) {
		if a != nil {
			e.aggregator = a
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(r Recorder) Option {
	return func(e *Evaluator) { e.metrics = r }
}

// WithInterval overrides the throttle interval (seconds).
func WithInterval(seconds float64) Option {
	return func(e *Evaluator) {
		if seconds > 0 {
			e.interval = seconds
		}
	}
}

// NewEvaluator constructs an evaluator reading bodies from registry.
func NewEvaluator(registry Registry, opts ...Option) *Evaluator {
	e := &Evaluator{
		registry:   registry,
		aggregator: core.NewFluxAggregator(core.DefaultOptions()),
		log:        logging.Noop(),
		interval:   DefaultInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Interval returns the throttle interval in seconds.
func (e *Evaluator) Interval() float64 { return e.interval }

// Admit applies the validity predicate without evaluating. An invalid
// vehicle stops being simulated and keeps its last sample. It reports
// whether the vehicle has just entered simulation.
func (e *Evaluator) Admit(ctx context.Context, st *State, v Vehicle) bool {
	if !v.Valid() {
		if st.phase != PhaseNotSimulated {
			e.log.Debug(ctx, "vehicle left simulation",
				logging.String("vehicle_id", st.id),
				logging.String("previous_phase", st.phase.String()),
			)
			st.phase = PhaseNotSimulated
		}
		return false
	}
	if st.phase == PhaseSimulated {
		return false
	}

	e.log.Debug(ctx, "vehicle entered simulation",
		logging.String("vehicle_id", st.id),
		logging.String("previous_phase", st.phase.String()),
	)
	st.phase = PhaseSimulated
	return true
}

// Update applies the validity predicate. A valid vehicle that was not
// simulated becomes simulated and is evaluated immediately.
func (e *Evaluator) Update(ctx context.Context, st *State, v Vehicle, mode core.SamplingMode) error {
	if !e.Admit(ctx, st, v) {
		return nil
	}
	return e.evaluate(ctx, st, v, mode)
}

// Step adds elapsed simulated seconds to the state and evaluates when the
// interval has been reached or forced is set. It reports whether a new
// sample was produced. On error the previous sample is kept.
func (e *Evaluator) Step(ctx context.Context, st *State, v Vehicle, elapsed float64, forced bool, mode core.SamplingMode) (bool, error) {
	if st.phase != PhaseSimulated {
		return false, nil
	}
	st.accum += elapsed
	if st.accum < e.interval && !forced {
		if e.metrics != nil {
			e.metrics.IncSkipped()
		}
		return false, nil
	}
	if err := e.evaluate(ctx, st, v, mode); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Evaluator) evaluate(ctx context.Context, st *State, v Vehicle, mode core.SamplingMode) error {
	start := time.Now()

	snap, err := e.registry.Snapshot()
	if err != nil {
		return e.fail(ctx, st, mode, err)
	}
	sample, err := e.aggregator.Evaluate(snap, v.Observation(), mode)
	if err != nil {
		return e.fail(ctx, st, mode, err)
	}

	st.store(&sample)
	if e.metrics != nil {
		e.metrics.ObserveEvaluation(kindLabel(v), mode.String(), time.Since(start))
	}
	return nil
}

func (e *Evaluator) fail(ctx context.Context, st *State, mode core.SamplingMode, err error) error {
	reason := errorReason(err)
	e.log.Error(ctx, "environment evaluation aborted",
		logging.String("vehicle_id", st.id),
		logging.String("mode", mode.String()),
		logging.String("reason", reason),
		logging.Err(err),
	)
	if e.metrics != nil {
		e.metrics.IncError(reason)
	}
	return fmt.Errorf("evaluate vehicle %q: %w", st.id, err)
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, core.ErrDegenerateGeometry):
		return "degenerate_geometry"
	case errors.Is(err, core.ErrStaleRegistry):
		return "stale_registry"
	default:
		return "other"
	}
}
