package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/internal/logging"
	"github.com/signalsfoundry/starlight/internal/observability"
	"github.com/signalsfoundry/starlight/internal/persistence"
	"github.com/signalsfoundry/starlight/internal/sim/environment"
	"github.com/signalsfoundry/starlight/internal/sim/scheduler"
	"github.com/signalsfoundry/starlight/kb"
	"github.com/signalsfoundry/starlight/timectrl"
)

type simulationConfig struct {
	Log              logging.Logger
	EnvMetrics       *observability.EnvironmentCollector
	SchedulerMetrics *observability.SchedulerCollector
	// DB is optional; without it nothing is restored or saved.
	DB     *persistence.DB
	Output io.Writer
}

// simulation wires the loaded system to the evaluation pipeline and
// drives it from time-controller ticks.
type simulation struct {
	cfg simulationConfig
	log logging.Logger

	sys        *core.System
	registry   *kb.Registry
	propagator *core.Propagator
	scheduler  *scheduler.Scheduler
	events     *scheduler.EventQueue

	mu      sync.Mutex
	simTime time.Time
	ticks   int
	stopped bool
}

func newSimulation(ctx context.Context, sys *core.System, cfg simulationConfig) (*simulation, error) {
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	s := &simulation{cfg: cfg, log: cfg.Log, sys: sys, simTime: sys.Epoch}

	s.registry = kb.NewRegistry()
	if cfg.EnvMetrics != nil {
		s.registry.Subscribe(func(ev kb.Event) {
			if ev.Type != kb.EventPositionsUpdated {
				cfg.EnvMetrics.SetRegistryCounts(ev.Bodies, ev.Lights)
			}
		})
	}
	if err := s.registry.Load(sys.Bodies); err != nil {
		return nil, err
	}

	var err error
	s.propagator, err = sys.Propagator(core.WithPositionUpdater(s.registry))
	if err != nil {
		return nil, err
	}

	evalOpts := []environment.Option{
		environment.WithAggregator(core.NewFluxAggregator(core.OptionsFromEnv())),
		environment.WithLogger(cfg.Log),
	}
	if cfg.EnvMetrics != nil {
		evalOpts = append(evalOpts, environment.WithMetrics(cfg.EnvMetrics))
	}
	schedOpts := []scheduler.Option{
		scheduler.WithPolicy(scheduler.PolicyFromEnv()),
		scheduler.WithLogger(cfg.Log),
	}
	if cfg.SchedulerMetrics != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(cfg.SchedulerMetrics))
	}
	s.scheduler = scheduler.New(environment.NewEvaluator(s.registry, evalOpts...), schedOpts...)

	restored, err := s.restore()
	if err != nil {
		return nil, err
	}
	for _, def := range sys.Vehicles {
		v := environment.DefinitionVehicle{Def: def}
		if snap, ok := restored[def.ID]; ok {
			st := environment.NewState(def.ID)
			st.Restore(snap)
			s.scheduler.TrackState(v, st, def.Loaded)
			continue
		}
		s.scheduler.Track(v, def.Loaded)
	}
	if len(restored) > 0 {
		s.log.Info(ctx, "restored vehicle states",
			logging.Int("count", len(restored)),
			logging.String("sim_time", s.simTime.Format(time.RFC3339)),
		)
	}

	if err := s.applyPositions(s.simTime); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *simulation) restore() (map[string]environment.Snapshot, error) {
	if s.cfg.DB == nil {
		return nil, nil
	}
	if t, err := s.cfg.DB.SimTime(); err == nil {
		s.simTime = t
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("restore sim time: %w", err)
	}
	snaps, err := s.cfg.DB.LoadVehicles()
	if err != nil {
		return nil, err
	}
	out := make(map[string]environment.Snapshot, len(snaps))
	for _, snap := range snaps {
		out[snap.VehicleID] = snap
	}
	return out, nil
}

// StartTime is the simulation time the run resumes from.
func (s *simulation) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simTime
}

// SimTime is the simulation time of the last completed tick.
func (s *simulation) SimTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simTime
}

// Attach registers the tick handler and the event queue clock.
func (s *simulation) Attach(ctx context.Context, tc *timectrl.TimeController) {
	s.events = scheduler.NewEventQueue(tc)
	tc.AddListener(func(simTime time.Time, step time.Duration) {
		s.tick(ctx, simTime, step)
	})
}

// Schedule sets up the periodic save and report events. Non-positive
// intervals disable the event.
func (s *simulation) Schedule(autosave, report time.Duration) error {
	if s.events == nil {
		return errors.New("simulation is not attached to a time controller")
	}
	if autosave > 0 && s.cfg.DB != nil {
		if _, err := s.events.ScheduleEvery(autosave, func(time.Time) {
			if err := s.saveLocked(); err != nil {
				s.log.Warn(context.Background(), "autosave failed", logging.Err(err))
			}
		}); err != nil {
			return err
		}
	}
	if report > 0 {
		if _, err := s.events.ScheduleEvery(report, func(time.Time) { s.reportLocked() }); err != nil {
			return err
		}
	}
	return nil
}

// Stop makes further ticks no-ops.
func (s *simulation) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func (s *simulation) tick(ctx context.Context, simTime time.Time, step time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if err := s.applyPositions(simTime); err != nil {
		s.log.Error(ctx, "propagation failed", logging.Err(err))
		return
	}

	// Vehicle failures are logged by the scheduler.
	_, _ = s.scheduler.Tick(ctx, step.Seconds())
	s.simTime = simTime
	s.ticks++

	if s.events != nil {
		s.events.RunDue()
	}
}

// applyPositions moves bodies in the registry and vehicles in their
// definitions to simTime.
func (s *simulation) applyPositions(simTime time.Time) error {
	positions, err := s.propagator.UpdatePositions(simTime)
	if err != nil {
		return err
	}
	for _, def := range s.sys.Vehicles {
		if pos, ok := positions[def.ID]; ok {
			def.Position = pos
		}
	}
	return nil
}

// Save persists every vehicle snapshot and the simulation time.
func (s *simulation) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *simulation) saveLocked() error {
	if s.cfg.DB == nil {
		return nil
	}
	states := s.scheduler.States()
	snaps := make([]environment.Snapshot, 0, len(states))
	for _, st := range states {
		snaps = append(snaps, st.Snapshot())
	}
	if err := s.cfg.DB.SaveVehicles(snaps); err != nil {
		return fmt.Errorf("save vehicles: %w", err)
	}
	if err := s.cfg.DB.SaveSimTime(s.simTime); err != nil {
		return fmt.Errorf("save sim time: %w", err)
	}
	return nil
}

// Report writes a flux table of every vehicle.
func (s *simulation) Report() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportLocked()
}

func (s *simulation) reportLocked() {
	w := tabwriter.NewWriter(s.cfg.Output, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "[%s] tick %s\n", s.simTime.Format(time.RFC3339), humanize.Comma(int64(s.ticks)))
	fmt.Fprintln(w, "VEHICLE\tPHASE\tFLUX\tSUNLIT\tDOMINANT\tEVALUATIONS")
	for _, st := range s.scheduler.States() {
		sample := st.Sample()
		flux, sunlit := "-", "-"
		if sample != nil {
			flux = humanize.SIWithDigits(sample.TotalFlux, 2, "W/m²")
			sunlit = shadowLabel(sample)
		}
		dominant := st.DominantSourceID()
		if dominant == "" {
			dominant = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			st.VehicleID(), st.Phase(), flux, sunlit, dominant,
			humanize.Comma(int64(st.Evaluations())),
		)
	}
	_ = w.Flush()
}

func shadowLabel(sample *core.EnvironmentSample) string {
	pct := humanize.FtoaWithDigits(sample.SunlitFraction*100, 1) + "%"
	switch {
	case sample.InSunlight():
		return pct + " lit"
	case sample.InFullShadow():
		return pct + " shadow"
	default:
		return pct + " partial"
	}
}
