package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes evaluation-scheduler Prometheus metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	TickDuration           prometheus.Histogram
	AnalyticTicks          prometheus.Counter
	ActiveVehicles         prometheus.Gauge
	BackgroundVehicles     prometheus.Gauge
	BackgroundMaxStaleness prometheus.Gauge
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tickHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Wall-clock duration of one scheduler tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	tickHistogram, err := registerHistogram(reg, tickHistogram, "scheduler_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	analytic := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_analytic_ticks_total",
		Help: "Cumulative number of ticks evaluated in analytic sampling mode.",
	})
	analytic, err = registerCounter(reg, analytic, "scheduler_analytic_ticks_total")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_active_vehicles",
		Help: "Number of simulated vehicles evaluated every tick.",
	}), "scheduler_active_vehicles")
	if err != nil {
		return nil, err
	}

	background, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_background_vehicles",
		Help: "Number of simulated vehicles sharing the single background slot.",
	}), "scheduler_background_vehicles")
	if err != nil {
		return nil, err
	}

	staleness, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_background_max_staleness_seconds",
		Help: "Largest simulated time since the last evaluation among background vehicles.",
	}), "scheduler_background_max_staleness_seconds")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:               gatherer,
		TickDuration:           tickHistogram,
		AnalyticTicks:          analytic,
		ActiveVehicles:         active,
		BackgroundVehicles:     background,
		BackgroundMaxStaleness: staleness,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTick records a tick duration and whether it ran analytically.
func (c *SchedulerCollector) ObserveTick(d time.Duration, analytic bool) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if analytic && c.AnalyticTicks != nil {
		c.AnalyticTicks.Inc()
	}
}

// SetVehicleCounts updates the active/background gauges.
func (c *SchedulerCollector) SetVehicleCounts(active, background int) {
	if c == nil {
		return
	}
	if c.ActiveVehicles != nil {
		c.ActiveVehicles.Set(float64(active))
	}
	if c.BackgroundVehicles != nil {
		c.BackgroundVehicles.Set(float64(background))
	}
}

// SetBackgroundStaleness sets the max staleness gauge. Negative values are
// clamped to zero.
func (c *SchedulerCollector) SetBackgroundStaleness(seconds float64) {
	if c == nil || c.BackgroundMaxStaleness == nil {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	c.BackgroundMaxStaleness.Set(seconds)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
