package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EnvironmentCollector bundles Prometheus metrics for environment
// evaluations and the body registry, and exposes them over HTTP.
type EnvironmentCollector struct {
	gatherer prometheus.Gatherer

	Evaluations        *prometheus.CounterVec
	EvaluationsSkipped prometheus.Counter
	EvaluationErrors   *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram

	RegistryBodies       prometheus.Gauge
	RegistryLightSources prometheus.Gauge
}

// NewEnvironmentCollector registers environment metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewEnvironmentCollector(reg prometheus.Registerer) (*EnvironmentCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "environment_evaluations_total",
		Help: "Total number of environment evaluations, labeled by vehicle kind and sampling mode.",
	}, []string{"kind", "mode"})
	evaluations, err := registerCounterVec(reg, evaluations, "environment_evaluations_total")
	if err != nil {
		return nil, err
	}

	skipped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "environment_evaluations_skipped_total",
		Help: "Evaluation requests served from the cached sample because the throttle budget was not reached.",
	}), "environment_evaluations_skipped_total")
	if err != nil {
		return nil, err
	}

	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "environment_evaluation_errors_total",
		Help: "Aborted environment evaluations, labeled by reason.",
	}, []string{"reason"})
	errorsVec, err = registerCounterVec(reg, errorsVec, "environment_evaluation_errors_total")
	if err != nil {
		return nil, err
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "environment_evaluation_duration_seconds",
		Help:    "Wall-clock duration of a single environment evaluation.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "environment_evaluation_duration_seconds")
	if err != nil {
		return nil, err
	}

	bodies, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_bodies",
		Help: "Current number of bodies in the loaded system.",
	}), "registry_bodies")
	if err != nil {
		return nil, err
	}
	lights, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registry_light_sources",
		Help: "Current number of light sources in the loaded system.",
	}), "registry_light_sources")
	if err != nil {
		return nil, err
	}

	return &EnvironmentCollector{
		gatherer:             gatherer,
		Evaluations:          evaluations,
		EvaluationsSkipped:   skipped,
		EvaluationErrors:     errorsVec,
		EvaluationDuration:   duration,
		RegistryBodies:       bodies,
		RegistryLightSources: lights,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *EnvironmentCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *EnvironmentCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEvaluation records one completed evaluation.
func (c *EnvironmentCollector) ObserveEvaluation(kind, mode string, d time.Duration) {
	if c == nil {
		return
	}
	if c.Evaluations != nil {
		c.Evaluations.WithLabelValues(kind, mode).Inc()
	}
	if c.EvaluationDuration != nil {
		c.EvaluationDuration.Observe(d.Seconds())
	}
}

// IncSkipped records a throttled evaluation request.
func (c *EnvironmentCollector) IncSkipped() {
	if c == nil || c.EvaluationsSkipped == nil {
		return
	}
	c.EvaluationsSkipped.Inc()
}

// IncError records an aborted evaluation.
func (c *EnvironmentCollector) IncError(reason string) {
	if c == nil || c.EvaluationErrors == nil {
		return
	}
	c.EvaluationErrors.WithLabelValues(reason).Inc()
}

// SetRegistryCounts updates the registry gauges. It is meant to be driven
// from registry load events.
func (c *EnvironmentCollector) SetRegistryCounts(bodies, lights int) {
	if c == nil {
		return
	}
	if c.RegistryBodies != nil {
		c.RegistryBodies.Set(float64(bodies))
	}
	if c.RegistryLightSources != nil {
		c.RegistryLightSources.Set(float64(lights))
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
