package core

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/signalsfoundry/starlight/model"
)

// SamplingMode selects how an evaluation treats time.
type SamplingMode int

const (
	// SamplingDiscrete evaluates the instantaneous geometry.
	SamplingDiscrete SamplingMode = iota
	// SamplingAnalytic averages visibility and extinction over an orbit;
	// used when the time step is too coarse for instantaneous samples to be
	// representative.
	SamplingAnalytic
)

func (m SamplingMode) String() string {
	switch m {
	case SamplingDiscrete:
		return "discrete"
	case SamplingAnalytic:
		return "analytic"
	default:
		return "unknown"
	}
}

// Thresholds used to classify an environment sample.
const (
	SunlitSnapThreshold    = 0.99
	InSunlightThreshold    = 0.49
	InFullShadowThreshold  = 0.1
	DefaultAnalyticSamples = 16
)

// ObservationPoint is where flux is evaluated.
type ObservationPoint struct {
	Position model.Vec3
	// MainBodyID names the body the point is gravitationally near. It
	// selects the atmosphere used for extinction and the orbit used in
	// analytic mode. May be empty.
	MainBodyID string
}

// SourceSample is the contribution of one light source to a sample.
type SourceSample struct {
	SourceID  string
	Direction model.Vec3 // unit vector from the observer to the source
	Distance  float64    // to the source centre

	Visibility       float64
	ExtinctionFactor float64
	OpticalDepth     float64

	RawFlux   float64 // L / (4πd²)
	Flux      float64 // RawFlux × Visibility × ExtinctionFactor
	FluxShare float64 // RawFlux / Σ RawFlux
}

// EnvironmentSample is the result of one evaluation. It is immutable once
// returned.
type EnvironmentSample struct {
	Sources []SourceSample
	// Dominant indexes Sources; -1 when there are no sources.
	Dominant int

	TotalFlux      float64
	RawTotalFlux   float64
	SunlitFraction float64

	Mode SamplingMode
}

// DominantSource returns the source with the greatest raw flux.
func (s *EnvironmentSample) DominantSource() (SourceSample, bool) {
	if s == nil || s.Dominant < 0 || s.Dominant >= len(s.Sources) {
		return SourceSample{}, false
	}
	return s.Sources[s.Dominant], true
}

// Source returns the contribution of the source with the given ID.
func (s *EnvironmentSample) Source(id string) (SourceSample, bool) {
	if s == nil {
		return SourceSample{}, false
	}
	for _, src := range s.Sources {
		if src.SourceID == id {
			return src, true
		}
	}
	return SourceSample{}, false
}

// InSunlight reports whether the point is mostly lit.
func (s *EnvironmentSample) InSunlight() bool {
	return s != nil && s.SunlitFraction > InSunlightThreshold
}

// InFullShadow reports whether the point is (nearly) unlit.
func (s *EnvironmentSample) InFullShadow() bool {
	return s == nil || s.SunlitFraction < InFullShadowThreshold
}

// BodySource is the read side of a body registry snapshot.
type BodySource interface {
	Bodies() []*model.Body
	LightSources() []*model.Body
	Body(id string) *model.Body
}

// Options configures a FluxAggregator.
type Options struct {
	Extinction ExtinctionOptions
	// PathExtinction sums the extinction of every atmosphere along the ray
	// instead of only the main body's.
	PathExtinction bool
	// AnalyticSamples is the number of orbit points averaged in analytic
	// mode.
	AnalyticSamples int
}

// DefaultOptions returns aggregator options with every default applied.
func DefaultOptions() Options {
	return Options{
		Extinction:      DefaultExtinctionOptions(),
		AnalyticSamples: DefaultAnalyticSamples,
	}
}

// OptionsFromEnv reads aggregator options from environment variables,
// keeping the defaults for unset or malformed values.
func OptionsFromEnv() Options {
	opts := DefaultOptions()
	opts.PathExtinction = strings.EqualFold(os.Getenv("STARLIGHT_PATH_EXTINCTION"), "true")
	if raw := os.Getenv("STARLIGHT_ANALYTIC_SAMPLES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.AnalyticSamples = n
		}
	}
	return opts
}

// FluxAggregator combines visibility, extinction and the inverse-square law
// over every light source of a system. It holds no state between calls.
type FluxAggregator struct {
	opts Options
}

// NewFluxAggregator constructs an aggregator.
func NewFluxAggregator(opts Options) *FluxAggregator {
	opts.Extinction = opts.Extinction.withDefaults()
	if opts.AnalyticSamples <= 0 {
		opts.AnalyticSamples = DefaultAnalyticSamples
	}
	return &FluxAggregator{opts: opts}
}

// Options returns the effective options of the aggregator.
func (a *FluxAggregator) Options() Options { return a.opts }

// Evaluate computes the environment sample at point. Bodies are only read.
func (a *FluxAggregator) Evaluate(src BodySource, point ObservationPoint, mode SamplingMode) (EnvironmentSample, error) {
	if src == nil {
		return EnvironmentSample{}, ErrStaleRegistry
	}
	bodies := src.Bodies()
	if err := CheckGeometry(point.Position, bodies); err != nil {
		return EnvironmentSample{}, err
	}

	var main *model.Body
	if point.MainBodyID != "" {
		main = src.Body(point.MainBodyID)
		if main == nil {
			return EnvironmentSample{}, fmt.Errorf("main body %q not found: %w", point.MainBodyID, ErrStaleRegistry)
		}
	}

	lights := src.LightSources()
	sample := EnvironmentSample{
		Sources:  make([]SourceSample, 0, len(lights)),
		Dominant: -1,
		Mode:     mode,
	}

	for _, light := range lights {
		var ss SourceSample
		if mode == SamplingAnalytic && main != nil && main.ID != light.ID {
			ss = a.analyticSource(point.Position, light, main, bodies)
		} else {
			ss = a.discreteSource(point.Position, light, main, bodies)
		}
		sample.Sources = append(sample.Sources, ss)
		sample.RawTotalFlux += ss.RawFlux
		sample.TotalFlux += ss.Flux

		if sample.Dominant < 0 || ss.RawFlux > sample.Sources[sample.Dominant].RawFlux {
			sample.Dominant = len(sample.Sources) - 1
		}
	}

	if sample.RawTotalFlux > 0 {
		for i := range sample.Sources {
			s := &sample.Sources[i]
			s.FluxShare = s.RawFlux / sample.RawTotalFlux
			sample.SunlitFraction += s.Visibility * s.FluxShare
		}
	}
	if sample.SunlitFraction >= SunlitSnapThreshold {
		sample.SunlitFraction = 1
	}
	return sample, nil
}

func (a *FluxAggregator) discreteSource(observer model.Vec3, light, main *model.Body, bodies []*model.Body) SourceSample {
	visible, dir, dist := IsVisible(observer, light, bodies)
	ss := SourceSample{
		SourceID:  light.ID,
		Direction: dir,
		Distance:  dist,
		RawFlux:   rawFlux(light.Luminosity, dist),
	}
	if !visible {
		return ss
	}
	ss.Visibility = 1
	ss.OpticalDepth = a.opticalDepth(observer, light, main, bodies)
	ss.ExtinctionFactor = SunlightPercentage(ss.OpticalDepth)
	ss.Flux = ss.RawFlux * ss.Visibility * ss.ExtinctionFactor
	return ss
}

func (a *FluxAggregator) opticalDepth(observer model.Vec3, light, main *model.Body, bodies []*model.Body) float64 {
	if a.opts.PathExtinction {
		return PathOpticalDepth(observer, light, bodies, a.opts.Extinction)
	}
	if main == nil || main.ID == light.ID {
		return 0
	}
	ray := Ray{Origin: observer, Direction: light.Position.Sub(observer)}
	return OpticalDepth(ray, main, a.opts.Extinction)
}

func rawFlux(luminosity, distance float64) float64 {
	if luminosity <= 0 || distance <= 0 {
		return 0
	}
	return luminosity / (4 * math.Pi * distance * distance)
}
