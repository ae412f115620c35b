package core

import (
	"math"

	"github.com/signalsfoundry/starlight/model"
)

// LitFraction returns the fraction of a circular orbit of the given radius
// around a body of bodyRadius that lies outside the body's cylindrical
// shadow. A point on the surface is lit half of the time.
func LitFraction(bodyRadius, orbitRadius float64) float64 {
	if orbitRadius <= 0 {
		return 0.5
	}
	return 1 - math.Asin(math.Min(1, bodyRadius/orbitRadius))/math.Pi
}

// analyticSource averages the contribution of light over one revolution of
// the observer around main. The orbit is taken as circular at the current
// radius, in the plane containing the source direction and the observer.
// Inclination and eccentricity are ignored.
func (a *FluxAggregator) analyticSource(observer model.Vec3, light, main *model.Body, bodies []*model.Body) SourceSample {
	others := make([]*model.Body, 0, len(bodies))
	for _, b := range bodies {
		if b != main {
			others = append(others, b)
		}
	}
	visible, dir, dist := IsVisible(observer, light, others)
	ss := SourceSample{
		SourceID:  light.ID,
		Direction: dir,
		Distance:  dist,
		RawFlux:   rawFlux(light.Luminosity, dist),
	}
	if !visible {
		return ss
	}

	radial := observer.Sub(main.Position)
	r := radial.Norm()
	alpha := math.Asin(math.Min(1, main.Radius/r))
	ss.Visibility = LitFraction(main.Radius, r)

	u := light.Position.Sub(main.Position).Normalize()
	v := perpendicularTo(u, radial)

	// Sample the lit arc θ ∈ [-(π-α), π-α] at segment midpoints.
	half := math.Pi - alpha
	n := a.opts.AnalyticSamples
	sum := 0.0
	for i := 0; i < n; i++ {
		theta := -half + (float64(i)+0.5)*2*half/float64(n)
		p := main.Position.Add(u.Scale(r * math.Cos(theta))).Add(v.Scale(r * math.Sin(theta)))
		sum += SunlightPercentage(a.opticalDepth(p, light, main, bodies))
	}
	ss.ExtinctionFactor = sum / float64(n)
	if ss.ExtinctionFactor > 0 {
		ss.OpticalDepth = -math.Log(ss.ExtinctionFactor)
	} else {
		ss.OpticalDepth = math.Inf(1)
	}
	ss.Flux = ss.RawFlux * ss.Visibility * ss.ExtinctionFactor
	return ss
}
