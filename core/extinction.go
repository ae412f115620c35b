package core

import (
	"math"

	"github.com/signalsfoundry/starlight/model"
)

// Empirical constants of the extinction model.
const (
	DefaultAbsorptionCoefficient = 0.05
	DefaultScaleHeightStep       = 5.0
	DefaultSaturationDepth       = 200.0
)

// ExtinctionOptions tunes the extinction model. Zero fields take the
// package defaults.
type ExtinctionOptions struct {
	AbsorptionCoefficient float64
	// ScaleHeightStep is the altitude difference used for the
	// finite-difference estimate of the local scale height.
	ScaleHeightStep float64
	// SaturationDepth is the running total beyond which a path is treated
	// as fully opaque.
	SaturationDepth float64
}

// DefaultExtinctionOptions returns the empirically tuned defaults.
func DefaultExtinctionOptions() ExtinctionOptions {
	return ExtinctionOptions{
		AbsorptionCoefficient: DefaultAbsorptionCoefficient,
		ScaleHeightStep:       DefaultScaleHeightStep,
		SaturationDepth:       DefaultSaturationDepth,
	}
}

func (o ExtinctionOptions) withDefaults() ExtinctionOptions {
	if o.AbsorptionCoefficient <= 0 {
		o.AbsorptionCoefficient = DefaultAbsorptionCoefficient
	}
	if o.ScaleHeightStep <= 0 {
		o.ScaleHeightStep = DefaultScaleHeightStep
	}
	if o.SaturationDepth <= 0 {
		o.SaturationDepth = DefaultSaturationDepth
	}
	return o
}

// OpticalDepth returns the optical depth of the atmosphere of body along
// ray, in [0, +Inf). Bodies without atmosphere contribute nothing. A ray
// whose closest approach lies beneath the surface in front of the origin
// is fully blocked.
func OpticalDepth(ray Ray, body *model.Body, opts ExtinctionOptions) float64 {
	if !body.HasAtmosphere() {
		return 0
	}
	opts = opts.withDefaults()
	atm := body.Atmosphere

	signed, perpendicular := closestApproach(ray, body.Position)
	altitude := perpendicular - body.Radius
	if altitude > atm.Depth {
		return 0
	}
	if altitude < 0 && signed > 0 {
		return math.Inf(1)
	}

	h := localScaleHeight(atm, altitude, opts.ScaleHeightStep)
	if !(h > 0) {
		return 0
	}
	return ApproximateChapman(body.Radius, signed, altitude, h) * atm.SurfaceDensity * opts.AbsorptionCoefficient
}

// localScaleHeight estimates the scale height at altitude from the density
// ratio over one step. It falls back to the configured scale height when
// the curve is flat, empty or increasing there.
func localScaleHeight(atm *model.Atmosphere, altitude, step float64) float64 {
	base := math.Max(0, altitude)
	lower, upper := atm.Density(base), atm.Density(base+step)
	ratio := lower / upper
	if !math.IsInf(ratio, 0) && !math.IsNaN(ratio) && ratio > 1 {
		return step / math.Log(ratio)
	}
	return atm.ScaleHeight
}

// ApproximateChapman is a closed-form approximation of the Chapman function
// for a ray passing at the given altitude (which may be negative) of a body
// of the given radius. signedDistance is the distance from the ray origin to
// the point of closest approach, negative when that point lies behind.
func ApproximateChapman(radius, signedDistance, altitude, scaleHeight float64) float64 {
	if altitude/radius < -scaleHeight/radius*3.5 && signedDistance/radius < -0.05 {
		a := altitude / scaleHeight
		r := radius / scaleHeight
		s := signedDistance / scaleHeight
		c := -a*a - 2*a*r
		return math.Exp((s*math.Sqrt(c)+c)/r) * math.Sqrt(math.Abs(0.5*r/a))
	}

	r := radius / scaleHeight
	a := altitude / scaleHeight
	ra := math.Abs(r + a)
	amplitude := math.Exp(r+0.9-ra) * math.Sqrt(ra+0.65)
	steepness := 4 / (math.Exp(r+a+0.9-ra) * math.Sqrt(ra+0.65))

	result := amplitude / (1 + math.Exp(steepness*-signedDistance/scaleHeight))
	if r > 5 {
		result /= math.Exp(-0.3*signedDistance/scaleHeight-r*0.1-1) + 1
	}
	return result
}

// PathOpticalDepth sums the optical depth of every atmosphere that can lie
// between point and source. Bodies behind the source, and bodies farther
// from the source than the point (unless the point is inside their shell),
// are skipped. The sum saturates to +Inf past opts.SaturationDepth.
func PathOpticalDepth(point model.Vec3, source *model.Body, bodies []*model.Body, opts ExtinctionOptions) float64 {
	opts = opts.withDefaults()
	delta := point.Sub(source.Position)
	ray := Ray{Origin: point, Direction: delta.Scale(-1)}

	total := 0.0
	for _, b := range bodies {
		if b == nil || b == source || b.ID == source.ID {
			continue
		}
		fromSource := b.Position.Sub(source.Position)
		inShell := b.HasAtmosphere() && b.Position.DistanceTo(point) <= b.Radius+b.Atmosphere.Depth
		if !inShell && fromSource.SqrNorm() > delta.SqrNorm() {
			continue
		}
		if fromSource.Dot(delta) < 0 {
			continue
		}
		total += OpticalDepth(ray, b, opts)
		if total > opts.SaturationDepth {
			return math.Inf(1)
		}
	}
	return total
}

// SunlightPercentage converts an optical depth to the transmitted fraction.
func SunlightPercentage(depth float64) float64 {
	if math.IsInf(depth, 1) {
		return 0
	}
	if depth <= 0 {
		return 1
	}
	return math.Exp(-depth)
}

// RGB is a colour with channels in [0, 1].
type RGB struct {
	R, G, B float64
}

// AtmosphericTint returns the colour of light after passing through the
// given optical depth; blue is scattered out first.
func AtmosphericTint(depth float64) RGB {
	channel := func(k float64) float64 {
		if math.IsInf(depth, 1) {
			return 0
		}
		return clamp01(math.Exp(0.1 - depth*k))
	}
	return RGB{R: channel(0.3), G: channel(0.72), B: channel(1.65)}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
