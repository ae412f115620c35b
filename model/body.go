package model

import (
	"math"
	"sort"
)

// DensityPoint is one sample of an atmosphere density curve.
type DensityPoint struct {
	Altitude float64
	Density  float64
}

// Atmosphere describes an exponential-density shell around a body.
type Atmosphere struct {
	// Depth is the altitude of the top of the shell above the surface.
	Depth float64
	// SurfaceDensity is the density at sea level.
	SurfaceDensity float64
	// ScaleHeight is used by the closed-form profile and as the fallback
	// when a sampled profile cannot produce a finite local scale height.
	ScaleHeight float64
	// Profile optionally overrides the closed-form curve. Points must be
	// sorted by altitude; values between points are interpolated linearly.
	Profile []DensityPoint
}

// Density returns the atmosphere density at the given altitude. Negative
// altitudes are clamped to the surface and the shell is empty above Depth.
func (a *Atmosphere) Density(altitude float64) float64 {
	if a == nil {
		return 0
	}
	if altitude < 0 {
		altitude = 0
	}
	if altitude > a.Depth {
		return 0
	}
	if len(a.Profile) == 0 {
		if a.ScaleHeight <= 0 {
			return 0
		}
		return a.SurfaceDensity * math.Exp(-altitude/a.ScaleHeight)
	}

	pts := a.Profile
	if altitude <= pts[0].Altitude {
		return pts[0].Density
	}
	last := pts[len(pts)-1]
	if altitude >= last.Altitude {
		return last.Density
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Altitude >= altitude })
	lo, hi := pts[i-1], pts[i]
	span := hi.Altitude - lo.Altitude
	if span <= 0 {
		return hi.Density
	}
	t := (altitude - lo.Altitude) / span
	return lo.Density + (hi.Density-lo.Density)*t
}

// Body is a celestial body. Luminous bodies are light sources.
type Body struct {
	ID       string
	Name     string
	ParentID string // reference body; empty for the system root

	Position Vec3
	Radius   float64

	// GravitationalParameter is GM in m³/s², used by circular orbit motion.
	GravitationalParameter float64

	Atmosphere *Atmosphere

	Luminous   bool
	Luminosity float64 // W
}

// HasAtmosphere reports whether the body carries a non-empty atmosphere.
func (b *Body) HasAtmosphere() bool {
	return b != nil && b.Atmosphere != nil && b.Atmosphere.Depth > 0
}

// Clone returns a deep copy of the body.
func (b *Body) Clone() *Body {
	if b == nil {
		return nil
	}
	c := *b
	if b.Atmosphere != nil {
		atm := *b.Atmosphere
		atm.Profile = append([]DensityPoint(nil), b.Atmosphere.Profile...)
		c.Atmosphere = &atm
	}
	return &c
}

// LuminosityFromInsolation derives a luminosity from the flux measured at
// a reference distance: L = 4π d² F.
func LuminosityFromInsolation(flux, distance float64) float64 {
	return 4 * math.Pi * distance * distance * flux
}
