package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/starlight/model"
)

func TestLitFraction(t *testing.T) {
	tests := []struct {
		name        string
		body, orbit float64
		want        float64
	}{
		{"surface", 100, 100, 0.5},
		{"inside", 100, 50, 0.5},
		{"twice radius", 100, 200, 5.0 / 6},
		{"far away", 1, 1e12, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LitFraction(tt.body, tt.orbit); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("LitFraction(%v, %v) = %v, want %v", tt.body, tt.orbit, got, tt.want)
			}
		})
	}
}

func TestAnalyticAveragesOverOrbit(t *testing.T) {
	planet := &model.Body{ID: "planet", Radius: 6e6}
	src := bodyList{star("sun", 3.828e26, model.Vec3{X: sunDistance}), planet}
	// Night side, at twice the planet radius.
	point := ObservationPoint{Position: model.Vec3{X: -1.2e7}, MainBodyID: "planet"}
	agg := NewFluxAggregator(DefaultOptions())

	discrete, err := agg.Evaluate(src, point, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate discrete: %v", err)
	}
	if discrete.Sources[0].Visibility != 0 {
		t.Fatalf("discrete visibility = %v, want 0 in the shadow", discrete.Sources[0].Visibility)
	}

	analytic, err := agg.Evaluate(src, point, SamplingAnalytic)
	if err != nil {
		t.Fatalf("Evaluate analytic: %v", err)
	}
	s := analytic.Sources[0]
	if math.Abs(s.Visibility-5.0/6) > 1e-9 {
		t.Fatalf("analytic visibility = %v, want 5/6", s.Visibility)
	}
	if s.ExtinctionFactor != 1 {
		t.Fatalf("analytic extinction without atmosphere = %v, want 1", s.ExtinctionFactor)
	}
	if !approxEqual(s.Flux, s.RawFlux*5/6, 1e-9) {
		t.Fatalf("analytic flux = %v, want %v", s.Flux, s.RawFlux*5/6)
	}
	if analytic.Mode != SamplingAnalytic {
		t.Fatalf("Mode = %v, want analytic", analytic.Mode)
	}
}

func TestAnalyticExtinctionInsideAtmosphere(t *testing.T) {
	src := bodyList{star("sun", 3.828e26, model.Vec3{X: sunDistance}), earthLike(1.2)}
	point := ObservationPoint{Position: model.Vec3{X: earthRadius + 1000}, MainBodyID: "earth"}
	agg := NewFluxAggregator(DefaultOptions())

	sample, err := agg.Evaluate(src, point, SamplingAnalytic)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	s := sample.Sources[0]
	if !(s.ExtinctionFactor > 0 && s.ExtinctionFactor < 1) {
		t.Fatalf("analytic extinction = %v, want in (0, 1)", s.ExtinctionFactor)
	}
	if math.Abs(s.Visibility-LitFraction(earthRadius, earthRadius+1000)) > 1e-12 {
		t.Fatalf("analytic visibility = %v, want lit fraction", s.Visibility)
	}
}

func TestAnalyticStillTestsOtherOccluders(t *testing.T) {
	planet := &model.Body{ID: "planet", Radius: 6e6}
	moon := &model.Body{ID: "moon", Radius: 1.7e6, Position: model.Vec3{X: 1.2e7 + 1e6}}
	src := bodyList{star("sun", 3.828e26, model.Vec3{X: sunDistance}), planet, moon}
	point := ObservationPoint{Position: model.Vec3{X: 1.2e7}, MainBodyID: "planet"}

	sample, err := NewFluxAggregator(DefaultOptions()).Evaluate(src, point, SamplingAnalytic)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if got := sample.Sources[0].Visibility; got != 0 {
		t.Fatalf("visibility behind the moon = %v, want 0", got)
	}
}

func TestAnalyticFallsBackWithoutMainBody(t *testing.T) {
	src := bodyList{star("sun", 3.828e26, model.Vec3{X: sunDistance}), {ID: "planet", Radius: 6e6}}
	point := ObservationPoint{Position: model.Vec3{X: -1.2e7}}
	agg := NewFluxAggregator(DefaultOptions())

	discrete, err := agg.Evaluate(src, point, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate discrete: %v", err)
	}
	analytic, err := agg.Evaluate(src, point, SamplingAnalytic)
	if err != nil {
		t.Fatalf("Evaluate analytic: %v", err)
	}
	if analytic.Sources[0] != discrete.Sources[0] {
		t.Fatalf("analytic without main body = %+v, want discrete %+v", analytic.Sources[0], discrete.Sources[0])
	}

	// Orbiting the star itself also uses the instantaneous sample.
	point.MainBodyID = "sun"
	point.Position = model.Vec3{X: sunDistance / 2}
	discrete, _ = agg.Evaluate(src, point, SamplingDiscrete)
	analytic, _ = agg.Evaluate(src, point, SamplingAnalytic)
	if analytic.Sources[0] != discrete.Sources[0] {
		t.Fatalf("analytic around the source = %+v, want discrete %+v", analytic.Sources[0], discrete.Sources[0])
	}
}
