package core

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/signalsfoundry/starlight/kb"
	"github.com/signalsfoundry/starlight/model"
)

// bodyList is a minimal BodySource over a fixed slice.
type bodyList []*model.Body

func (l bodyList) Bodies() []*model.Body { return l }

func (l bodyList) LightSources() []*model.Body {
	var out []*model.Body
	for _, b := range l {
		if b.Luminous {
			out = append(out, b)
		}
	}
	return out
}

func (l bodyList) Body(id string) *model.Body {
	for _, b := range l {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func star(id string, lum float64, pos model.Vec3) *model.Body {
	return &model.Body{ID: id, Radius: 7e8, Luminous: true, Luminosity: lum, Position: pos}
}

func approxEqual(a, b, relTol float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= relTol*math.Max(math.Abs(a), math.Abs(b))
}

func TestEvaluateSingleStarInverseSquare(t *testing.T) {
	const lum = 3.828e26
	agg := NewFluxAggregator(DefaultOptions())
	src := bodyList{star("sun", lum, model.Vec3{X: sunDistance})}

	sample, err := agg.Evaluate(src, ObservationPoint{}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	want := lum / (4 * math.Pi * sunDistance * sunDistance)
	if !approxEqual(sample.TotalFlux, want, 1e-12) {
		t.Fatalf("TotalFlux = %v, want %v", sample.TotalFlux, want)
	}

	far, err := agg.Evaluate(src, ObservationPoint{Position: model.Vec3{X: -sunDistance}}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !approxEqual(far.TotalFlux*4, sample.TotalFlux, 1e-12) {
		t.Fatalf("flux at double distance = %v, want quarter of %v", far.TotalFlux, sample.TotalFlux)
	}
	if sample.SunlitFraction != 1 || !sample.InSunlight() || sample.InFullShadow() {
		t.Fatalf("unobstructed sample = %+v, want fully sunlit", sample)
	}
}

func TestEvaluateTwoStarsShares(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	src := bodyList{
		star("bright", 4e26, model.Vec3{X: 1e11}),
		star("faint", 1e26, model.Vec3{X: -1e11}),
	}

	sample, err := agg.Evaluate(src, ObservationPoint{}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	dom, ok := sample.DominantSource()
	if !ok || dom.SourceID != "bright" {
		t.Fatalf("DominantSource = %+v, %v, want bright", dom, ok)
	}
	if got := sample.Sources[0].FluxShare; math.Abs(got-0.8) > 1e-12 {
		t.Fatalf("bright share = %v, want 0.8", got)
	}
	if got := sample.Sources[1].FluxShare; math.Abs(got-0.2) > 1e-12 {
		t.Fatalf("faint share = %v, want 0.2", got)
	}
}

func TestEvaluateDominantTieFirstWins(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	src := bodyList{
		star("a", 1e26, model.Vec3{X: 1e11}),
		star("b", 1e26, model.Vec3{X: -1e11}),
	}
	sample, err := agg.Evaluate(src, ObservationPoint{}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if sample.Dominant != 0 {
		t.Fatalf("Dominant = %d, want 0", sample.Dominant)
	}
}

func TestEvaluateSharesSumToOne(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	src := bodyList{
		star("a", 3.3e26, model.Vec3{X: 1.1e11, Y: 2e10}),
		star("b", 7.1e25, model.Vec3{X: -4e11, Z: 1e9}),
		star("c", 9.9e24, model.Vec3{Y: 8e10}),
		{ID: "rock", Radius: 1e6, Position: model.Vec3{X: 3e7}},
	}
	sample, err := agg.Evaluate(src, ObservationPoint{Position: model.Vec3{Z: 5e6}}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	sum := 0.0
	for _, s := range sample.Sources {
		sum += s.FluxShare
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("sum of shares = %v, want 1", sum)
	}
}

func TestEvaluateOccludedStar(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	src := bodyList{
		star("sun", 3.828e26, model.Vec3{X: sunDistance}),
		{ID: "planet", Radius: 6.4e6, Position: model.Vec3{X: 1e7}},
	}
	sample, err := agg.Evaluate(src, ObservationPoint{}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	s := sample.Sources[0]
	if s.Visibility != 0 || s.Flux != 0 {
		t.Fatalf("occluded source = %+v, want zero visibility and flux", s)
	}
	if !(s.RawFlux > 0) {
		t.Fatalf("RawFlux = %v, want unobstructed inverse-square value", s.RawFlux)
	}
	if !sample.InFullShadow() || sample.InSunlight() {
		t.Fatalf("SunlitFraction = %v, want full shadow", sample.SunlitFraction)
	}
}

func TestEvaluateExtinctionIncreasesWithDensity(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	point := ObservationPoint{Position: model.Vec3{X: earthRadius + 1000}, MainBodyID: "earth"}

	prev := 1.0
	for _, density := range []float64{0.5, 1.2, 5} {
		src := bodyList{star("sun", 3.828e26, model.Vec3{X: sunDistance}), earthLike(density)}
		sample, err := agg.Evaluate(src, point, SamplingDiscrete)
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		got := sample.Sources[0].ExtinctionFactor
		if !(got < prev) {
			t.Fatalf("ExtinctionFactor at density %v = %v, want < %v", density, got, prev)
		}
		prev = got
	}
}

func TestEvaluatePathExtinctionMatchesMainBody(t *testing.T) {
	point := ObservationPoint{Position: model.Vec3{X: earthRadius + 1000}, MainBodyID: "earth"}
	src := bodyList{star("sun", 3.828e26, model.Vec3{X: sunDistance}), earthLike(1.2)}

	mainOnly, err := NewFluxAggregator(DefaultOptions()).Evaluate(src, point, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	opts := DefaultOptions()
	opts.PathExtinction = true
	path, err := NewFluxAggregator(opts).Evaluate(src, point, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if path.Sources[0].OpticalDepth != mainOnly.Sources[0].OpticalDepth {
		t.Fatalf("path depth = %v, want %v", path.Sources[0].OpticalDepth, mainOnly.Sources[0].OpticalDepth)
	}
}

func TestEvaluateSunlitFractionSnapsAndDecreases(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	bright := star("bright", 199e24, model.Vec3{X: 1e11})
	faint := star("faint", 1e24, model.Vec3{X: -1e11})
	nearFaint := &model.Body{ID: "moon", Radius: 6.4e6, Position: model.Vec3{X: -1e7}}
	nearBright := &model.Body{ID: "moon2", Radius: 6.4e6, Position: model.Vec3{X: 1e7}}

	fractions := make([]float64, 0, 3)
	for _, src := range []bodyList{
		{bright, faint},
		{bright, faint, nearFaint},
		{bright, faint, nearFaint, nearBright},
	} {
		sample, err := agg.Evaluate(src, ObservationPoint{}, SamplingDiscrete)
		if err != nil {
			t.Fatalf("Evaluate error: %v", err)
		}
		fractions = append(fractions, sample.SunlitFraction)
	}
	// Faint share is 0.005, so hiding it still snaps to fully sunlit.
	if fractions[0] != 1 || fractions[1] != 1 || fractions[2] != 0 {
		t.Fatalf("SunlitFraction = %v, want [1 1 0]", fractions)
	}
}

func TestEvaluateNoLightSources(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	sample, err := agg.Evaluate(bodyList{{ID: "rock", Radius: 1, Position: model.Vec3{X: 10}}}, ObservationPoint{}, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if sample.Dominant != -1 || sample.TotalFlux != 0 || len(sample.Sources) != 0 {
		t.Fatalf("sample = %+v, want empty with Dominant -1", sample)
	}
	if _, ok := sample.DominantSource(); ok {
		t.Fatalf("DominantSource should be undefined")
	}
	if !sample.InFullShadow() {
		t.Fatalf("expected full shadow without light sources")
	}
}

func TestEvaluateErrors(t *testing.T) {
	agg := NewFluxAggregator(DefaultOptions())
	src := bodyList{star("sun", 1e26, model.Vec3{X: 1e11}), {ID: "rock", Radius: 10, Position: model.Vec3{X: 1e3}}}

	if _, err := agg.Evaluate(nil, ObservationPoint{}, SamplingDiscrete); !errors.Is(err, ErrStaleRegistry) || !errors.Is(err, kb.ErrNotLoaded) {
		t.Fatalf("nil source error = %v, want ErrStaleRegistry", err)
	}
	if _, err := agg.Evaluate(src, ObservationPoint{Position: model.Vec3{X: 1e3}}, SamplingDiscrete); !errors.Is(err, ErrDegenerateGeometry) {
		t.Fatalf("observer at body centre error = %v, want ErrDegenerateGeometry", err)
	}
	if _, err := agg.Evaluate(src, ObservationPoint{Position: model.Vec3{X: 1e11}}, SamplingDiscrete); !errors.Is(err, ErrDegenerateGeometry) {
		t.Fatalf("observer at source error = %v, want ErrDegenerateGeometry", err)
	}
	if _, err := agg.Evaluate(src, ObservationPoint{MainBodyID: "missing"}, SamplingDiscrete); err == nil {
		t.Fatalf("expected unknown main body to fail")
	}
}

func TestEvaluateIsPure(t *testing.T) {
	reg := kb.NewRegistry()
	if err := reg.Load([]*model.Body{
		star("sun", 3.828e26, model.Vec3{X: sunDistance}),
		earthLike(1.2),
		{ID: "moon", Radius: 1.7e6, Position: model.Vec3{Y: 3.8e8}},
	}); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	snap, err := reg.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot error: %v", err)
	}
	before := make([]model.Body, 0, len(snap.Bodies()))
	for _, b := range snap.Bodies() {
		before = append(before, *b.Clone())
	}

	agg := NewFluxAggregator(DefaultOptions())
	point := ObservationPoint{Position: model.Vec3{X: earthRadius + 500, Y: 3e5}, MainBodyID: "earth"}
	first, err := agg.Evaluate(snap, point, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	second, err := agg.Evaluate(snap, point, SamplingDiscrete)
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated evaluation differs:\n%+v\n%+v", first, second)
	}
	for i, b := range snap.Bodies() {
		if !reflect.DeepEqual(*b, before[i]) {
			t.Fatalf("body %q mutated by Evaluate", b.ID)
		}
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("STARLIGHT_PATH_EXTINCTION", "true")
	t.Setenv("STARLIGHT_ANALYTIC_SAMPLES", "32")
	opts := OptionsFromEnv()
	if !opts.PathExtinction || opts.AnalyticSamples != 32 {
		t.Fatalf("OptionsFromEnv = %+v, want path extinction and 32 samples", opts)
	}

	t.Setenv("STARLIGHT_ANALYTIC_SAMPLES", "-3")
	if got := OptionsFromEnv().AnalyticSamples; got != DefaultAnalyticSamples {
		t.Fatalf("AnalyticSamples = %d, want default %d", got, DefaultAnalyticSamples)
	}
}
