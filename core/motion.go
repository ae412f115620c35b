package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/starlight/model"
)

// MotionModel gives the position of an object relative to the centre of its
// reference body at a simulation time.
type MotionModel interface {
	Position(simTime time.Time) (model.Vec3, error)
}

// StaticMotionModel keeps a fixed offset from the reference body.
type StaticMotionModel struct {
	Offset model.Vec3
}

// Position returns the fixed offset.
func (m *StaticMotionModel) Position(time.Time) (model.Vec3, error) {
	return m.Offset, nil
}

// CircularOrbitMotionModel is an equatorial (XY plane) circular orbit.
type CircularOrbitMotionModel struct {
	Radius     float64
	Phase      float64 // radians at Epoch
	MeanMotion float64 // radians per second
	Epoch      time.Time
}

// NewCircularOrbit builds a circular orbit of the given radius around a body
// with gravitational parameter gm. A non-positive gm yields a stationary
// point on the orbit.
func NewCircularOrbit(radius, phaseDeg, gm float64, epoch time.Time) *CircularOrbitMotionModel {
	m := &CircularOrbitMotionModel{
		Radius: radius,
		Phase:  phaseDeg * math.Pi / 180,
		Epoch:  epoch,
	}
	if gm > 0 && radius > 0 {
		m.MeanMotion = math.Sqrt(gm / (radius * radius * radius))
	}
	return m
}

// Position returns the point on the orbit at simTime.
func (m *CircularOrbitMotionModel) Position(simTime time.Time) (model.Vec3, error) {
	angle := m.Phase + m.MeanMotion*simTime.Sub(m.Epoch).Seconds()
	return model.Vec3{
		X: m.Radius * math.Cos(angle),
		Y: m.Radius * math.Sin(angle),
	}, nil
}

// Period returns the orbital period, or 0 for a stationary model.
func (m *CircularOrbitMotionModel) Period() time.Duration {
	if m.MeanMotion == 0 {
		return 0
	}
	return time.Duration(2 * math.Pi / m.MeanMotion * float64(time.Second))
}

// OrbitalSGP4MotionModel uses a TLE and SGP4 to propagate an Earth-bound
// object. Positions are inertial (TEME) relative to the body centre.
type OrbitalSGP4MotionModel struct {
	sat satellite.Satellite
}

// NewOrbitalModelFromTLE constructs an orbital model from TLE lines.
//
// The lines are checked before they reach go-satellite, which exits the
// process on malformed input.
func NewOrbitalModelFromTLE(line1, line2 string) (*OrbitalSGP4MotionModel, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, fmt.Errorf("invalid TLE: %w", err)
	}
	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &OrbitalSGP4MotionModel{sat: sat}, nil
}

func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// Position propagates the satellite to simTime.
// go-satellite works in kilometres; positions are returned in metres.
func (m *OrbitalSGP4MotionModel) Position(simTime time.Time) (model.Vec3, error) {
	simTime = simTime.UTC()
	year, month, day := simTime.Date()
	hour, min, sec := simTime.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)

	const kmToM = 1000.0
	pos := model.Vec3{X: posECI.X * kmToM, Y: posECI.Y * kmToM, Z: posECI.Z * kmToM}
	if !pos.IsFinite() {
		return model.Vec3{}, errors.New("sgp4 propagation failed: output is NaN/Inf")
	}
	return pos, nil
}

// PositionUpdater receives world positions of registry bodies.
type PositionUpdater interface {
	UpdatePositions(positions map[string]model.Vec3) error
}

// PropagatorOption configures a Propagator.
type PropagatorOption func(*Propagator)

// WithPositionUpdater pushes body positions to u on every UpdatePositions.
func WithPositionUpdater(u PositionUpdater) PropagatorOption {
	return func(p *Propagator) { p.updater = u }
}

type motionEntry struct {
	id     string
	parent string
	model  MotionModel
	body   bool
}

// Propagator resolves body-relative motion models into world positions.
type Propagator struct {
	mu      sync.Mutex
	entries map[string]*motionEntry
	order   []string
	updater PositionUpdater
}

// NewPropagator constructs an empty propagator.
func NewPropagator(opts ...PropagatorOption) *Propagator {
	p := &Propagator{entries: make(map[string]*motionEntry)}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddBody tracks a registry body whose position is pushed to the updater.
func (p *Propagator) AddBody(id, parentID string, m MotionModel) error {
	return p.add(&motionEntry{id: id, parent: parentID, model: m, body: true})
}

// AddVehicle tracks an object that is propagated but not part of the
// body registry.
func (p *Propagator) AddVehicle(id, mainBodyID string, m MotionModel) error {
	return p.add(&motionEntry{id: id, parent: mainBodyID, model: m})
}

func (p *Propagator) add(e *motionEntry) error {
	if e.id == "" {
		return errors.New("motion entry with empty id")
	}
	if e.model == nil {
		return fmt.Errorf("motion entry %q: nil motion model", e.id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[e.id]; ok {
		return fmt.Errorf("motion entry %q already exists", e.id)
	}
	p.entries[e.id] = e
	p.order = append(p.order, e.id)
	return nil
}

// Remove stops propagating the given ID.
func (p *Propagator) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		return fmt.Errorf("motion entry %q not found", id)
	}
	delete(p.entries, id)
	for i, v := range p.order {
		if v == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// Propagate returns the world position of every tracked entry at simTime.
func (p *Propagator) Propagate(simTime time.Time) (map[string]model.Vec3, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.propagateLocked(simTime)
}

// UpdatePositions propagates to simTime and pushes body positions to the
// configured updater. It returns all world positions, vehicles included.
func (p *Propagator) UpdatePositions(simTime time.Time) (map[string]model.Vec3, error) {
	p.mu.Lock()
	positions, err := p.propagateLocked(simTime)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	bodies := make(map[string]model.Vec3)
	for id, pos := range positions {
		if p.entries[id].body {
			bodies[id] = pos
		}
	}
	updater := p.updater
	p.mu.Unlock()

	if updater != nil && len(bodies) > 0 {
		if err := updater.UpdatePositions(bodies); err != nil {
			return nil, fmt.Errorf("update positions: %w", err)
		}
	}
	return positions, nil
}

func (p *Propagator) propagateLocked(simTime time.Time) (map[string]model.Vec3, error) {
	out := make(map[string]model.Vec3, len(p.entries))
	visiting := make(map[string]bool)

	var resolve func(id string) (model.Vec3, error)
	resolve = func(id string) (model.Vec3, error) {
		if pos, ok := out[id]; ok {
			return pos, nil
		}
		e, ok := p.entries[id]
		if !ok {
			return model.Vec3{}, fmt.Errorf("reference body %q is not propagated", id)
		}
		if visiting[id] {
			return model.Vec3{}, fmt.Errorf("motion entry %q: reference chain contains a cycle", id)
		}
		visiting[id] = true
		defer delete(visiting, id)

		rel, err := e.model.Position(simTime)
		if err != nil {
			return model.Vec3{}, fmt.Errorf("motion entry %q: %w", id, err)
		}
		if e.parent != "" {
			origin, err := resolve(e.parent)
			if err != nil {
				return model.Vec3{}, err
			}
			rel = origin.Add(rel)
		}
		out[id] = rel
		return rel, nil
	}

	for _, id := range p.order {
		if _, err := resolve(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}
