package core

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/starlight/model"
)

// Format is the encoding of a system document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// System is a loaded star system: its bodies, how they move, and the
// vehicles to evaluate.
type System struct {
	Epoch    time.Time
	Bodies   []*model.Body
	Vehicles []*model.VehicleDefinition

	bodyMotion    map[string]MotionModel
	vehicleMotion map[string]MotionModel
}

// Propagator builds a propagator tracking every body and vehicle of the
// system.
func (s *System) Propagator(opts ...PropagatorOption) (*Propagator, error) {
	p := NewPropagator(opts...)
	for _, b := range s.Bodies {
		if err := p.AddBody(b.ID, b.ParentID, s.bodyMotion[b.ID]); err != nil {
			return nil, err
		}
	}
	for _, v := range s.Vehicles {
		if err := p.AddVehicle(v.ID, v.MainBodyID, s.vehicleMotion[v.ID]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// internal document shapes; unexported so they can evolve freely.
type systemDoc struct {
	Epoch    string       `json:"epoch" yaml:"epoch"`
	Bodies   []bodyDoc    `json:"bodies" yaml:"bodies"`
	Vehicles []vehicleDoc `json:"vehicles" yaml:"vehicles"`
}

type bodyDoc struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Parent     string         `json:"parent" yaml:"parent"`
	Radius     float64        `json:"radius" yaml:"radius"`
	GM         float64        `json:"gm" yaml:"gm"`
	Luminosity float64        `json:"luminosity" yaml:"luminosity"`
	Insolation *insolationDoc `json:"insolation" yaml:"insolation"`
	Atmosphere *atmosphereDoc `json:"atmosphere" yaml:"atmosphere"`
	Orbit      *orbitDoc      `json:"orbit" yaml:"orbit"`
	Position   *vecDoc        `json:"position" yaml:"position"`
}

type insolationDoc struct {
	Flux     float64 `json:"flux" yaml:"flux"`         // W/m² measured at Distance
	Distance float64 `json:"distance" yaml:"distance"` // m
}

type atmosphereDoc struct {
	Depth          float64      `json:"depth" yaml:"depth"`
	SurfaceDensity float64      `json:"surface_density" yaml:"surface_density"`
	ScaleHeight    float64      `json:"scale_height" yaml:"scale_height"`
	Profile        []densityDoc `json:"profile" yaml:"profile"`
}

type densityDoc struct {
	Altitude float64 `json:"altitude" yaml:"altitude"`
	Density  float64 `json:"density" yaml:"density"`
}

type orbitDoc struct {
	Radius   float64 `json:"radius" yaml:"radius"`
	Altitude float64 `json:"altitude" yaml:"altitude"` // above the surface; used when Radius is 0
	PhaseDeg float64 `json:"phase_deg" yaml:"phase_deg"`
}

type surfaceDoc struct {
	LatitudeDeg  float64 `json:"latitude_deg" yaml:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg" yaml:"longitude_deg"`
	Altitude     float64 `json:"altitude" yaml:"altitude"`
}

type tleDoc struct {
	Line1 string `json:"line1" yaml:"line1"`
	Line2 string `json:"line2" yaml:"line2"`
}

type vecDoc struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

type vehicleDoc struct {
	ID       string      `json:"id" yaml:"id"`
	Name     string      `json:"name" yaml:"name"`
	Kind     string      `json:"kind" yaml:"kind"`
	MainBody string      `json:"main_body" yaml:"main_body"`
	Loaded   bool        `json:"loaded" yaml:"loaded"`
	Dead     bool        `json:"dead" yaml:"dead"`
	Orbit    *orbitDoc   `json:"orbit" yaml:"orbit"`
	Surface  *surfaceDoc `json:"surface" yaml:"surface"`
	TLE      *tleDoc     `json:"tle" yaml:"tle"`
	Position *vecDoc     `json:"position" yaml:"position"`
}

// LoadSystemFile reads a system document from disk, choosing the format
// from the file extension.
func LoadSystemFile(path string) (*System, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadSystem: %w", err)
	}
	defer f.Close()
	return LoadSystem(f, FormatFromPath(path))
}

// LoadSystem reads a system document from r.
//
// It fails on decode and structural errors (missing ids, unknown parents,
// invalid TLEs). Physical validation of the bodies is left to the
// registry's Load.
func LoadSystem(r io.Reader, format Format) (*System, error) {
	var doc systemDoc
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("LoadSystem: decode yaml failed: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&doc); err != nil {
			return nil, fmt.Errorf("LoadSystem: decode json failed: %w", err)
		}
	}

	sys := &System{
		Epoch:         time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC),
		bodyMotion:    make(map[string]MotionModel, len(doc.Bodies)),
		vehicleMotion: make(map[string]MotionModel, len(doc.Vehicles)),
	}
	if doc.Epoch != "" {
		epoch, err := time.Parse(time.RFC3339, doc.Epoch)
		if err != nil {
			return nil, fmt.Errorf("LoadSystem: epoch: %w", err)
		}
		sys.Epoch = epoch.UTC()
	}

	byID := make(map[string]*model.Body, len(doc.Bodies))
	for _, bd := range doc.Bodies {
		if bd.ID == "" {
			return nil, fmt.Errorf("LoadSystem: body with empty id")
		}
		body := bodyFromDoc(bd)
		var parent *model.Body
		if bd.Parent != "" {
			parent = byID[bd.Parent]
			if parent == nil {
				return nil, fmt.Errorf("LoadSystem: body %q: parent %q must be declared before it", bd.ID, bd.Parent)
			}
		}
		sys.bodyMotion[bd.ID] = motionFromDoc(bd.Orbit, bd.Position, parent, sys.Epoch)
		byID[bd.ID] = body
		sys.Bodies = append(sys.Bodies, body)
	}

	for _, vd := range doc.Vehicles {
		def := &model.VehicleDefinition{
			ID:         vd.ID,
			Name:       vd.Name,
			Kind:       model.ParseVehicleKind(vd.Kind),
			MainBodyID: vd.MainBody,
			Loaded:     vd.Loaded,
			Dead:       vd.Dead,
		}
		if def.ID == "" {
			def.ID = uuid.NewString()
		}
		if def.Name == "" {
			def.Name = def.ID
		}
		main := byID[vd.MainBody]
		if vd.MainBody != "" && main == nil {
			return nil, fmt.Errorf("LoadSystem: vehicle %q: unknown main body %q", def.ID, vd.MainBody)
		}

		var (
			m   MotionModel
			err error
		)
		switch {
		case vd.TLE != nil:
			m, err = NewOrbitalModelFromTLE(vd.TLE.Line1, vd.TLE.Line2)
			if err != nil {
				return nil, fmt.Errorf("LoadSystem: vehicle %q: %w", def.ID, err)
			}
		case vd.Surface != nil:
			if main == nil {
				return nil, fmt.Errorf("LoadSystem: vehicle %q: surface placement needs a main body", def.ID)
			}
			m = &StaticMotionModel{Offset: surfaceOffset(main.Radius, *vd.Surface)}
		default:
			m = motionFromDoc(vd.Orbit, vd.Position, main, sys.Epoch)
		}
		sys.vehicleMotion[def.ID] = m
		sys.Vehicles = append(sys.Vehicles, def)
	}

	// Place everything at the epoch.
	p, err := sys.Propagator()
	if err != nil {
		return nil, fmt.Errorf("LoadSystem: %w", err)
	}
	positions, err := p.Propagate(sys.Epoch)
	if err != nil {
		return nil, fmt.Errorf("LoadSystem: %w", err)
	}
	for _, b := range sys.Bodies {
		b.Position = positions[b.ID]
	}
	for _, v := range sys.Vehicles {
		v.Position = positions[v.ID]
	}
	return sys, nil
}

func bodyFromDoc(bd bodyDoc) *model.Body {
	body := &model.Body{
		ID:                     bd.ID,
		Name:                   bd.Name,
		ParentID:               bd.Parent,
		Radius:                 bd.Radius,
		GravitationalParameter: bd.GM,
		Luminosity:             bd.Luminosity,
	}
	if body.Name == "" {
		body.Name = bd.ID
	}
	if bd.Insolation != nil && body.Luminosity == 0 {
		body.Luminosity = model.LuminosityFromInsolation(bd.Insolation.Flux, bd.Insolation.Distance)
	}
	body.Luminous = body.Luminosity > 0
	if a := bd.Atmosphere; a != nil {
		atm := &model.Atmosphere{
			Depth:          a.Depth,
			SurfaceDensity: a.SurfaceDensity,
			ScaleHeight:    a.ScaleHeight,
		}
		for _, pt := range a.Profile {
			atm.Profile = append(atm.Profile, model.DensityPoint{Altitude: pt.Altitude, Density: pt.Density})
		}
		if atm.SurfaceDensity == 0 && len(atm.Profile) > 0 {
			atm.SurfaceDensity = atm.Profile[0].Density
		}
		body.Atmosphere = atm
	}
	return body
}

func motionFromDoc(orbit *orbitDoc, pos *vecDoc, parent *model.Body, epoch time.Time) MotionModel {
	if orbit != nil {
		radius := orbit.Radius
		gm := 0.0
		if parent != nil {
			gm = parent.GravitationalParameter
			if radius == 0 {
				radius = parent.Radius + orbit.Altitude
			}
		}
		return NewCircularOrbit(radius, orbit.PhaseDeg, gm, epoch)
	}
	if pos != nil {
		return &StaticMotionModel{Offset: model.Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}}
	}
	return &StaticMotionModel{}
}

func surfaceOffset(radius float64, s surfaceDoc) model.Vec3 {
	lat := s.LatitudeDeg * math.Pi / 180
	lon := s.LongitudeDeg * math.Pi / 180
	r := radius + s.Altitude
	return model.Vec3{
		X: r * math.Cos(lat) * math.Cos(lon),
		Y: r * math.Cos(lat) * math.Sin(lon),
		Z: r * math.Sin(lat),
	}
}
