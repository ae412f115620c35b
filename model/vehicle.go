package model

import "strings"

// VehicleKind classifies a vehicle for the simulation validity predicate.
type VehicleKind int

const (
	VehicleKindVessel VehicleKind = iota
	VehicleKindDebris
	VehicleKindFlag
	VehicleKindAsteroid
	VehicleKindEVA
	VehicleKindGroundPart
)

var vehicleKindNames = map[VehicleKind]string{
	VehicleKindVessel:     "vessel",
	VehicleKindDebris:     "debris",
	VehicleKindFlag:       "flag",
	VehicleKindAsteroid:   "asteroid",
	VehicleKindEVA:        "eva",
	VehicleKindGroundPart: "ground_part",
}

func (k VehicleKind) String() string {
	if s, ok := vehicleKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseVehicleKind maps a config string to a kind. Unknown and empty values
// default to a vessel.
func ParseVehicleKind(s string) VehicleKind {
	v := strings.ToLower(strings.TrimSpace(s))
	for k, name := range vehicleKindNames {
		if name == v {
			return k
		}
	}
	return VehicleKindVessel
}

// VehicleDefinition represents a simulated vehicle (spacecraft, rover, EVA).
type VehicleDefinition struct {
	ID   string
	Name string
	Kind VehicleKind

	// MainBodyID is the body whose gravity dominates the vehicle.
	MainBodyID string
	// Loaded is true while the vehicle is under full real-time physics.
	Loaded bool
	// Dead marks a vehicle that has been destroyed (e.g. a dead EVA).
	Dead bool

	Position Vec3
}

// IsVessel reports whether this is a real, trackable vehicle. Debris,
// flags, asteroids, deployed ground parts and dead EVAs are not simulated.
func (v *VehicleDefinition) IsVessel() bool {
	if v == nil || v.Dead {
		return false
	}
	switch v.Kind {
	case VehicleKindDebris, VehicleKindFlag, VehicleKindAsteroid, VehicleKindGroundPart:
		return false
	}
	return true
}
