package environment

import (
	"github.com/signalsfoundry/starlight/core"
	"github.com/signalsfoundry/starlight/model"
)

// Vehicle is the collaborator view of a simulated vehicle.
type Vehicle interface {
	VehicleID() string
	// Valid is the validity predicate: false for objects that should not
	// be simulated (debris, flags, dead vehicles).
	Valid() bool
	Observation() core.ObservationPoint
}

// DefinitionVehicle adapts a vehicle definition to Vehicle.
type DefinitionVehicle struct {
	Def *model.VehicleDefinition
}

// VehicleID returns the definition ID.
func (v DefinitionVehicle) VehicleID() string { return v.Def.ID }

// Valid applies the default vessel predicate.
func (v DefinitionVehicle) Valid() bool { return v.Def.IsVessel() }

// Observation returns the current position and main body.
func (v DefinitionVehicle) Observation() core.ObservationPoint {
	return core.ObservationPoint{Position: v.Def.Position, MainBodyID: v.Def.MainBodyID}
}

// Kind returns the vehicle kind, used as a metrics label.
func (v DefinitionVehicle) Kind() model.VehicleKind { return v.Def.Kind }

type kinded interface {
	Kind() model.VehicleKind
}

func kindLabel(v Vehicle) string {
	if k, ok := v.(kinded); ok {
		return k.Kind().String()
	}
	return "unknown"
}
