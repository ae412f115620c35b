package core

import (
	"fmt"

	"github.com/signalsfoundry/starlight/model"
)

// IsVisible reports whether source can be seen from observer, along with
// the unit direction towards the source centre and the distance to it.
//
// An occluder blocks the source when the ray towards the source passes
// within its radius; grazing (distance == radius) counts as blocked.
// Occluders behind the observer or farther along the ray than the source
// are ignored. The source itself is never an occluder.
func IsVisible(observer model.Vec3, source *model.Body, occluders []*model.Body) (visible bool, direction model.Vec3, distance float64) {
	toSource := source.Position.Sub(observer)
	distance = toSource.Norm()
	if distance == 0 {
		return true, model.Vec3{}, 0
	}
	direction = toSource.Scale(1 / distance)
	distSq := distance * distance

	for _, b := range occluders {
		if b == nil || b == source || b.ID == source.ID {
			continue
		}
		rel := b.Position.Sub(observer)
		along := rel.Dot(direction)
		if along <= 0 {
			continue
		}
		if along*along > distSq {
			continue
		}
		perpSq := rel.SqrNorm() - along*along
		if perpSq <= b.Radius*b.Radius {
			return false, direction, distance
		}
	}
	return true, direction, distance
}

// CheckGeometry returns ErrDegenerateGeometry when observer is within
// MinCenterDistance of any body centre.
func CheckGeometry(observer model.Vec3, bodies []*model.Body) error {
	if !observer.IsFinite() {
		return fmt.Errorf("%w: observer position is not finite", ErrDegenerateGeometry)
	}
	for _, b := range bodies {
		if b == nil {
			continue
		}
		if observer.DistanceTo(b.Position) < MinCenterDistance {
			return fmt.Errorf("%w: observer at centre of body %q", ErrDegenerateGeometry, b.ID)
		}
	}
	return nil
}
