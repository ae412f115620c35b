package core

import (
	"math"

	"github.com/signalsfoundry/starlight/model"
)

// MinCenterDistance is the closest an observation point may get to a body
// centre before its geometry is considered corrupt (metres).
const MinCenterDistance = 1.0

// Ray is a half-line from Origin along Direction. Direction need not be
// normalised.
type Ray struct {
	Origin    model.Vec3
	Direction model.Vec3
}

// closestApproach projects centre onto the line through r. It returns the
// signed distance along the ray to the foot of the perpendicular (negative
// when the foot lies behind the origin) and the perpendicular distance
// between the line and centre.
func closestApproach(r Ray, centre model.Vec3) (signed, perpendicular float64) {
	rel := centre.Sub(r.Origin)
	dirSq := r.Direction.SqrNorm()
	if dirSq == 0 {
		return 0, rel.Norm()
	}
	dot := r.Direction.Dot(rel)
	foot := r.Direction.Scale(dot / dirSq)
	return dot / math.Sqrt(dirSq), rel.Sub(foot).Norm()
}

// perpendicularTo returns a unit vector orthogonal to the unit vector n,
// preferring the component of hint that is orthogonal to n.
func perpendicularTo(n, hint model.Vec3) model.Vec3 {
	p := hint.Sub(n.Scale(hint.Dot(n)))
	if p.Norm() > 1e-9*math.Max(1, hint.Norm()) {
		return p.Normalize()
	}
	axis := model.Vec3{X: 1}
	if math.Abs(n.X) > 0.9 {
		axis = model.Vec3{Y: 1}
	}
	return n.Cross(axis).Normalize()
}
