package kb

import (
	"fmt"

	"github.com/signalsfoundry/starlight/model"
)

// Snapshot is a read-only view of the bodies of one system at one instant.
// Callers must not mutate the returned bodies.
type Snapshot struct {
	generation uint64

	bodies []*model.Body
	lights []*model.Body
	byID   map[string]*model.Body
}

func newSnapshot(bodies []*model.Body) (*Snapshot, error) {
	seen := make(map[string]bool, len(bodies))
	for _, b := range bodies {
		if err := validateBody(b, seen); err != nil {
			return nil, fmt.Errorf("load registry: %w", err)
		}
		seen[b.ID] = true
	}
	for _, b := range bodies {
		if b.ParentID != "" && !seen[b.ParentID] {
			return nil, fmt.Errorf("load registry: parent %q of body %q not found", b.ParentID, b.ID)
		}
	}

	s := &Snapshot{
		bodies: make([]*model.Body, 0, len(bodies)),
		byID:   make(map[string]*model.Body, len(bodies)),
	}
	for _, b := range bodies {
		c := b.Clone()
		s.bodies = append(s.bodies, c)
		s.byID[c.ID] = c
		if c.Luminous {
			s.lights = append(s.lights, c)
		}
	}
	if err := s.checkParentCycles(); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return s, nil
}

func (s *Snapshot) checkParentCycles() error {
	for _, b := range s.bodies {
		steps := 0
		for cur := b; cur.ParentID != ""; cur = s.byID[cur.ParentID] {
			steps++
			if steps > len(s.bodies) {
				return fmt.Errorf("body %q: parent chain contains a cycle", b.ID)
			}
		}
	}
	return nil
}

// withPositions copies the snapshot with some bodies moved. Unmoved bodies
// are shared with the previous snapshot.
func (s *Snapshot) withPositions(positions map[string]model.Vec3) *Snapshot {
	next := &Snapshot{
		generation: s.generation,
		bodies:     make([]*model.Body, 0, len(s.bodies)),
		byID:       make(map[string]*model.Body, len(s.bodies)),
	}
	for _, b := range s.bodies {
		if pos, ok := positions[b.ID]; ok {
			moved := *b
			moved.Position = pos
			b = &moved
		}
		next.bodies = append(next.bodies, b)
		next.byID[b.ID] = b
		if b.Luminous {
			next.lights = append(next.lights, b)
		}
	}
	return next
}

// Generation identifies the load this snapshot belongs to.
func (s *Snapshot) Generation() uint64 { return s.generation }

// Bodies returns all bodies in registry order.
func (s *Snapshot) Bodies() []*model.Body { return s.bodies }

// LightSources returns the luminous bodies in registry order.
func (s *Snapshot) LightSources() []*model.Body { return s.lights }

// Body returns the body with the given ID, or nil if not found.
func (s *Snapshot) Body(id string) *model.Body { return s.byID[id] }

// LocalStar walks the parent chain of the given body until it reaches a
// luminous body or the root of the system.
func (s *Snapshot) LocalStar(id string) *model.Body {
	b := s.byID[id]
	for b != nil && !b.Luminous && b.ParentID != "" {
		b = s.byID[b.ParentID]
	}
	return b
}

// LocalPlanet returns the body directly orbiting the local star of the
// given body (the body itself when it already orbits a star).
func (s *Snapshot) LocalPlanet(id string) *model.Body {
	b := s.byID[id]
	for b != nil && b.ParentID != "" {
		parent := s.byID[b.ParentID]
		if parent == nil || parent.Luminous {
			break
		}
		b = parent
	}
	return b
}

// Brightest returns the light source with the greatest apparent luminosity
// (luminosity / d²) at pos, or nil when no source gives off light.
func (s *Snapshot) Brightest(pos model.Vec3) *model.Body {
	var (
		best     *model.Body
		greatest float64
	)
	for _, star := range s.lights {
		if star.Luminosity <= 0 {
			continue
		}
		d2 := star.Position.Sub(pos).SqrNorm()
		if d2 == 0 {
			continue
		}
		if apparent := star.Luminosity / d2; apparent > greatest {
			greatest = apparent
			best = star
		}
	}
	return best
}
