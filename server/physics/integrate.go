package physics

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/cube"
	"github.com/strata-world/strata/server/entity"
)

// groundProbeDepth is how far below an entity the ground probe tests.
const groundProbeDepth = 0.1

// Update advances every entity with mobility by dt seconds: gravity while
// airborne, friction, speed clamping and collision resolution. Entities
// without a shape integrate freely; they cannot collide.
func (s *System) Update(dt float64) {
	if dt <= 0 {
		return
	}
	ids := s.conf.Store.ListWith(contract.KindMobility)
	slices.Sort(ids)
	for _, id := range ids {
		s.integrate(id, dt)
	}
}

func (s *System) integrate(id string, dt float64) {
	mob, ok := entity.Fetch[contract.Mobility](s.conf.Store, id)
	if !ok {
		return
	}
	pos := mob.Position.Mgl()
	vel := mgl64.Vec3{}
	if mob.Velocity != nil {
		vel = mob.Velocity.Mgl()
	}
	origVel := vel

	layerID := s.conf.Layers.EntityLayer(id)
	gravity := s.conf.Layers.Default().Gravity
	if l, ok := s.conf.Layers.Get(layerID); ok {
		gravity = l.Gravity
	}

	shape, hasShape := entity.Fetch[contract.Shape](s.conf.Store, id)
	grounded := false
	if hasShape {
		probe := localBox(shape).Translate(pos.Sub(mgl64.Vec3{0, groundProbeDepth, 0}))
		grounded = s.collides(id, layerID, probe)
	}

	if !grounded {
		vel[1] += gravity * dt
		if vel[1] < s.conf.TerminalVelocity {
			vel[1] = s.conf.TerminalVelocity
		}
	} else if vel[1] < 0 {
		vel[1] = 0
	}

	friction := s.conf.AirFriction
	if grounded {
		friction = s.conf.GroundFriction
	}
	damp := math.Pow(friction, dt)
	vel[0] *= damp
	vel[2] *= damp

	if mob.MaxSpeed != nil {
		if h := math.Hypot(vel[0], vel[2]); h > *mob.MaxSpeed && h > 0 {
			scale := *mob.MaxSpeed / h
			vel[0] *= scale
			vel[2] *= scale
		}
	}

	next := pos
	if !s.approxZero(vel) {
		candidate := pos.Add(vel.Mul(dt))
		if !hasShape {
			next = candidate
		} else {
			next, vel = s.resolve(id, layerID, shape, pos, candidate, vel)
		}
	}

	if next == pos && vel == origVel {
		// Nothing changed; skip the write to avoid needless hooks and
		// broadcasts for resting entities.
		return
	}
	mob.Position = contract.Vec3From(next)
	v := contract.Vec3From(vel)
	mob.Velocity = &v
	if err := s.conf.Store.Add(id, mob); err != nil {
		s.conf.Log.Error("integrator write failed", "entity", id, "err", err)
	}
}

// resolve applies the collision cascade to a candidate position: full move,
// then horizontal only, then vertical only, else the move is rejected and
// velocity zeroed.
func (s *System) resolve(id, layerID string, shape contract.Shape, pos, candidate mgl64.Vec3, vel mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	boxAt := func(p mgl64.Vec3) cube.BBox { return localBox(shape).Translate(p) }

	if !s.collides(id, layerID, boxAt(candidate)) {
		return candidate, vel
	}
	horizontal := mgl64.Vec3{candidate[0], pos[1], candidate[2]}
	if !s.collides(id, layerID, boxAt(horizontal)) {
		vel[1] = 0
		return horizontal, vel
	}
	vertical := mgl64.Vec3{pos[0], candidate[1], pos[2]}
	if !s.collides(id, layerID, boxAt(vertical)) {
		vel[0], vel[2] = 0, 0
		return vertical, vel
	}
	return pos, mgl64.Vec3{}
}
