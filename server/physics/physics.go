// Package physics implements the authoritative movement pipeline: swept AABB
// collision against static occupancy grids and dynamic solid entities, and
// the per-tick gravity/friction integrator.
package physics

import (
	"log/slog"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/cube"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/world"
)

// Config configures a movement System.
type Config struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Store is the entity store. Required.
	Store *entity.Store
	// Layers resolves layer membership and gravity. Required.
	Layers *world.Layers
	// Chunks provides static occupancy grids. Required.
	Chunks *world.Manager
	// TerminalVelocity caps downward speed. Defaults to -53.
	TerminalVelocity float64
	// GroundFriction and AirFriction dampen horizontal velocity per second.
	// Defaults: 0.8 and 0.98.
	GroundFriction, AirFriction float64
	// Epsilon is the collision epsilon. Defaults to 0.001.
	Epsilon float64
	// DefaultMaxSpeed applies to entities whose mobility carries no maxSpeed.
	// Defaults to 5.
	DefaultMaxSpeed float64
}

// System performs authoritative movement for all entities with mobility.
type System struct {
	conf Config
}

// NewSystem creates a movement System, filling config defaults.
func NewSystem(conf Config) *System {
	if conf.Store == nil || conf.Layers == nil || conf.Chunks == nil {
		panic("physics: system requires store, layers and chunks")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.TerminalVelocity == 0 {
		conf.TerminalVelocity = -53
	}
	if conf.GroundFriction == 0 {
		conf.GroundFriction = 0.8
	}
	if conf.AirFriction == 0 {
		conf.AirFriction = 0.98
	}
	if conf.Epsilon == 0 {
		conf.Epsilon = 0.001
	}
	if conf.DefaultMaxSpeed == 0 {
		conf.DefaultMaxSpeed = 5
	}
	return &System{conf: conf}
}

// Result is the outcome of an AttemptMove call. A blocked move is a normal
// outcome, not an error: Position then holds the clamped position.
type Result struct {
	OK       bool
	Position mgl64.Vec3
	// Reason describes why the move was blocked or rejected.
	Reason string
	// Normal is the collision normal when a blocker was hit.
	Normal    mgl64.Vec3
	HasNormal bool
	// Blocker is the id of the blocking entity, if the blocker was dynamic.
	Blocker string
}

// AttemptMove validates an intended move for the entity passed and returns
// the authoritative outcome. It does not write the entity's mobility; the
// caller applies the returned position.
func (s *System) AttemptMove(id string, want mgl64.Vec3, dt float64) Result {
	mob, ok := entity.Fetch[contract.Mobility](s.conf.Store, id)
	if !ok {
		return Result{Position: mgl64.Vec3{}, Reason: "no mobility"}
	}
	cur := mob.Position.Mgl()
	shape, ok := entity.Fetch[contract.Shape](s.conf.Store, id)
	if !ok {
		return Result{Position: cur, Reason: "no shape"}
	}

	dir := want.Sub(cur)
	dist := dir.Len()
	if dist < s.conf.Epsilon {
		return Result{OK: true, Position: cur}
	}
	maxSpeed := s.conf.DefaultMaxSpeed
	if mob.MaxSpeed != nil {
		maxSpeed = *mob.MaxSpeed
	}
	travel := dist
	if limit := maxSpeed * dt; travel > limit {
		travel = limit
	}
	disp := dir.Mul(travel / dist)

	layerID := s.conf.Layers.EntityLayer(id)
	box := localBox(shape).Translate(cur)

	hit, found := s.sweep(id, layerID, box, disp)
	if !found {
		return Result{OK: true, Position: cur.Add(disp)}
	}
	t := hit.dist/travel - s.conf.Epsilon
	if t < 0 {
		t = 0
	}
	return Result{
		Position:  cur.Add(disp.Mul(t)),
		Reason:    hit.reason,
		Normal:    hit.normal,
		HasNormal: true,
		Blocker:   hit.entity,
	}
}

// Teleport moves an entity directly to the position passed, refusing
// destinations that would collide. Velocity is zeroed on success.
func (s *System) Teleport(id string, pos mgl64.Vec3) bool {
	mob, ok := entity.Fetch[contract.Mobility](s.conf.Store, id)
	if !ok {
		return false
	}
	if shape, ok := entity.Fetch[contract.Shape](s.conf.Store, id); ok {
		layerID := s.conf.Layers.EntityLayer(id)
		if s.collides(id, layerID, localBox(shape).Translate(pos)) {
			return false
		}
	}
	mob.Position = contract.Vec3From(pos)
	mob.Velocity = &contract.Vec3{}
	if err := s.conf.Store.Add(id, mob); err != nil {
		s.conf.Log.Warn("teleport write failed", "entity", id, "err", err)
		return false
	}
	return true
}

// SetVelocity overwrites an entity's velocity.
func (s *System) SetVelocity(id string, vel mgl64.Vec3) bool {
	mob, ok := entity.Fetch[contract.Mobility](s.conf.Store, id)
	if !ok {
		return false
	}
	v := contract.Vec3From(vel)
	mob.Velocity = &v
	return s.conf.Store.Add(id, mob) == nil
}

// ApplyImpulse adds to an entity's velocity.
func (s *System) ApplyImpulse(id string, impulse mgl64.Vec3) bool {
	mob, ok := entity.Fetch[contract.Mobility](s.conf.Store, id)
	if !ok {
		return false
	}
	vel := mgl64.Vec3{}
	if mob.Velocity != nil {
		vel = mob.Velocity.Mgl()
	}
	v := contract.Vec3From(vel.Add(impulse))
	mob.Velocity = &v
	return s.conf.Store.Add(id, mob) == nil
}

// localBox converts a shape contract to a BBox in entity-local coordinates.
func localBox(shape contract.Shape) cube.BBox {
	return cube.Box(shape.Min.X, shape.Min.Y, shape.Min.Z, shape.Max.X, shape.Max.Y, shape.Max.Z)
}

// approxZero reports whether a vector is negligible under the configured
// epsilon.
func (s *System) approxZero(v mgl64.Vec3) bool {
	return math.Abs(v[0]) < s.conf.Epsilon && math.Abs(v[1]) < s.conf.Epsilon && math.Abs(v[2]) < s.conf.Epsilon
}
