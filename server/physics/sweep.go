package physics

import (
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/cube"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/world"
)

// sweepHit describes the nearest blocker found along a displacement.
type sweepHit struct {
	dist   float64
	normal mgl64.Vec3
	reason string
	// entity is set when the blocker is a dynamic solid entity.
	entity string
}

// sweep finds the nearest collision for a mover box displaced by disp. It
// tests the static occupancy grids of the chunks around the start and end of
// the motion, and every dynamic solid entity in the mover's layer. Under
// distance ties a dynamic blocker wins over a static one, so callers can
// always report the blocking entity.
func (s *System) sweep(selfID, layerID string, box cube.BBox, disp mgl64.Vec3) (sweepHit, bool) {
	var best sweepHit
	found := false

	if hit, ok := s.sweepStatic(layerID, box, disp); ok {
		best, found = hit, true
	}
	if hit, ok := s.sweepDynamic(selfID, layerID, box, disp); ok {
		if !found || hit.dist < best.dist || (hit.dist == best.dist && best.entity == "") {
			best, found = hit, true
		}
	}
	return best, found
}

// sweepStatic tests the mover's end-position box against the occupancy grids
// of the candidate chunks. The grid is coarse static occupancy, so the test
// is an overlap at the end position; a hit is reported at half the
// displacement with an upward normal.
func (s *System) sweepStatic(layerID string, box cube.BBox, disp mgl64.Vec3) (sweepHit, bool) {
	size := s.conf.Chunks.ChunkSize(layerID)
	end := box.Translate(disp)

	seen := make(map[world.ChunkPos]struct{})
	candidates := make([]world.ChunkPos, 0, 54)
	for _, center := range []world.ChunkPos{
		world.WorldToChunk(box.Center(), size),
		world.WorldToChunk(end.Center(), size),
	} {
		for _, p := range world.Neighbors(center, 1) {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			candidates = append(candidates, p)
		}
	}

	for _, pos := range candidates {
		c, ok := s.conf.Chunks.Get(pos.In(layerID))
		if !ok {
			continue
		}
		if c.GridCollides(end, size) {
			return sweepHit{
				dist:   disp.Len() / 2,
				normal: mgl64.Vec3{0, 1, 0},
				reason: "blocked by terrain",
			}, true
		}
	}
	return sweepHit{}, false
}

// sweepDynamic intersects the segment traced by the mover's center against
// the Minkowski-expanded boxes of all dynamic solid entities, using the slab
// method. Candidates are visited in id order so ties resolve
// deterministically.
func (s *System) sweepDynamic(selfID, layerID string, box cube.BBox, disp mgl64.Vec3) (sweepHit, bool) {
	half := box.HalfExtents()
	c0 := box.Center()

	ids := s.conf.Store.ListWithAll(contract.KindSolidity, contract.KindShape, contract.KindMobility)
	slices.Sort(ids)

	var best sweepHit
	found := false
	for _, id := range ids {
		if id == selfID {
			continue
		}
		if s.conf.Layers.EntityLayer(id) != layerID {
			continue
		}
		sol, _ := entity.Fetch[contract.Solidity](s.conf.Store, id)
		if !sol.Solid {
			continue
		}
		shape, _ := entity.Fetch[contract.Shape](s.conf.Store, id)
		mob, _ := entity.Fetch[contract.Mobility](s.conf.Store, id)
		target := localBox(shape).Translate(mob.Position.Mgl()).GrowVec3(half)

		t, normal, ok := segmentBox(c0, disp, target)
		if !ok {
			continue
		}
		dist := t * disp.Len()
		if !found || dist < best.dist {
			best = sweepHit{
				dist:   dist,
				normal: normal,
				reason: fmt.Sprintf("blocked by entity %s", id),
				entity: id,
			}
			found = true
		}
	}
	return best, found
}

// segmentBox intersects the segment start..start+disp against an AABB using
// the slab method. It returns the entry parameter in [0,1] and the
// axis-aligned entry normal, pointing opposite to the displacement on the
// entry axis.
func segmentBox(start, disp mgl64.Vec3, box cube.BBox) (float64, mgl64.Vec3, bool) {
	min, max := box.Min(), box.Max()
	tmin, tmax := 0.0, 1.0
	axis := -1
	for i := 0; i < 3; i++ {
		if math.Abs(disp[i]) < 1e-12 {
			if start[i] <= min[i] || start[i] >= max[i] {
				return 0, mgl64.Vec3{}, false
			}
			continue
		}
		inv := 1 / disp[i]
		t0 := (min[i] - start[i]) * inv
		t1 := (max[i] - start[i]) * inv
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tmin {
			tmin = t0
			axis = i
		}
		if t1 < tmax {
			tmax = t1
		}
		if tmin > tmax {
			return 0, mgl64.Vec3{}, false
		}
	}
	if axis < 0 {
		// The segment starts inside the box; treat it as an immediate hit
		// with no meaningful entry axis. Report an upward normal.
		return 0, mgl64.Vec3{0, 1, 0}, true
	}
	var normal mgl64.Vec3
	if disp[axis] > 0 {
		normal[axis] = -1
	} else {
		normal[axis] = 1
	}
	return tmin, normal, true
}

// collides reports whether the box passed overlaps static occupancy or any
// dynamic solid entity, excluding the mover itself. It is the overlap test
// used by teleports and the tick integrator.
func (s *System) collides(selfID, layerID string, box cube.BBox) bool {
	size := s.conf.Chunks.ChunkSize(layerID)
	for _, pos := range world.IntersectingChunks(box, size) {
		if c, ok := s.conf.Chunks.Get(pos.In(layerID)); ok && c.GridCollides(box, size) {
			return true
		}
	}
	for _, id := range s.conf.Store.ListWithAll(contract.KindSolidity, contract.KindShape, contract.KindMobility) {
		if id == selfID {
			continue
		}
		if s.conf.Layers.EntityLayer(id) != layerID {
			continue
		}
		sol, _ := entity.Fetch[contract.Solidity](s.conf.Store, id)
		if !sol.Solid {
			continue
		}
		shape, _ := entity.Fetch[contract.Shape](s.conf.Store, id)
		mob, _ := entity.Fetch[contract.Mobility](s.conf.Store, id)
		if box.IntersectsWith(localBox(shape).Translate(mob.Position.Mgl())) {
			return true
		}
	}
	return false
}
