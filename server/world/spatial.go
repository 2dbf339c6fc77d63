// Package world organizes entities into layers and fixed-size chunks, and
// fans state changes out to chunk subscribers.
package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/cube"
)

// ChunkHeight is the vertical extent of a chunk in world units. It is a
// global constant independent of the per-layer horizontal chunk size.
const ChunkHeight = 256

// chunkEpsilon shrinks the upper bound of a box when enumerating the chunks
// it overlaps, so a box whose maximum falls exactly on a chunk boundary does
// not count the neighbouring chunk.
const chunkEpsilon = 1e-9

// ChunkPos is the position of a chunk within a layer, expressed in chunk
// coordinates.
type ChunkPos [3]int

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int { return p[0] }

// Y returns the Y coordinate of the chunk position.
func (p ChunkPos) Y() int { return p[1] }

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int { return p[2] }

// In binds the chunk position to a layer, producing a ChunkKey.
func (p ChunkPos) In(layer string) ChunkKey { return ChunkKey{Layer: layer, Pos: p} }

// WorldToChunk returns the chunk position containing the world position
// passed. The horizontal axes divide by the layer chunk size, the vertical
// axis by ChunkHeight.
func WorldToChunk(pos mgl64.Vec3, size float64) ChunkPos {
	return ChunkPos{
		int(math.Floor(pos[0] / size)),
		int(math.Floor(pos[1] / ChunkHeight)),
		int(math.Floor(pos[2] / size)),
	}
}

// ChunkToWorld returns the world-space origin of the chunk position passed.
func ChunkToWorld(p ChunkPos, size float64) mgl64.Vec3 {
	return mgl64.Vec3{
		float64(p[0]) * size,
		float64(p[1]) * ChunkHeight,
		float64(p[2]) * size,
	}
}

// IntersectingChunks enumerates the chunk positions whose half-open volume
// [origin, origin+size) overlaps the box passed. A narrow box that straddles
// the origin on an axis with a span smaller than the chunk size clamps to
// the origin chunk on that axis, which keeps small local volumes in a single
// cell.
func IntersectingChunks(box cube.BBox, size float64) []ChunkPos {
	min, max := box.Min(), box.Max()
	x0, x1 := axisCells(min[0], max[0], size)
	y0, y1 := axisCells(min[1], max[1], ChunkHeight)
	z0, z1 := axisCells(min[2], max[2], size)

	out := make([]ChunkPos, 0, (x1-x0+1)*(y1-y0+1)*(z1-z0+1))
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				out = append(out, ChunkPos{x, y, z})
			}
		}
	}
	return out
}

// axisCells returns the inclusive chunk index range covered by [lo, hi) on
// one axis, applying the narrow-straddle origin clamp.
func axisCells(lo, hi, size float64) (int, int) {
	if lo < 0 && hi > 0 && hi-lo < size {
		return 0, 0
	}
	a := int(math.Floor(lo / size))
	b := int(math.Floor((hi - chunkEpsilon) / size))
	if b < a {
		b = a
	}
	return a, b
}

// Neighbors enumerates the cube of chunk positions within radius r of the
// center, inclusive of the center itself. r=0 yields just the center, r=1
// yields 27 positions.
func Neighbors(center ChunkPos, r int) []ChunkPos {
	if r < 0 {
		r = 0
	}
	side := 2*r + 1
	out := make([]ChunkPos, 0, side*side*side)
	for x := -r; x <= r; x++ {
		for y := -r; y <= r; y++ {
			for z := -r; z <= r; z++ {
				out = append(out, ChunkPos{center[0] + x, center[1] + y, center[2] + z})
			}
		}
	}
	return out
}

// ChunksInRadius enumerates the chunk neighbourhood covering a world-space
// radius around a position, converting the radius to chunks by rounding up.
func ChunksInRadius(center mgl64.Vec3, rWorld, size float64) []ChunkPos {
	r := 0
	if rWorld > 0 {
		r = int(math.Ceil(rWorld / size))
	}
	return Neighbors(WorldToChunk(center, size), r)
}

// ChunkRadius converts a world-space view radius to a chunk radius for the
// chunk size passed, never returning a negative radius.
func ChunkRadius(rWorld, size float64) int {
	if rWorld <= 0 {
		return 0
	}
	return int(math.Ceil(rWorld / size))
}
