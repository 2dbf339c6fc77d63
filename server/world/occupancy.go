package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultGridResolution is the number of voxels per axis in a chunk's static
// occupancy grid.
const DefaultGridResolution = 16

// OccupancyGrid is a dense bit volume marking which voxels of a chunk are
// statically solid. It represents coarse occupancy only; it is not a
// geometric collision mesh.
type OccupancyGrid struct {
	res  int
	bits []uint64
}

// NewOccupancyGrid creates an empty grid with the resolution passed along
// each axis. Non-positive resolutions fall back to DefaultGridResolution.
func NewOccupancyGrid(res int) *OccupancyGrid {
	if res <= 0 {
		res = DefaultGridResolution
	}
	n := res * res * res
	return &OccupancyGrid{res: res, bits: make([]uint64, (n+63)/64)}
}

// Resolution returns the voxel count per axis.
func (g *OccupancyGrid) Resolution() int { return g.res }

func (g *OccupancyGrid) inRange(x, y, z int) bool {
	return x >= 0 && x < g.res && y >= 0 && y < g.res && z >= 0 && z < g.res
}

func (g *OccupancyGrid) offset(x, y, z int) int {
	return (y*g.res+z)*g.res + x
}

// SetSolid marks a voxel solid or clear. Coordinates outside the grid are
// ignored.
func (g *OccupancyGrid) SetSolid(x, y, z int, solid bool) {
	if !g.inRange(x, y, z) {
		return
	}
	i := g.offset(x, y, z)
	if solid {
		g.bits[i/64] |= 1 << (i % 64)
	} else {
		g.bits[i/64] &^= 1 << (i % 64)
	}
}

// Solid reports whether the voxel is solid. Coordinates outside the grid are
// never solid.
func (g *OccupancyGrid) Solid(x, y, z int) bool {
	if !g.inRange(x, y, z) {
		return false
	}
	i := g.offset(x, y, z)
	return g.bits[i/64]&(1<<(i%64)) != 0
}

// Empty reports whether no voxel in the grid is solid.
func (g *OccupancyGrid) Empty() bool {
	for _, w := range g.bits {
		if w != 0 {
			return false
		}
	}
	return true
}

// VoxelAt maps a world position to grid indices for a chunk of the size
// passed. The position is wrapped into chunk-local space first, so any world
// position maps to a valid index regardless of which chunk it falls in.
func (g *OccupancyGrid) VoxelAt(pos mgl64.Vec3, chunkSize float64) (int, int, int) {
	x := int(math.Floor(wrapCoord(pos[0], chunkSize) / chunkSize * float64(g.res)))
	y := int(math.Floor(wrapCoord(pos[1], ChunkHeight) / ChunkHeight * float64(g.res)))
	z := int(math.Floor(wrapCoord(pos[2], chunkSize) / chunkSize * float64(g.res)))
	return clampVoxel(x, g.res), clampVoxel(y, g.res), clampVoxel(z, g.res)
}

func wrapCoord(v, span float64) float64 {
	return math.Mod(math.Mod(v, span)+span, span)
}

func clampVoxel(v, res int) int {
	if v < 0 {
		return 0
	}
	if v >= res {
		return res - 1
	}
	return v
}
