package game

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/world"
)

// terrainStride spaces generated landmark chunks on the horizontal axes.
const terrainStride = 4

// TerrainGenerator populates ground-level chunks: every fourth chunk on each
// horizontal axis at cy=0 receives a single solid unit block at its center
// and a solid voxel in the occupancy grid. Generation is idempotent per
// chunk key: the block entity id is derived from the key.
type TerrainGenerator struct {
	Store  *entity.Store
	Layers *world.Layers
}

func mod(v, n int) int {
	return ((v % n) + n) % n
}

// Generate implements world.Generator.
func (g TerrainGenerator) Generate(m *world.Manager, c *world.Chunk) {
	key := c.Key()
	pos := key.Pos
	if pos.Y() != 0 || mod(pos.X(), terrainStride) != 0 || mod(pos.Z(), terrainStride) != 0 {
		return
	}
	id := fmt.Sprintf("terrain-%s-%d,%d,%d", key.Layer, pos.X(), pos.Y(), pos.Z())
	if g.Store.Has(id) {
		return
	}

	size := m.ChunkSize(key.Layer)
	origin := world.ChunkToWorld(pos, size)
	center := origin.Add(mgl64.Vec3{size / 2, world.ChunkHeight / 2, size / 2})

	// Record the layer before creation, so the membership hooks fired by
	// Create index the block into the generated chunk's layer.
	if key.Layer != world.DefaultLayer {
		g.Layers.SetEntityLayer(id, key.Layer)
	}
	err := g.Store.Create(id,
		contract.Identity{ID: id, Name: "terrain block"},
		contract.Mobility{Position: contract.Vec3From(center)},
		contract.Shape{
			Min:      contract.Vec3{X: -0.5, Y: -0.5, Z: -0.5},
			Max:      contract.Vec3{X: 0.5, Y: 0.5, Z: 0.5},
			Geometry: contract.GeometryBox,
		},
		contract.Visual{Material: "stone", Visible: true},
		contract.Solidity{Solid: true},
	)
	if err != nil {
		return
	}

	grid := c.EnsureGrid(world.DefaultGridResolution)
	x, y, z := grid.VoxelAt(center, size)
	grid.SetSolid(x, y, z, true)
}
