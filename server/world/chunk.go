package world

import (
	"time"

	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/cube"
)

// Subscriber is the handle the Manager uses to deliver chunk snapshots and
// deltas to an interested session. Implementations must be safe to call from
// the simulation executor only.
type Subscriber interface {
	// SessionID uniquely identifies the subscriber.
	SessionID() string
	// Live reports whether the subscriber is still connected. Dead
	// subscribers are pruned from subscriber sets during maintenance.
	Live() bool
	// SendSnapshot delivers the full state of a chunk.
	SendSnapshot(snap Snapshot)
	// SendDelta delivers an incremental chunk change.
	SendDelta(d Delta)
	// SendDespawn notifies the subscriber that an entity was destroyed in a
	// chunk it subscribes to.
	SendDespawn(d Despawn)
}

// EntityState pairs an entity id with its contract records for transport in
// snapshots and deltas.
type EntityState struct {
	ID        string
	Contracts []contract.Contract
}

// Snapshot is the full state of a chunk at a version.
type Snapshot struct {
	Key      ChunkKey
	Version  uint64
	Entities []EntityState
}

// DeltaType discriminates incremental chunk changes.
type DeltaType string

const (
	DeltaEntityAdd    DeltaType = "entity_add"
	DeltaEntityRemove DeltaType = "entity_remove"
	DeltaEntityUpdate DeltaType = "entity_update"
)

// Delta is an incremental chunk change, carrying the chunk version after the
// mutation that produced it.
type Delta struct {
	Key      ChunkKey
	Version  uint64
	Type     DeltaType
	EntityID string
	// Contracts carries the entity's records for entity_add and
	// entity_update deltas; it is nil for entity_remove.
	Contracts []contract.Contract
}

// Despawn notifies subscribers that an entity was destroyed.
type Despawn struct {
	Key      ChunkKey
	Version  uint64
	EntityID string
}

// Chunk is a fixed spatial cell within a layer: the unit of membership
// indexing, subscription and broadcast.
type Chunk struct {
	key ChunkKey

	entities    map[string]struct{}
	loaded      bool
	generated   bool
	grid        *OccupancyGrid
	subscribers map[string]Subscriber

	version                    uint64
	lastAccessed, lastModified time.Time
}

func newChunk(key ChunkKey, now time.Time) *Chunk {
	return &Chunk{
		key:          key,
		entities:     make(map[string]struct{}),
		subscribers:  make(map[string]Subscriber),
		version:      1,
		lastAccessed: now,
		lastModified: now,
	}
}

// Key returns the chunk's key.
func (c *Chunk) Key() ChunkKey { return c.key }

// Version returns the chunk's version counter. It starts at 1 and strictly
// increases on every membership or member-component change.
func (c *Chunk) Version() uint64 { return c.version }

// Loaded reports whether the chunk is currently loaded.
func (c *Chunk) Loaded() bool { return c.loaded }

// LastAccessed returns the time the chunk was last touched.
func (c *Chunk) LastAccessed() time.Time { return c.lastAccessed }

// LastModified returns the time of the chunk's last state change.
func (c *Chunk) LastModified() time.Time { return c.lastModified }

// Entities returns the ids of the chunk's member entities.
func (c *Chunk) Entities() []string {
	out := make([]string, 0, len(c.entities))
	for id := range c.entities {
		out = append(out, id)
	}
	return out
}

// Contains reports whether the entity is a member of the chunk.
func (c *Chunk) Contains(id string) bool {
	_, ok := c.entities[id]
	return ok
}

// EntityCount returns the number of member entities.
func (c *Chunk) EntityCount() int { return len(c.entities) }

// SubscriberCount returns the number of subscribed sessions.
func (c *Chunk) SubscriberCount() int { return len(c.subscribers) }

// Grid returns the chunk's static occupancy grid, or nil if it has none.
func (c *Chunk) Grid() *OccupancyGrid { return c.grid }

// EnsureGrid returns the chunk's occupancy grid, creating it with the
// resolution passed if absent.
func (c *Chunk) EnsureGrid(res int) *OccupancyGrid {
	if c.grid == nil {
		c.grid = NewOccupancyGrid(res)
	}
	return c.grid
}

// markModified bumps the version and modification timestamp. Every
// membership or member-component mutation goes through here.
func (c *Chunk) markModified(now time.Time) {
	c.version++
	c.lastModified = now
	c.lastAccessed = now
}

// GridCollides reports whether the box passed overlaps any solid voxel of
// the chunk's occupancy grid. The chunk size of the owning layer is required
// to place the grid in world space.
func (c *Chunk) GridCollides(box cube.BBox, chunkSize float64) bool {
	if c.grid == nil || c.grid.Empty() {
		return false
	}
	res := c.grid.Resolution()
	origin := ChunkToWorld(c.key.Pos, chunkSize)
	vx := chunkSize / float64(res)
	vy := float64(ChunkHeight) / float64(res)
	vz := chunkSize / float64(res)

	min, max := box.Min(), box.Max()
	x0, x1 := voxelRange(min[0]-origin[0], max[0]-origin[0], vx, res)
	y0, y1 := voxelRange(min[1]-origin[1], max[1]-origin[1], vy, res)
	z0, z1 := voxelRange(min[2]-origin[2], max[2]-origin[2], vz, res)
	if x0 > x1 || y0 > y1 || z0 > z1 {
		return false
	}
	for x := x0; x <= x1; x++ {
		for y := y0; y <= y1; y++ {
			for z := z0; z <= z1; z++ {
				if c.grid.Solid(x, y, z) {
					return true
				}
			}
		}
	}
	return false
}

// voxelRange converts a chunk-local interval to an inclusive voxel index
// range, clipped to the grid. An empty intersection yields an inverted
// range.
func voxelRange(lo, hi, voxelSize float64, res int) (int, int) {
	a := int(lo / voxelSize)
	if lo < 0 {
		a = -1
	}
	b := int((hi - chunkEpsilon) / voxelSize)
	if hi <= 0 {
		b = -1
	}
	if a < 0 {
		a = 0
	}
	if b >= res {
		b = res - 1
	}
	return a, b
}
