package physics

import (
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/world"
)

type fixture struct {
	store  *entity.Store
	layers *world.Layers
	chunks *world.Manager
	sys    *System
}

// storeSource adapts the entity store to the world.EntitySource interface.
type storeSource struct{ store *entity.Store }

func (s storeSource) Contracts(id string) []contract.Contract { return s.store.Contracts(id) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := entity.NewStore(entity.StoreConfig{})
	layers := world.NewLayers(nil)
	chunks := world.NewManager(world.ManagerConfig{Source: storeSource{store}, Layers: layers})
	sys := NewSystem(Config{Store: store, Layers: layers, Chunks: chunks})
	return &fixture{store: store, layers: layers, chunks: chunks, sys: sys}
}

func (f *fixture) addMover(t *testing.T, id string, pos mgl64.Vec3, maxSpeed float64) {
	t.Helper()
	mob := contract.Mobility{Position: contract.Vec3From(pos)}
	if maxSpeed > 0 {
		mob.MaxSpeed = &maxSpeed
	}
	err := f.store.Create(id,
		contract.Identity{ID: id},
		mob,
		contract.Shape{Min: contract.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: contract.Vec3{X: 0.5, Y: 0.5, Z: 0.5}, Geometry: contract.GeometryBox},
	)
	if err != nil {
		t.Fatalf("create %v: %v", id, err)
	}
}

func (f *fixture) addObstacle(t *testing.T, id string, pos mgl64.Vec3, solid bool) {
	t.Helper()
	err := f.store.Create(id,
		contract.Identity{ID: id},
		contract.Mobility{Position: contract.Vec3From(pos)},
		contract.Shape{Min: contract.Vec3{X: -0.5, Y: -0.5, Z: -0.5}, Max: contract.Vec3{X: 0.5, Y: 0.5, Z: 0.5}, Geometry: contract.GeometryBox},
		contract.Solidity{Solid: solid},
	)
	if err != nil {
		t.Fatalf("create %v: %v", id, err)
	}
}

func TestAttemptMoveSpeedCap(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 5)

	res := f.sys.AttemptMove("m", mgl64.Vec3{5, 0, 0}, 0.1)
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if math.Abs(res.Position[0]-0.5) > 1e-9 || res.Position[1] != 0 || res.Position[2] != 0 {
		t.Fatalf("expected position (0.5,0,0), got %v", res.Position)
	}
}

func TestAttemptMoveBlockedBySolidEntity(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 10)
	f.addObstacle(t, "wall", mgl64.Vec3{2, 0, 0}, true)

	res := f.sys.AttemptMove("m", mgl64.Vec3{3, 0, 0}, 0.5)
	if res.OK {
		t.Fatalf("expected blocked, got %+v", res)
	}
	if res.Position[0] >= 2 {
		t.Fatalf("expected clamped position before the wall, got %v", res.Position)
	}
	if !strings.Contains(res.Reason, "entity") {
		t.Fatalf("expected reason to reference the blocking entity, got %q", res.Reason)
	}
	if !res.HasNormal || res.Normal[0] >= 0 {
		t.Fatalf("expected normal pointing back along x, got %v", res.Normal)
	}
	if res.Blocker != "wall" {
		t.Fatalf("expected blocker wall, got %q", res.Blocker)
	}
}

func TestAttemptMovePassesNonSolid(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 10)
	f.addObstacle(t, "ghost", mgl64.Vec3{2, 0, 0}, false)

	res := f.sys.AttemptMove("m", mgl64.Vec3{3, 0, 0}, 1.0)
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if res.Position[0] <= 2 {
		t.Fatalf("expected to pass through, got %v", res.Position)
	}
}

func TestAttemptMoveMissingComponents(t *testing.T) {
	f := newFixture(t)
	_ = f.store.Create("noShape", contract.Mobility{Position: contract.Vec3{X: 1}})
	_ = f.store.Create("noMobility", contract.Shape{Min: contract.Vec3{X: -1}, Max: contract.Vec3{X: 1}})

	res := f.sys.AttemptMove("noMobility", mgl64.Vec3{1, 0, 0}, 1)
	if res.OK || !strings.Contains(res.Reason, "mobility") {
		t.Fatalf("expected mobility rejection, got %+v", res)
	}
	res = f.sys.AttemptMove("noShape", mgl64.Vec3{1, 0, 0}, 1)
	if res.OK || !strings.Contains(res.Reason, "shape") {
		t.Fatalf("expected shape rejection, got %+v", res)
	}
	if res.Position[0] != 1 {
		t.Fatalf("rejection must return the current position, got %v", res.Position)
	}
}

// After any attempt_move the returned position must stay within
// maxSpeed * dt of the start.
func TestAttemptMoveDistanceBound(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 3)
	for _, want := range []mgl64.Vec3{{100, 0, 0}, {-50, 20, 7}, {0, 0, 0.001}} {
		res := f.sys.AttemptMove("m", want, 0.25)
		if d := res.Position.Len(); d > 3*0.25+1e-9 {
			t.Fatalf("position %v exceeds speed bound (%v)", res.Position, d)
		}
	}
}

func TestAttemptMoveDefaultMaxSpeed(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 0) // no maxSpeed on mobility
	res := f.sys.AttemptMove("m", mgl64.Vec3{100, 0, 0}, 1)
	if !res.OK || math.Abs(res.Position[0]-5) > 1e-9 {
		t.Fatalf("expected default cap of 5, got %v", res.Position)
	}
}

func TestDynamicBeatsStaticOnTie(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 10)
	f.addObstacle(t, "wall", mgl64.Vec3{2, 0, 0}, true)
	// Fill the destination chunk's grid so the static test also reports a
	// hit; the reported blocker must still be the entity.
	key := world.ChunkKey{Layer: world.DefaultLayer, Pos: world.ChunkPos{0, 0, 0}}
	c := f.chunks.GetOrCreate(key)
	g := c.EnsureGrid(16)
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			for z := 0; z < 16; z++ {
				g.SetSolid(x, y, z, true)
			}
		}
	}
	res := f.sys.AttemptMove("m", mgl64.Vec3{3, 0, 0}, 0.5)
	if res.OK {
		t.Fatalf("expected blocked, got %+v", res)
	}
	if !strings.Contains(res.Reason, "entity") {
		t.Fatalf("dynamic blocker must win the tie, got %q", res.Reason)
	}
}

func TestStaticGridBlocks(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{1, 136, 1}, 10)
	key := world.ChunkKey{Layer: world.DefaultLayer, Pos: world.ChunkPos{0, 0, 0}}
	c := f.chunks.GetOrCreate(key)
	// Center voxel of the chunk: x,z in [16,18), y in [128,144).
	c.EnsureGrid(16).SetSolid(8, 8, 8, true)

	res := f.sys.AttemptMove("m", mgl64.Vec3{17, 136, 17}, 10)
	if res.OK {
		t.Fatalf("expected terrain block, got %+v", res)
	}
	if !strings.Contains(res.Reason, "terrain") {
		t.Fatalf("expected terrain reason, got %q", res.Reason)
	}
	if !res.HasNormal || res.Normal[1] != 1 {
		t.Fatalf("static hits report an upward normal, got %v", res.Normal)
	}
}

func TestTeleportRefusesCollision(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 5)
	f.addObstacle(t, "wall", mgl64.Vec3{10, 0, 0}, true)

	if f.sys.Teleport("m", mgl64.Vec3{10, 0, 0}) {
		t.Fatal("teleport into a solid entity must be refused")
	}
	if !f.sys.Teleport("m", mgl64.Vec3{20, 0, 0}) {
		t.Fatal("teleport into free space must succeed")
	}
	mob, _ := entity.Fetch[contract.Mobility](f.store, "m")
	if mob.Position.X != 20 {
		t.Fatalf("position not applied: %+v", mob.Position)
	}
	if mob.Velocity == nil || mob.Velocity.Mgl() != (mgl64.Vec3{}) {
		t.Fatalf("teleport must zero velocity, got %+v", mob.Velocity)
	}
}

func TestIntegratorAppliesGravity(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{0, 100, 0}, 5)

	f.sys.Update(0.1)
	mob, _ := entity.Fetch[contract.Mobility](f.store, "m")
	if mob.Velocity == nil || mob.Velocity.Y >= 0 {
		t.Fatalf("expected downward velocity, got %+v", mob.Velocity)
	}
	if mob.Position.Y >= 100 {
		t.Fatalf("expected the entity to fall, got %+v", mob.Position)
	}
}

func TestIntegratorTerminalVelocity(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{0, 10000, 0}, 5)
	for i := 0; i < 200; i++ {
		f.sys.Update(0.1)
	}
	mob, _ := entity.Fetch[contract.Mobility](f.store, "m")
	if mob.Velocity.Y < -53-1e-9 {
		t.Fatalf("velocity exceeded terminal: %v", mob.Velocity.Y)
	}
}

func TestIntegratorGroundContact(t *testing.T) {
	f := newFixture(t)
	// Floor directly beneath the mover.
	f.addObstacle(t, "floor", mgl64.Vec3{0, -1, 0}, true)
	f.addMover(t, "m", mgl64.Vec3{0, 0.05, 0}, 5)

	f.sys.Update(0.1)
	mob, _ := entity.Fetch[contract.Mobility](f.store, "m")
	if mob.Velocity != nil && mob.Velocity.Y < 0 {
		t.Fatalf("grounded entity must not accumulate downward velocity, got %+v", mob.Velocity)
	}
}

func TestSetVelocityAndImpulse(t *testing.T) {
	f := newFixture(t)
	f.addMover(t, "m", mgl64.Vec3{}, 5)
	if !f.sys.SetVelocity("m", mgl64.Vec3{1, 2, 3}) {
		t.Fatal("set velocity failed")
	}
	if !f.sys.ApplyImpulse("m", mgl64.Vec3{1, 0, 0}) {
		t.Fatal("impulse failed")
	}
	mob, _ := entity.Fetch[contract.Mobility](f.store, "m")
	if mob.Velocity.Mgl() != (mgl64.Vec3{2, 2, 3}) {
		t.Fatalf("unexpected velocity %+v", mob.Velocity)
	}
}
