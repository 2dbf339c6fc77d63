package world

import (
	"testing"
	"time"

	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/cube"
)

// stubSource serves fixed contracts for any entity id.
type stubSource struct {
	contracts map[string][]contract.Contract
}

func (s *stubSource) Contracts(id string) []contract.Contract {
	return s.contracts[id]
}

// recordingSubscriber collects everything sent to it.
type recordingSubscriber struct {
	id        string
	live      bool
	snapshots []Snapshot
	deltas    []Delta
	despawns  []Despawn
}

func (r *recordingSubscriber) SessionID() string        { return r.id }
func (r *recordingSubscriber) Live() bool               { return r.live }
func (r *recordingSubscriber) SendSnapshot(s Snapshot)  { r.snapshots = append(r.snapshots, s) }
func (r *recordingSubscriber) SendDelta(d Delta)        { r.deltas = append(r.deltas, d) }
func (r *recordingSubscriber) SendDespawn(d Despawn)    { r.despawns = append(r.despawns, d) }

func newTestManager(t *testing.T) (*Manager, *stubSource) {
	t.Helper()
	src := &stubSource{contracts: make(map[string][]contract.Contract)}
	m := NewManager(ManagerConfig{Source: src, Layers: NewLayers(nil)})
	return m, src
}

func TestVersionStrictlyIncreases(t *testing.T) {
	m, _ := newTestManager(t)
	key := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{0, 0, 0}}
	sub := &recordingSubscriber{id: "s1", live: true}
	m.Subscribe(sub, key)

	m.AddEntity("e1", key)
	m.TouchEntity("e1")
	m.RemoveEntity("e1", key)

	last := sub.snapshots[0].Version
	for _, d := range sub.deltas {
		if d.Version <= last {
			t.Fatalf("version sequence not strictly increasing: %d after %d", d.Version, last)
		}
		last = d.Version
	}
	if len(sub.deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d", len(sub.deltas))
	}
}

func TestSubscribeSendsSnapshot(t *testing.T) {
	m, src := newTestManager(t)
	key := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{1, 0, 1}}
	src.contracts["e1"] = []contract.Contract{contract.Identity{ID: "e1"}}
	m.AddEntity("e1", key)

	sub := &recordingSubscriber{id: "s1", live: true}
	m.Subscribe(sub, key)
	if len(sub.snapshots) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(sub.snapshots))
	}
	snap := sub.snapshots[0]
	if snap.Key != key || len(snap.Entities) != 1 || snap.Entities[0].ID != "e1" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Entities[0].Contracts) != 1 {
		t.Fatalf("snapshot must carry entity contracts")
	}
}

func TestMoveEntityBroadcastsBothChunks(t *testing.T) {
	m, _ := newTestManager(t)
	from := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{0, 0, 0}}
	to := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{1, 0, 0}}
	subFrom := &recordingSubscriber{id: "a", live: true}
	subTo := &recordingSubscriber{id: "b", live: true}
	m.Subscribe(subFrom, from)
	m.Subscribe(subTo, to)

	m.AddEntity("e1", from)
	m.MoveEntity("e1", from, to)

	var removes, adds int
	for _, d := range subFrom.deltas {
		if d.Type == DeltaEntityRemove && d.EntityID == "e1" {
			removes++
		}
	}
	for _, d := range subTo.deltas {
		if d.Type == DeltaEntityAdd && d.EntityID == "e1" {
			adds++
		}
	}
	if removes != 1 || adds != 1 {
		t.Fatalf("expected 1 remove + 1 add, got %d/%d", removes, adds)
	}
	if key, ok := m.EntityChunk("e1"); !ok || key != to {
		t.Fatalf("entity chunk index not updated: %v %v", key, ok)
	}
	if m.chunks[from].Contains("e1") {
		t.Fatal("entity still member of source chunk")
	}
}

func TestDeadSubscribersSkippedAndPruned(t *testing.T) {
	m, _ := newTestManager(t)
	key := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{0, 0, 0}}
	dead := &recordingSubscriber{id: "dead", live: false}
	c := m.GetOrCreate(key)
	c.subscribers[dead.id] = dead

	m.AddEntity("e1", key)
	if len(dead.deltas) != 0 {
		t.Fatal("dead subscriber must not receive deltas")
	}
	m.Sweep(time.Now())
	if c.SubscriberCount() != 0 {
		t.Fatal("dead subscriber must be pruned by the sweep")
	}
}

func TestSweepUnloadsStalest(t *testing.T) {
	now := time.Now()
	clock := now
	src := &stubSource{contracts: map[string][]contract.Contract{}}
	m := NewManager(ManagerConfig{
		Source: src, Layers: NewLayers(nil),
		MaxLoaded: 2,
		Clock:     func() time.Time { return clock },
	})
	for i := 0; i < 5; i++ {
		clock = now.Add(time.Duration(i) * time.Second)
		m.Load(ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{i, 0, 0}})
	}
	if m.LoadedCount() != 5 {
		t.Fatalf("expected 5 loaded, got %d", m.LoadedCount())
	}
	m.Sweep(clock)
	// Batch size exceeds the loaded count, so everything is unloaded.
	if m.LoadedCount() != 0 {
		t.Fatalf("expected all chunks unloaded, got %d", m.LoadedCount())
	}
	// Metadata survives unloading.
	if m.RetainedCount() != 5 {
		t.Fatalf("expected 5 retained, got %d", m.RetainedCount())
	}
}

func TestSweepDropsIdleMetadata(t *testing.T) {
	now := time.Now()
	clock := now
	src := &stubSource{contracts: map[string][]contract.Contract{}}
	m := NewManager(ManagerConfig{
		Source: src, Layers: NewLayers(nil),
		MaxRetained: 1,
		UnloadDelay: time.Minute,
		Clock:       func() time.Time { return clock },
	})
	idle := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{0, 0, 0}}
	occupied := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{1, 0, 0}}
	m.GetOrCreate(idle)
	m.GetOrCreate(occupied)
	m.AddEntity("e1", occupied)

	clock = now.Add(3 * time.Minute)
	m.Sweep(clock)
	if _, ok := m.Get(idle); ok {
		t.Fatal("idle chunk metadata must be dropped")
	}
	if _, ok := m.Get(occupied); !ok {
		t.Fatal("occupied chunk metadata must be retained")
	}
}

func TestGridCollides(t *testing.T) {
	m, _ := newTestManager(t)
	key := ChunkKey{Layer: DefaultLayer, Pos: ChunkPos{0, 0, 0}}
	c := m.GetOrCreate(key)
	g := c.EnsureGrid(16)
	// Solid voxel at the center of the chunk: world x,z in [16,18), y in [128,144).
	g.SetSolid(8, 8, 8, true)

	hit := cube.Box(15, 127, 15, 17, 129, 17)
	if !c.GridCollides(hit, 32) {
		t.Fatal("expected collision with center voxel")
	}
	miss := cube.Box(0, 0, 0, 1, 1, 1)
	if c.GridCollides(miss, 32) {
		t.Fatal("expected no collision near origin")
	}
	outside := cube.Box(-10, 0, -10, -5, 5, -5)
	if c.GridCollides(outside, 32) {
		t.Fatal("boxes outside the chunk must not collide")
	}
}

func TestOccupancyGridBounds(t *testing.T) {
	g := NewOccupancyGrid(16)
	g.SetSolid(-1, 0, 0, true)
	g.SetSolid(16, 0, 0, true)
	if !g.Empty() {
		t.Fatal("out-of-range writes must be clipped")
	}
	if g.Solid(-1, 0, 0) || g.Solid(0, 16, 0) {
		t.Fatal("out-of-range reads must be false")
	}
	g.SetSolid(3, 4, 5, true)
	if !g.Solid(3, 4, 5) {
		t.Fatal("voxel not set")
	}
	g.SetSolid(3, 4, 5, false)
	if g.Solid(3, 4, 5) {
		t.Fatal("voxel not cleared")
	}
}
