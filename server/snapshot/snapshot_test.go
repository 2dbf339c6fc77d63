package snapshot

import (
	"testing"

	"github.com/strata-world/strata/server/archetype"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/world"
)

type fixture struct {
	store  *entity.Store
	layers *world.Layers
	cat    *archetype.Catalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := entity.NewStore(entity.StoreConfig{})
	layers := world.NewLayers(nil)
	cat := archetype.NewCatalog(archetype.Config{Store: store, Layers: layers})
	return &fixture{store: store, layers: layers, cat: cat}
}

func populate(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.layers.Create(world.Layer{ID: "cave", Name: "Cave", ChunkSize: 16, Gravity: -4}); err != nil {
		t.Fatalf("layer: %v", err)
	}
	err := f.cat.Define(archetype.Archetype{
		ID: "crate",
		Contracts: []contract.Contract{
			contract.Identity{ID: "t", Name: "crate"},
			contract.Solidity{Solid: true},
		},
	})
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := f.store.Create("rock",
		contract.Identity{ID: "rock"},
		contract.Mobility{Position: contract.Vec3{X: 3, Y: 1, Z: 3}},
		contract.Durability{Health: 7, MaxHealth: 10},
	); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.layers.SetEntityLayer("rock", "cave")
	if _, err := f.cat.SpawnPlayer("", contract.Vec3{}, "alice"); err != nil {
		t.Fatalf("spawn player: %v", err)
	}
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	src := newFixture(t)
	populate(t, src)

	doc, err := Capture(src.store, src.layers, src.cat)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if doc.Version != DocumentVersion {
		t.Fatalf("unexpected version %d", doc.Version)
	}
	if doc.Metadata.PlayerCounter != 1 {
		t.Fatalf("player counter not captured: %+v", doc.Metadata)
	}

	dst := newFixture(t)
	if err := Restore(doc, dst.store, dst.layers, dst.cat); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if dst.store.Count() != src.store.Count() {
		t.Fatalf("entity count %d != %d", dst.store.Count(), src.store.Count())
	}
	if !dst.store.Has("rock") {
		t.Fatal("entity ids must be preserved")
	}
	d, _ := entity.Fetch[contract.Durability](dst.store, "rock")
	if d.Health != 7 || d.MaxHealth != 10 {
		t.Fatalf("contract state lost: %+v", d)
	}
	if dst.layers.EntityLayer("rock") != "cave" {
		t.Fatal("entity layer lost")
	}
	cave, ok := dst.layers.Get("cave")
	if !ok || cave.ChunkSize != 16 || cave.Gravity != -4 {
		t.Fatalf("layer lost: %+v", cave)
	}
	if _, ok := dst.cat.Get("crate"); !ok {
		t.Fatal("archetype lost")
	}
	if dst.cat.PlayerCounter() != 1 {
		t.Fatalf("player counter not restored: %d", dst.cat.PlayerCounter())
	}
}

func TestRestoreReplacesExistingState(t *testing.T) {
	src := newFixture(t)
	populate(t, src)
	doc, err := Capture(src.store, src.layers, src.cat)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	dst := newFixture(t)
	if err := dst.store.Create("stale", contract.Identity{ID: "stale"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := dst.layers.Create(world.Layer{ID: "old", ChunkSize: 8, Gravity: -1}); err != nil {
		t.Fatalf("layer: %v", err)
	}
	if err := Restore(doc, dst.store, dst.layers, dst.cat); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if dst.store.Has("stale") {
		t.Fatal("restore must remove pre-existing entities")
	}
	if _, ok := dst.layers.Get("old"); ok {
		t.Fatal("restore must remove pre-existing layers")
	}
	if _, ok := dst.layers.Get(world.DefaultLayer); !ok {
		t.Fatal("default layer must survive")
	}
}

func TestRestoreRejectsUnknownVersion(t *testing.T) {
	dst := newFixture(t)
	if err := Restore(Document{Version: 99}, dst.store, dst.layers, dst.cat); err == nil {
		t.Fatal("unknown version must be rejected")
	}
}

func TestStorePersistence(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	src := newFixture(t)
	populate(t, src)
	doc, err := Capture(src.store, src.layers, src.cat)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := s.Save("world-1", doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen and load via the latest pointer.
	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Entities) != len(doc.Entities) {
		t.Fatalf("entities lost: %d != %d", len(got.Entities), len(doc.Entities))
	}
	names, err := s.List()
	if err != nil || len(names) != 1 || names[0] != "world-1" {
		t.Fatalf("unexpected list %v (%v)", names, err)
	}
	if _, err := s.Load("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
