package world

import (
	"errors"
	"testing"
)

func TestLayersSeedDefault(t *testing.T) {
	r := NewLayers(nil)
	l, ok := r.Get(DefaultLayer)
	if !ok {
		t.Fatal("default layer must exist")
	}
	if l.ChunkSize != 32 || l.Gravity != -9.81 || l.Spawn[1] != 10 {
		t.Fatalf("unexpected default layer %+v", l)
	}
}

func TestLayersCreateAndRemove(t *testing.T) {
	r := NewLayers(nil)
	if err := r.Create(Layer{ID: "nether", Name: "Nether", ChunkSize: 16, Gravity: -9.81}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Create(Layer{ID: "nether", ChunkSize: 16}); !errors.Is(err, ErrLayerExists) {
		t.Fatalf("expected ErrLayerExists, got %v", err)
	}
	if err := r.Create(Layer{ID: "flat", ChunkSize: 0}); err == nil {
		t.Fatal("expected error for non-positive chunk size")
	}
	if err := r.Remove(DefaultLayer); !errors.Is(err, ErrDefaultLayer) {
		t.Fatalf("expected ErrDefaultLayer, got %v", err)
	}
	if err := r.Remove("nether"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := r.Remove("nether"); !errors.Is(err, ErrUnknownLayer) {
		t.Fatalf("expected ErrUnknownLayer, got %v", err)
	}
}

func TestEntityLayerIndex(t *testing.T) {
	r := NewLayers(nil)
	_ = r.Create(Layer{ID: "nether", ChunkSize: 16})
	r.SetEntityLayer("e1", "nether")
	r.SetEntityLayer("e2", "nether")
	r.SetEntityLayer("e3", DefaultLayer)

	if got := r.EntityLayer("e1"); got != "nether" {
		t.Fatalf("EntityLayer(e1) = %q", got)
	}
	if got := r.EntityLayer("unknown"); got != DefaultLayer {
		t.Fatalf("unknown entities must fall back to default, got %q", got)
	}
	if got := len(r.EntitiesIn("nether")); got != 2 {
		t.Fatalf("EntitiesIn(nether) = %d", got)
	}
	r.ClearEntity("e1")
	if got := len(r.EntitiesIn("nether")); got != 1 {
		t.Fatalf("after clear, EntitiesIn(nether) = %d", got)
	}
	// Removing a layer drops its entity records.
	_ = r.Remove("nether")
	if got := len(r.EntitiesIn("nether")); got != 0 {
		t.Fatalf("after layer removal, EntitiesIn(nether) = %d", got)
	}
}
