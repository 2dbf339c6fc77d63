// Package snapshot captures and restores the full simulation state as a
// versioned JSON document persisted in leveldb.
package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/strata-world/strata/server/archetype"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/cube"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/world"
)

// DocumentVersion is the current snapshot document format version.
const DocumentVersion = 1

// LayerRecord is the persisted form of a layer.
type LayerRecord struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	ChunkSize  float64        `json:"chunkSize"`
	Gravity    float64        `json:"gravity"`
	Spawn      contract.Vec3  `json:"spawn"`
	BoundsMin  *contract.Vec3 `json:"boundsMin,omitempty"`
	BoundsMax  *contract.Vec3 `json:"boundsMax,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ArchetypeRecord is the persisted form of an archetype.
type ArchetypeRecord struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Contracts []json.RawMessage `json:"contracts"`
}

// EntityRecord is the persisted form of an entity.
type EntityRecord struct {
	ID        string            `json:"id"`
	LayerID   string            `json:"layerId"`
	Contracts []json.RawMessage `json:"contracts"`
}

// Metadata carries counters that survive save/load.
type Metadata struct {
	PlayerCounter int `json:"playerCounter"`
}

// Document is the versioned snapshot of the whole simulation.
type Document struct {
	Version    int               `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	Layers     []LayerRecord     `json:"layers"`
	Archetypes []ArchetypeRecord `json:"archetypes"`
	Entities   []EntityRecord    `json:"entities"`
	Metadata   Metadata          `json:"metadata"`
}

// Capture builds a Document from the current state. It must run on the game
// executor.
func Capture(store *entity.Store, layers *world.Layers, cat *archetype.Catalog) (Document, error) {
	doc := Document{
		Version:   DocumentVersion,
		Timestamp: time.Now().UTC(),
		Metadata:  Metadata{PlayerCounter: cat.PlayerCounter()},
	}

	for _, l := range layers.All() {
		rec := LayerRecord{
			ID:         l.ID,
			Name:       l.Name,
			ChunkSize:  l.ChunkSize,
			Gravity:    l.Gravity,
			Spawn:      contract.Vec3From(l.Spawn),
			Properties: l.Properties,
		}
		if l.Bounds != nil {
			lo, hi := contract.Vec3From(l.Bounds.Min()), contract.Vec3From(l.Bounds.Max())
			rec.BoundsMin, rec.BoundsMax = &lo, &hi
		}
		doc.Layers = append(doc.Layers, rec)
	}

	for _, a := range cat.List() {
		raws, err := contract.MarshalAll(a.Contracts)
		if err != nil {
			return Document{}, fmt.Errorf("snapshot: archetype %q: %w", a.ID, err)
		}
		doc.Archetypes = append(doc.Archetypes, ArchetypeRecord{
			ID: a.ID, Name: a.Name, Tags: a.Tags, Contracts: raws,
		})
	}

	for _, id := range store.IDs() {
		raws, err := contract.MarshalAll(store.Contracts(id))
		if err != nil {
			return Document{}, fmt.Errorf("snapshot: entity %q: %w", id, err)
		}
		doc.Entities = append(doc.Entities, EntityRecord{
			ID:        id,
			LayerID:   layers.EntityLayer(id),
			Contracts: raws,
		})
	}
	return doc, nil
}

// Restore replaces the current state with the document's. Existing entities
// and non-default layers are removed first. It must run on the game
// executor.
func Restore(doc Document, store *entity.Store, layers *world.Layers, cat *archetype.Catalog) error {
	if doc.Version != DocumentVersion {
		return fmt.Errorf("snapshot: unsupported document version %d", doc.Version)
	}

	for _, id := range store.IDs() {
		store.Remove(id)
	}
	for _, l := range layers.All() {
		if l.ID != world.DefaultLayer {
			layers.Remove(l.ID)
		}
	}

	for _, rec := range doc.Layers {
		l := world.Layer{
			ID:         rec.ID,
			Name:       rec.Name,
			ChunkSize:  rec.ChunkSize,
			Gravity:    rec.Gravity,
			Spawn:      rec.Spawn.Mgl(),
			Properties: rec.Properties,
		}
		if rec.BoundsMin != nil && rec.BoundsMax != nil {
			lo, hi := rec.BoundsMin, rec.BoundsMax
			b := cubeBox(*lo, *hi)
			l.Bounds = &b
		}
		if rec.ID == world.DefaultLayer {
			// The default layer cannot be recreated; update it in place.
			if cur, ok := layers.Get(world.DefaultLayer); ok {
				*cur = l
			}
			continue
		}
		if err := layers.Create(l); err != nil {
			return fmt.Errorf("snapshot: layer %q: %w", rec.ID, err)
		}
	}

	for _, rec := range doc.Archetypes {
		comps, err := decodeContracts(rec.Contracts)
		if err != nil {
			return fmt.Errorf("snapshot: archetype %q: %w", rec.ID, err)
		}
		if err := cat.Define(archetype.Archetype{
			ID: rec.ID, Name: rec.Name, Tags: rec.Tags, Contracts: comps,
		}); err != nil {
			return fmt.Errorf("snapshot: archetype %q: %w", rec.ID, err)
		}
	}

	for _, rec := range doc.Entities {
		comps, err := decodeContracts(rec.Contracts)
		if err != nil {
			return fmt.Errorf("snapshot: entity %q: %w", rec.ID, err)
		}
		// Layer first, so chunk membership lands in the right layer when
		// creation hooks fire.
		if rec.LayerID != "" {
			layers.SetEntityLayer(rec.ID, rec.LayerID)
		}
		if err := store.Create(rec.ID, comps...); err != nil {
			return fmt.Errorf("snapshot: entity %q: %w", rec.ID, err)
		}
	}

	cat.SetPlayerCounter(doc.Metadata.PlayerCounter)
	return nil
}

func cubeBox(lo, hi contract.Vec3) cube.BBox {
	return cube.Box(lo.X, lo.Y, lo.Z, hi.X, hi.Y, hi.Z)
}

func decodeContracts(raws []json.RawMessage) ([]contract.Contract, error) {
	out := make([]contract.Contract, 0, len(raws))
	for _, raw := range raws {
		c, err := contract.Unmarshal(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
