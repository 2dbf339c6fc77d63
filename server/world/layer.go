package world

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/strata-world/strata/server/cube"
)

// DefaultLayer is the id of the layer seeded at construction. It always
// exists and cannot be deleted.
const DefaultLayer = "default"

var (
	// ErrUnknownLayer is returned for operations on a layer id that does not
	// exist.
	ErrUnknownLayer = errors.New("world: unknown layer")
	// ErrLayerExists is returned by Create when the layer id is taken.
	ErrLayerExists = errors.New("world: layer already exists")
	// ErrDefaultLayer is returned when attempting to remove the default
	// layer.
	ErrDefaultLayer = errors.New("world: default layer cannot be removed")
)

// Layer is an independent coordinate space with its own chunk size, gravity
// and spawn point.
type Layer struct {
	ID        string
	Name      string
	ChunkSize float64
	Gravity   float64
	Spawn     mgl64.Vec3
	// Bounds optionally restricts the layer to a bounding box. A nil Bounds
	// means the layer is unbounded.
	Bounds     *cube.BBox
	Properties map[string]any
}

// Layers is the registry of named layers. It also keeps the side index
// recording which layer each entity belongs to; the entity itself does not
// carry its layer.
type Layers struct {
	log         *slog.Logger
	layers      map[string]*Layer
	entityLayer map[string]string
}

// NewLayers creates a registry seeded with the default layer: chunk size 32,
// gravity -9.81, spawn at (0, 10, 0).
func NewLayers(log *slog.Logger) *Layers {
	if log == nil {
		log = slog.Default()
	}
	r := &Layers{
		log:         log,
		layers:      make(map[string]*Layer),
		entityLayer: make(map[string]string),
	}
	r.layers[DefaultLayer] = &Layer{
		ID:        DefaultLayer,
		Name:      "Default",
		ChunkSize: 32,
		Gravity:   -9.81,
		Spawn:     mgl64.Vec3{0, 10, 0},
	}
	return r
}

// Create registers a new layer. The chunk size must be positive and the id
// must be unused.
func (r *Layers) Create(l Layer) error {
	if l.ID == "" {
		return fmt.Errorf("world: layer id must not be empty")
	}
	if l.ChunkSize <= 0 {
		return fmt.Errorf("world: layer %q: chunk size must be positive", l.ID)
	}
	if _, ok := r.layers[l.ID]; ok {
		return ErrLayerExists
	}
	cp := l
	r.layers[l.ID] = &cp
	r.log.Debug("layer created", "layer", l.ID, "chunkSize", l.ChunkSize)
	return nil
}

// Get returns the layer with the id passed.
func (r *Layers) Get(id string) (*Layer, bool) {
	l, ok := r.layers[id]
	return l, ok
}

// Default returns the default layer.
func (r *Layers) Default() *Layer {
	return r.layers[DefaultLayer]
}

// All returns all registered layers in unspecified order.
func (r *Layers) All() []*Layer {
	out := make([]*Layer, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l)
	}
	return out
}

// Remove deletes a layer. The default layer cannot be removed.
func (r *Layers) Remove(id string) error {
	if id == DefaultLayer {
		return ErrDefaultLayer
	}
	if _, ok := r.layers[id]; !ok {
		return ErrUnknownLayer
	}
	delete(r.layers, id)
	for entity, layer := range r.entityLayer {
		if layer == id {
			delete(r.entityLayer, entity)
		}
	}
	return nil
}

// SetEntityLayer records the layer an entity belongs to in the side index.
func (r *Layers) SetEntityLayer(entity, layer string) {
	r.entityLayer[entity] = layer
}

// EntityLayer returns the layer recorded for an entity. Entities without a
// record fall back to the default layer.
func (r *Layers) EntityLayer(entity string) string {
	if l, ok := r.entityLayer[entity]; ok {
		return l
	}
	return DefaultLayer
}

// ClearEntity drops the layer record for an entity.
func (r *Layers) ClearEntity(entity string) {
	delete(r.entityLayer, entity)
}

// EntitiesIn returns the ids of all entities recorded in the layer passed.
func (r *Layers) EntitiesIn(layer string) []string {
	var out []string
	for entity, l := range r.entityLayer {
		if l == layer {
			out = append(out, entity)
		}
	}
	return out
}

// EntityRecords returns a copy of the full entity to layer index, used when
// capturing snapshots.
func (r *Layers) EntityRecords() map[string]string {
	out := make(map[string]string, len(r.entityLayer))
	for k, v := range r.entityLayer {
		out[k] = v
	}
	return out
}
