// Package archetype holds entity templates and spawns entities from them.
package archetype

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/protocol"
	"github.com/strata-world/strata/server/world"
)

// PlayerArchetype is the reserved template id handled by the player factory.
const PlayerArchetype = "player"

// Archetype is a named template of contracts cloned at spawn time.
type Archetype struct {
	ID        string              `json:"id"`
	Name      string              `json:"name,omitempty"`
	Tags      []string            `json:"tags,omitempty"`
	Contracts []contract.Contract `json:"-"`
}

// Overrides carries per-kind field overrides applied during a spawn. Keys of
// the inner map are JSON field names; values shallow-merge into the cloned
// contract of that kind.
type Overrides map[contract.Kind]map[string]any

// Config configures a Catalog.
type Config struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Store is the entity store entities are created in. Required.
	Store *entity.Store
	// Layers records the layer of every spawned entity. Required.
	Layers *world.Layers
	// Clock returns the current time, replaceable in tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// Catalog stores archetypes and spawns entities from them.
type Catalog struct {
	conf       Config
	archetypes map[string]Archetype

	// playerCounter numbers spawned players for default names. It survives
	// save/load so restored worlds keep numbering where they left off.
	playerCounter int
}

// NewCatalog creates an empty Catalog.
func NewCatalog(conf Config) *Catalog {
	if conf.Store == nil {
		panic("archetype: catalog requires a store")
	}
	if conf.Layers == nil {
		panic("archetype: catalog requires a layer registry")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	return &Catalog{conf: conf, archetypes: make(map[string]Archetype)}
}

// Define stores an archetype, overwriting any previous definition under the
// same id. Every template contract must pass validation.
func (c *Catalog) Define(a Archetype) error {
	if a.ID == "" {
		return fmt.Errorf("archetype id must not be empty")
	}
	for _, comp := range a.Contracts {
		if err := contract.Validate(comp); err != nil {
			return fmt.Errorf("archetype %q: %w", a.ID, err)
		}
	}
	c.archetypes[a.ID] = a
	return nil
}

// Get returns the archetype stored under id.
func (c *Catalog) Get(id string) (Archetype, bool) {
	a, ok := c.archetypes[id]
	return a, ok
}

// List returns all defined archetypes.
func (c *Catalog) List() []Archetype {
	out := make([]Archetype, 0, len(c.archetypes))
	for _, a := range c.archetypes {
		out = append(out, a)
	}
	return out
}

// Spawn clones the archetype into a fresh entity at pos in the layer passed.
// The clone's identity id and mobility position are overwritten; overrides
// shallow-merge per kind. Unknown override kinds are dropped. The reserved
// "player" archetype delegates to the player factory.
func (c *Catalog) Spawn(archetypeID, layerID string, pos contract.Vec3, overrides Overrides) (string, error) {
	if layerID == "" {
		layerID = world.DefaultLayer
	}
	if _, ok := c.conf.Layers.Get(layerID); !ok {
		return "", world.ErrUnknownLayer
	}
	if archetypeID == PlayerArchetype {
		return c.SpawnPlayer(layerID, pos, "")
	}
	a, ok := c.archetypes[archetypeID]
	if !ok {
		return "", fmt.Errorf("unknown archetype %q", archetypeID)
	}

	id := c.freshID(archetypeID)
	comps := make([]contract.Contract, 0, len(a.Contracts))
	for _, tmpl := range a.Contracts {
		clone, err := c.clone(tmpl, id, pos, overrides[tmpl.ContractKind()])
		if err != nil {
			return "", fmt.Errorf("spawn %q: %w", archetypeID, err)
		}
		comps = append(comps, clone)
	}
	if err := c.conf.Store.Create(id, comps...); err != nil {
		return "", err
	}
	c.conf.Layers.SetEntityLayer(id, layerID)
	c.conf.Log.Debug("spawned entity", "archetype", archetypeID, "entity", id, "layer", layerID)
	return id, nil
}

// SpawnPlayer creates a full standard player entity at pos.
func (c *Catalog) SpawnPlayer(layerID string, pos contract.Vec3, name string) (string, error) {
	if layerID == "" {
		layerID = world.DefaultLayer
	}
	if _, ok := c.conf.Layers.Get(layerID); !ok {
		return "", world.ErrUnknownLayer
	}
	c.playerCounter++
	if name == "" {
		name = fmt.Sprintf("player-%d", c.playerCounter)
	}
	id := c.freshID(PlayerArchetype)
	capacity := 10
	if err := c.conf.Store.Create(id,
		contract.Identity{ID: id, Name: name},
		contract.Mobility{Position: pos},
		contract.Shape{
			Min:      contract.Vec3{X: -0.3, Y: -0.9, Z: -0.3},
			Max:      contract.Vec3{X: 0.3, Y: 0.9, Z: 0.3},
			Geometry: contract.GeometryBox,
		},
		contract.Visual{Visible: true},
		contract.Inventory{Capacity: &capacity},
		contract.Durability{Health: 100, MaxHealth: 100},
		contract.MovementRules{StepDistance: 1, AllowDiagonal: true, DiagonalNormalized: true},
		contract.CommandAccess{Commands: protocol.BaseCommands()},
		contract.ContractLimit{Limits: map[contract.Kind]int{
			contract.KindEntrance: 5,
			contract.KindPortable: 3,
		}},
	); err != nil {
		return "", err
	}
	c.conf.Layers.SetEntityLayer(id, layerID)
	c.conf.Log.Info("spawned player", "entity", id, "name", name, "layer", layerID)
	return id, nil
}

// PlayerCounter returns the number of players spawned so far.
func (c *Catalog) PlayerCounter() int { return c.playerCounter }

// SetPlayerCounter restores the player counter from a snapshot.
func (c *Catalog) SetPlayerCounter(n int) {
	if n > c.playerCounter {
		c.playerCounter = n
	}
}

func (c *Catalog) freshID(archetypeID string) string {
	return fmt.Sprintf("%s-%d-%s", archetypeID, c.conf.Clock().UnixMilli(), uuid.NewString()[:8])
}

// clone copies a template contract, overwriting identity.id and
// mobility.position and shallow-merging the override fields, then revalidates
// the result.
func (c *Catalog) clone(tmpl contract.Contract, entityID string, pos contract.Vec3, override map[string]any) (contract.Contract, error) {
	raw, err := contract.Marshal(tmpl)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	switch tmpl.ContractKind() {
	case contract.KindIdentity:
		fields["id"] = entityID
	case contract.KindMobility:
		fields["position"] = map[string]any{"x": pos.X, "y": pos.Y, "z": pos.Z}
	}
	for k, v := range override {
		if k == "kind" {
			continue
		}
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return contract.Unmarshal(merged)
}
