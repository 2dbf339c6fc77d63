package game

import (
	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/world"
)

// wireHooks connects the entity store's lifecycle hooks to the chunk
// manager: mobility writes drive chunk membership, every other component
// change broadcasts an entity_update, and entity removal despawns.
func (g *Game) wireHooks() {
	for _, k := range contract.Kinds() {
		if k == contract.KindMobility {
			continue
		}
		kind := k
		g.store.OnContractAdd(kind, func(id string, _ contract.Contract) {
			g.chunks.TouchEntity(id)
		})
		g.store.OnContractRemove(kind, func(id string, _ contract.Contract) {
			// During entity teardown every contract fires its removal hook
			// before the entity_remove broadcast; updates for an entity that
			// is about to despawn would only be noise.
			if g.store.Has(id) && !g.store.Removing(id) {
				g.chunks.TouchEntity(id)
			}
		})
	}

	g.store.OnContractAdd(contract.KindMobility, func(id string, c contract.Contract) {
		mob, ok := c.(contract.Mobility)
		if !ok {
			return
		}
		g.syncMembership(id, mob)
	})
	g.store.OnEntityRemove(func(id string) {
		if key, ok := g.chunks.EntityChunk(id); ok {
			g.chunks.RemoveEntity(id, key)
		}
		if key, ok := g.lastChunk[id]; ok {
			g.chunks.EmitDespawn(key, id)
			delete(g.lastChunk, id)
		}
		g.layers.ClearEntity(id)
	})
}

// syncMembership aligns an entity's chunk membership with its current
// mobility position.
func (g *Game) syncMembership(id string, mob contract.Mobility) {
	layer := g.layers.EntityLayer(id)
	size := g.chunks.ChunkSize(layer)
	key := world.WorldToChunk(mob.Position.Mgl(), size).In(layer)

	prev, ok := g.chunks.EntityChunk(id)
	switch {
	case !ok:
		g.chunks.AddEntity(id, key)
	case prev == key:
		g.chunks.TouchEntity(id)
	default:
		g.chunks.MoveEntity(id, prev, key)
	}
	g.lastChunk[id] = key
}

// RemoveContract removes all records of a kind from an entity. Removing the
// last mobility record also clears the entity's chunk membership; cardinality
// evictions inside the store never do, because a replacement record follows
// in the same operation.
func (g *Game) RemoveContract(id string, k contract.Kind) bool {
	removed := g.store.RemoveContract(id, k)
	if removed && k == contract.KindMobility {
		if _, ok := g.store.Get(id, contract.KindMobility); !ok {
			if key, ok := g.chunks.EntityChunk(id); ok {
				g.chunks.RemoveEntity(id, key)
			}
			delete(g.lastChunk, id)
		}
	}
	return removed
}

// SetEntityLayer moves an entity to another layer, resyncing its chunk
// membership at its current position.
func (g *Game) SetEntityLayer(id, layer string) {
	g.layers.SetEntityLayer(id, layer)
	if mob, ok := fetchMobility(g, id); ok {
		g.syncMembership(id, mob)
	}
}

func fetchMobility(g *Game, id string) (contract.Mobility, bool) {
	c, ok := g.store.Get(id, contract.KindMobility)
	if !ok {
		return contract.Mobility{}, false
	}
	mob, ok := c.(contract.Mobility)
	return mob, ok
}
