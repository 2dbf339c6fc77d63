package world

import (
	"log/slog"
	"sort"
	"time"

	"github.com/strata-world/strata/server/contract"
)

// EntitySource resolves an entity id to its contract records. It is
// implemented by the entity store and used when composing snapshots and
// deltas.
type EntitySource interface {
	Contracts(id string) []contract.Contract
}

// Generator is invoked when a chunk is loaded for the first time to populate
// it. Implementations must be idempotent on the chunk key: re-loading a
// chunk must not duplicate its content.
type Generator interface {
	Generate(m *Manager, c *Chunk)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(m *Manager, c *Chunk)

func (f GeneratorFunc) Generate(m *Manager, c *Chunk) { f(m, c) }

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Source resolves entity contracts for snapshots and deltas. Required.
	Source EntitySource
	// Layers resolves per-layer chunk sizes. Required.
	Layers *Layers
	// Generator populates newly loaded chunks. Optional.
	Generator Generator
	// MaxLoaded caps the number of loaded chunks. Defaults to 1000.
	MaxLoaded int
	// MaxRetained caps the number of chunks whose metadata is retained
	// after unloading. Defaults to 20000.
	MaxRetained int
	// UnloadDelay is the idle delay used by the retention sweep; metadata is
	// only dropped for chunks idle longer than twice this. Defaults to 60s.
	UnloadDelay time.Duration
	// GridResolution is the occupancy grid resolution per axis. Defaults to
	// DefaultGridResolution.
	GridResolution int
	// Clock returns the current time, replaceable in tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// Manager owns all chunks: entity membership, occupancy grids, subscriber
// sets and version counters. It is owned by the simulation executor and not
// safe for concurrent use.
type Manager struct {
	conf ManagerConfig

	chunks   map[ChunkKey]*Chunk
	byEntity map[string]ChunkKey
	loaded   int
}

// NewManager creates a Manager with the config passed, filling in defaults
// for zero values.
func NewManager(conf ManagerConfig) *Manager {
	if conf.Source == nil {
		panic("world: manager requires an entity source")
	}
	if conf.Layers == nil {
		panic("world: manager requires a layer registry")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.MaxLoaded <= 0 {
		conf.MaxLoaded = 1000
	}
	if conf.MaxRetained <= 0 {
		conf.MaxRetained = 20000
	}
	if conf.UnloadDelay <= 0 {
		conf.UnloadDelay = time.Minute
	}
	if conf.GridResolution <= 0 {
		conf.GridResolution = DefaultGridResolution
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	return &Manager{
		conf:     conf,
		chunks:   make(map[ChunkKey]*Chunk),
		byEntity: make(map[string]ChunkKey),
	}
}

// ChunkSize returns the chunk size of the layer passed, falling back to the
// default layer for unknown ids.
func (m *Manager) ChunkSize(layer string) float64 {
	if l, ok := m.conf.Layers.Get(layer); ok {
		return l.ChunkSize
	}
	return m.conf.Layers.Default().ChunkSize
}

// Get returns the chunk for the key passed without creating or touching it.
func (m *Manager) Get(key ChunkKey) (*Chunk, bool) {
	c, ok := m.chunks[key]
	return c, ok
}

// GetOrCreate returns the chunk for the key passed, creating it if absent,
// and refreshes its access time.
func (m *Manager) GetOrCreate(key ChunkKey) *Chunk {
	c, ok := m.chunks[key]
	if !ok {
		c = newChunk(key, m.conf.Clock())
		m.chunks[key] = c
	}
	c.lastAccessed = m.conf.Clock()
	return c
}

// Load marks a chunk loaded, running generation the first time the chunk is
// loaded. Loading an already loaded chunk only refreshes its access time.
func (m *Manager) Load(key ChunkKey) *Chunk {
	c := m.GetOrCreate(key)
	if c.loaded {
		return c
	}
	c.loaded = true
	m.loaded++
	if !c.generated {
		c.generated = true
		if m.conf.Generator != nil {
			m.conf.Generator.Generate(m, c)
		}
	}
	return c
}

// Unload marks a chunk unloaded. Its metadata, members and subscribers are
// retained.
func (m *Manager) Unload(key ChunkKey) {
	c, ok := m.chunks[key]
	if !ok || !c.loaded {
		return
	}
	c.loaded = false
	m.loaded--
}

// AddEntity adds an entity to a chunk's membership, bumps the chunk version
// and broadcasts an entity_add delta to its subscribers.
func (m *Manager) AddEntity(id string, key ChunkKey) {
	c := m.GetOrCreate(key)
	if _, ok := c.entities[id]; ok {
		return
	}
	c.entities[id] = struct{}{}
	m.byEntity[id] = key
	c.markModified(m.conf.Clock())
	m.broadcast(c, Delta{
		Key: key, Version: c.version, Type: DeltaEntityAdd,
		EntityID: id, Contracts: m.conf.Source.Contracts(id),
	})
}

// RemoveEntity removes an entity from a chunk's membership, bumps the chunk
// version and broadcasts an entity_remove delta.
func (m *Manager) RemoveEntity(id string, key ChunkKey) {
	c, ok := m.chunks[key]
	if !ok {
		return
	}
	if _, ok := c.entities[id]; !ok {
		return
	}
	delete(c.entities, id)
	if cur, ok := m.byEntity[id]; ok && cur == key {
		delete(m.byEntity, id)
	}
	c.markModified(m.conf.Clock())
	m.broadcast(c, Delta{Key: key, Version: c.version, Type: DeltaEntityRemove, EntityID: id})
}

// MoveEntity moves an entity between chunks, implemented as a removal from
// the source followed by an addition to the destination.
func (m *Manager) MoveEntity(id string, from, to ChunkKey) {
	m.RemoveEntity(id, from)
	m.AddEntity(id, to)
}

// EntityChunk returns the chunk an entity is currently a member of.
func (m *Manager) EntityChunk(id string) (ChunkKey, bool) {
	key, ok := m.byEntity[id]
	return key, ok
}

// EntitiesIn returns the member entity ids of the chunk for the key passed.
func (m *Manager) EntitiesIn(key ChunkKey) []string {
	c, ok := m.chunks[key]
	if !ok {
		return nil
	}
	return c.Entities()
}

// TouchEntity records a component change on a chunk member: the chunk
// version is bumped and an entity_update delta carrying the entity's current
// contracts is broadcast.
func (m *Manager) TouchEntity(id string) {
	key, ok := m.byEntity[id]
	if !ok {
		return
	}
	c, ok := m.chunks[key]
	if !ok {
		return
	}
	c.markModified(m.conf.Clock())
	m.broadcast(c, Delta{
		Key: key, Version: c.version, Type: DeltaEntityUpdate,
		EntityID: id, Contracts: m.conf.Source.Contracts(id),
	})
}

// MarkModified bumps a chunk's version and modification time without
// broadcasting.
func (m *Manager) MarkModified(key ChunkKey) {
	if c, ok := m.chunks[key]; ok {
		c.markModified(m.conf.Clock())
	}
}

// Subscribe adds a session to a chunk's subscriber set and sends it a full
// snapshot of the chunk.
func (m *Manager) Subscribe(s Subscriber, key ChunkKey) {
	c := m.GetOrCreate(key)
	c.subscribers[s.SessionID()] = s
	m.EmitSnapshot(c, s)
}

// Unsubscribe removes a session from a chunk's subscriber set.
func (m *Manager) Unsubscribe(s Subscriber, key ChunkKey) {
	if c, ok := m.chunks[key]; ok {
		delete(c.subscribers, s.SessionID())
	}
}

// UnsubscribeAll removes a session from every chunk's subscriber set.
func (m *Manager) UnsubscribeAll(s Subscriber) {
	id := s.SessionID()
	for _, c := range m.chunks {
		delete(c.subscribers, id)
	}
}

// EmitSnapshot sends the full state of a chunk to a single subscriber.
func (m *Manager) EmitSnapshot(c *Chunk, s Subscriber) {
	snap := Snapshot{Key: c.key, Version: c.version}
	for id := range c.entities {
		snap.Entities = append(snap.Entities, EntityState{ID: id, Contracts: m.conf.Source.Contracts(id)})
	}
	s.SendSnapshot(snap)
}

// EmitDespawn notifies all live subscribers of a chunk that an entity was
// destroyed.
func (m *Manager) EmitDespawn(key ChunkKey, entityID string) {
	c, ok := m.chunks[key]
	if !ok {
		return
	}
	d := Despawn{Key: key, Version: c.version, EntityID: entityID}
	for _, s := range c.subscribers {
		if s.Live() {
			s.SendDespawn(d)
		}
	}
}

// broadcast delivers a delta to every live subscriber of the chunk.
func (m *Manager) broadcast(c *Chunk, d Delta) {
	for _, s := range c.subscribers {
		if s.Live() {
			s.SendDelta(d)
		}
	}
}

// LoadedCount returns the number of loaded chunks.
func (m *Manager) LoadedCount() int { return m.loaded }

// RetainedCount returns the number of chunks whose metadata is retained.
func (m *Manager) RetainedCount() int { return len(m.chunks) }

// Sweep performs periodic chunk maintenance: it prunes dead subscribers,
// unloads the stalest loaded chunks beyond the loaded cap, and drops
// metadata for idle unloaded chunks beyond the retention cap.
func (m *Manager) Sweep(now time.Time) {
	for _, c := range m.chunks {
		for id, s := range c.subscribers {
			if !s.Live() {
				delete(c.subscribers, id)
			}
		}
	}

	if m.loaded > m.conf.MaxLoaded {
		loaded := make([]*Chunk, 0, m.loaded)
		for _, c := range m.chunks {
			if c.loaded {
				loaded = append(loaded, c)
			}
		}
		sort.Slice(loaded, func(i, j int) bool {
			return loaded[i].lastAccessed.Before(loaded[j].lastAccessed)
		})
		batch := m.loaded - m.conf.MaxLoaded + 100
		if batch > len(loaded) {
			batch = len(loaded)
		}
		for _, c := range loaded[:batch] {
			m.Unload(c.key)
		}
		m.conf.Log.Debug("unloaded stale chunks", "count", batch, "loaded", m.loaded)
	}

	if len(m.chunks) > m.conf.MaxRetained {
		cutoff := now.Add(-2 * m.conf.UnloadDelay)
		dropped := 0
		for key, c := range m.chunks {
			if c.loaded || len(c.entities) > 0 || len(c.subscribers) > 0 {
				continue
			}
			if c.lastAccessed.After(cutoff) {
				continue
			}
			delete(m.chunks, key)
			dropped++
		}
		if dropped > 0 {
			m.conf.Log.Debug("dropped chunk metadata", "count", dropped, "retained", len(m.chunks))
		}
	}
}
