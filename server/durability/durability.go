// Package durability implements damage, healing and the auto-destruction
// lifecycle for entities carrying a durability contract.
package durability

import (
	"log/slog"
	"time"

	"github.com/strata-world/strata/server/contract"
	"github.com/strata-world/strata/server/entity"
	"github.com/strata-world/strata/server/event"
)

// eventLogSize is the number of events retained per event kind.
const eventLogSize = 100

// maxArmorReduction caps how much of incoming damage armor can absorb.
const maxArmorReduction = 0.75

// DamageEvent records damage applied to an entity.
type DamageEvent struct {
	Entity string    `json:"entity"`
	Source string    `json:"source,omitempty"`
	Amount float64   `json:"amount"`
	Health float64   `json:"health"`
	Time   time.Time `json:"time"`
}

// HealEvent records healing applied to an entity.
type HealEvent struct {
	Entity string    `json:"entity"`
	Amount float64   `json:"amount"`
	Health float64   `json:"health"`
	Time   time.Time `json:"time"`
}

// DestroyEvent records an entity destroyed by the durability system.
type DestroyEvent struct {
	Entity string    `json:"entity"`
	Source string    `json:"source,omitempty"`
	Time   time.Time `json:"time"`
}

// DestroyHook observes an entity about to be destroyed. The entity is still
// present in the store when the hook runs.
type DestroyHook func(id string)

// Config configures the durability System.
type Config struct {
	// Log is the logger. Defaults to slog.Default().
	Log *slog.Logger
	// Store is the entity store. Required.
	Store *entity.Store
	// Hub receives damage/heal/destroy events. Optional.
	Hub *event.Hub
	// Clock returns the current time, replaceable in tests. Defaults to
	// time.Now.
	Clock func() time.Time
}

// System owns entity health: damage, healing and destruction when health
// reaches zero.
type System struct {
	conf Config

	// pending holds entities that gained an identity and must be ensured a
	// durability record on the next tick.
	pending []string

	destroyHooks []DestroyHook

	damageLog  ring[DamageEvent]
	healLog    ring[HealEvent]
	destroyLog ring[DestroyEvent]
}

// NewSystem creates a durability System bound to the store and registers
// the identity hook that schedules default durability records.
func NewSystem(conf Config) *System {
	if conf.Store == nil {
		panic("durability: system requires a store")
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	s := &System{
		conf:       conf,
		damageLog:  newRing[DamageEvent](eventLogSize),
		healLog:    newRing[HealEvent](eventLogSize),
		destroyLog: newRing[DestroyEvent](eventLogSize),
	}
	conf.Store.OnContractAdd(contract.KindIdentity, func(id string, _ contract.Contract) {
		s.pending = append(s.pending, id)
	})
	return s
}

// OnDestroy registers a hook fired before an entity is removed by the
// durability system.
func (s *System) OnDestroy(h DestroyHook) {
	s.destroyHooks = append(s.destroyHooks, h)
}

// Tick ensures scheduled durability records exist and sweeps entities whose
// health dropped to zero through an external write.
func (s *System) Tick() {
	pending := s.pending
	s.pending = nil
	for _, id := range pending {
		if !s.conf.Store.Has(id) {
			continue
		}
		if _, ok := s.conf.Store.Get(id, contract.KindDurability); ok {
			continue
		}
		if err := s.conf.Store.Add(id, contract.Durability{Health: 1, MaxHealth: 1}); err != nil {
			s.conf.Log.Warn("failed to ensure durability", "entity", id, "err", err)
		}
	}
	for _, id := range s.conf.Store.ListWith(contract.KindDurability) {
		if d, ok := entity.Fetch[contract.Durability](s.conf.Store, id); ok && d.Health <= 0 {
			s.destroy(id, "")
		}
	}
}

// Damage applies damage to an entity, reduced by its armor. It reports
// whether any damage was applied. An entity whose health reaches zero is
// destroyed.
func (s *System) Damage(id string, amount float64, source string) bool {
	d, ok := entity.Fetch[contract.Durability](s.conf.Store, id)
	if !ok {
		return false
	}
	armor := 0.0
	if d.Armor != nil {
		armor = *d.Armor
	}
	reduction := 0.01 * armor
	if reduction > maxArmorReduction {
		reduction = maxArmorReduction
	}
	actual := amount * (1 - reduction)
	if actual <= 0 {
		return false
	}
	d.Health -= actual
	if d.Health < 0 {
		d.Health = 0
	}
	if err := s.conf.Store.Add(id, d); err != nil {
		s.conf.Log.Warn("damage write failed", "entity", id, "err", err)
		return false
	}
	now := s.conf.Clock()
	s.damageLog.push(DamageEvent{Entity: id, Source: source, Amount: actual, Health: d.Health, Time: now})
	s.publish("entity_damaged", id, map[string]any{"amount": actual, "health": d.Health, "source": source})
	if d.Health == 0 {
		s.destroy(id, source)
	}
	return true
}

// Heal raises an entity's health by the amount passed, capped at maxHealth.
// It reports whether health actually increased.
func (s *System) Heal(id string, amount float64) bool {
	if amount <= 0 {
		return false
	}
	d, ok := entity.Fetch[contract.Durability](s.conf.Store, id)
	if !ok {
		return false
	}
	healed := d.Health + amount
	if healed > d.MaxHealth {
		healed = d.MaxHealth
	}
	if healed <= d.Health {
		return false
	}
	gain := healed - d.Health
	d.Health = healed
	if err := s.conf.Store.Add(id, d); err != nil {
		s.conf.Log.Warn("heal write failed", "entity", id, "err", err)
		return false
	}
	s.healLog.push(HealEvent{Entity: id, Amount: gain, Health: d.Health, Time: s.conf.Clock()})
	s.publish("entity_healed", id, map[string]any{"amount": gain, "health": d.Health})
	return true
}

// Repair heals an entity to full health.
func (s *System) Repair(id string) bool {
	d, ok := entity.Fetch[contract.Durability](s.conf.Store, id)
	if !ok {
		return false
	}
	return s.Heal(id, d.MaxHealth-d.Health)
}

// destroy fires destroy hooks while the entity is still present, records
// the event and removes the entity from the store.
func (s *System) destroy(id, source string) {
	if !s.conf.Store.Has(id) {
		return
	}
	for _, h := range s.destroyHooks {
		h(id)
	}
	s.destroyLog.push(DestroyEvent{Entity: id, Source: source, Time: s.conf.Clock()})
	s.publish("entity_destroyed", id, map[string]any{"source": source})
	s.conf.Store.Remove(id)
}

func (s *System) publish(typ, id string, data map[string]any) {
	if s.conf.Hub != nil {
		s.conf.Hub.Publish(event.Event{Type: typ, Entity: id, Data: data})
	}
}

// DamageEvents returns retained damage events, newest last. An empty entity
// id returns events for all entities.
func (s *System) DamageEvents(entityID string) []DamageEvent {
	return filterEvents(s.damageLog.all(), entityID, func(e DamageEvent) string { return e.Entity })
}

// HealEvents returns retained heal events, newest last, optionally filtered
// by entity.
func (s *System) HealEvents(entityID string) []HealEvent {
	return filterEvents(s.healLog.all(), entityID, func(e HealEvent) string { return e.Entity })
}

// DestroyEvents returns retained destroy events, newest last, optionally
// filtered by entity.
func (s *System) DestroyEvents(entityID string) []DestroyEvent {
	return filterEvents(s.destroyLog.all(), entityID, func(e DestroyEvent) string { return e.Entity })
}

func filterEvents[T any](events []T, entityID string, key func(T) string) []T {
	if entityID == "" {
		return events
	}
	out := events[:0:0]
	for _, e := range events {
		if key(e) == entityID {
			out = append(out, e)
		}
	}
	return out
}

// ring is a fixed-capacity event log retaining the most recent entries.
type ring[T any] struct {
	buf   []T
	start int
	n     int
}

func newRing[T any](size int) ring[T] {
	return ring[T]{buf: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) all() []T {
	out := make([]T, 0, r.n)
	for i := 0; i < r.n; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
