// Package entity implements the store that owns all entities and their
// contract records, together with the inverted kind index and lifecycle
// hooks.
package entity

import (
	"errors"
	"log/slog"

	"github.com/strata-world/strata/server/contract"
)

var (
	// ErrUnknownEntity is returned by operations targeting an entity id that
	// is not present in the store.
	ErrUnknownEntity = errors.New("entity: unknown entity")
	// ErrAlreadyExists is returned by Create when the id is already taken.
	ErrAlreadyExists = errors.New("entity: entity already exists")
	// ErrLimitExceeded is returned when a contract add cannot satisfy the
	// resolved cardinality ceiling even after evicting older records.
	ErrLimitExceeded = errors.New("entity: contract limit exceeded")
)

// EntityHook observes entity creation or removal.
type EntityHook func(id string)

// ContractHook observes a contract record being added to or removed from an
// entity.
type ContractHook func(id string, c contract.Contract)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Log is the logger hook failures and deferred mutations are reported
	// to. Defaults to slog.Default().
	Log *slog.Logger
}

// Store owns the map of entity id to contract records and the inverted index
// from contract kind to entity ids. The two are always updated in the same
// mutation, so an entity appears in the index for a kind exactly when it
// holds a record of that kind.
//
// The Store is not safe for concurrent use; all access is expected to happen
// on the simulation executor.
type Store struct {
	log *slog.Logger

	// entities maps id to the entity's contract records in insertion order.
	// The oldest record of a kind is the first of that kind in the slice.
	entities map[string][]contract.Contract
	index    map[contract.Kind]map[string]struct{}

	entityAdd      []EntityHook
	entityRemove   []EntityHook
	contractAdd    map[contract.Kind][]ContractHook
	contractRemove map[contract.Kind][]ContractHook

	// depth counts nested operations. busy tracks entities currently being
	// mutated so hooks cannot reentrantly mutate the entity that triggered
	// them; such mutations are queued and drained once the outermost
	// operation completes.
	depth  int
	busy   map[string]int
	queued []func()

	// removing marks entities currently being torn down by Remove, for the
	// duration of their contract removal hooks.
	removing map[string]struct{}
}

// NewStore creates an empty Store.
func NewStore(conf StoreConfig) *Store {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &Store{
		log:            conf.Log,
		entities:       make(map[string][]contract.Contract),
		index:          make(map[contract.Kind]map[string]struct{}),
		contractAdd:    make(map[contract.Kind][]ContractHook),
		contractRemove: make(map[contract.Kind][]ContractHook),
		busy:           make(map[string]int),
		removing:       make(map[string]struct{}),
	}
}

// OnEntityAdd registers a hook fired after an entity is created. Hooks run
// synchronously in registration order.
func (s *Store) OnEntityAdd(h EntityHook) { s.entityAdd = append(s.entityAdd, h) }

// OnEntityRemove registers a hook fired after an entity and all its
// contracts have been removed.
func (s *Store) OnEntityRemove(h EntityHook) { s.entityRemove = append(s.entityRemove, h) }

// OnContractAdd registers a hook fired after a record of the kind passed is
// added to an entity.
func (s *Store) OnContractAdd(k contract.Kind, h ContractHook) {
	s.contractAdd[k] = append(s.contractAdd[k], h)
}

// OnContractRemove registers a hook fired after a record of the kind passed
// is removed from an entity. During the hook the entity is still present in
// the store.
func (s *Store) OnContractRemove(k contract.Kind, h ContractHook) {
	s.contractRemove[k] = append(s.contractRemove[k], h)
}

// Create adds a new entity with the contract records passed. All records are
// validated before anything becomes observable; cardinality resolution
// applies to each record in order. ErrAlreadyExists is returned if the id is
// taken.
func (s *Store) Create(id string, comps ...contract.Contract) error {
	if _, ok := s.entities[id]; ok {
		return ErrAlreadyExists
	}
	for _, c := range comps {
		if err := contract.Validate(c); err != nil {
			return err
		}
	}
	s.begin(id)
	defer s.end(id)

	s.entities[id] = make([]contract.Contract, 0, len(comps))
	s.fireEntity(s.entityAdd, id)
	for _, c := range comps {
		if err := s.insert(id, c); err != nil {
			// Validation already passed, so this is a cardinality conflict
			// between records in the same batch.
			s.log.Warn("entity: dropped contract during create", "entity", id, "kind", c.ContractKind(), "err", err)
		}
	}
	return nil
}

// Remove deletes an entity and all its contract records. Contract removal
// hooks fire first, while the entity is still present; the entity removal
// hook fires last, after the entity is gone. It reports whether the entity
// existed.
func (s *Store) Remove(id string) bool {
	if _, ok := s.entities[id]; !ok {
		return false
	}
	if s.busy[id] > 0 {
		s.queued = append(s.queued, func() { s.Remove(id) })
		return true
	}
	s.begin(id)
	s.removing[id] = struct{}{}
	for {
		comps := s.entities[id]
		if len(comps) == 0 {
			break
		}
		c := comps[len(comps)-1]
		s.entities[id] = comps[:len(comps)-1]
		s.unindex(id, c.ContractKind())
		s.fireContract(s.contractRemove[c.ContractKind()], id, c)
	}
	delete(s.entities, id)
	delete(s.removing, id)
	s.fireEntity(s.entityRemove, id)
	s.end(id)
	return true
}

// Removing reports whether the entity is currently being torn down by Remove.
// Contract removal hooks fire while the entity is still present in the store;
// Removing lets observers tell teardown from a plain detach.
func (s *Store) Removing(id string) bool {
	_, ok := s.removing[id]
	return ok
}

// Add attaches a contract record to an entity, enforcing cardinality
// resolution: while the entity is at the resolved ceiling for the record's
// kind, the oldest record of that kind is evicted (firing its removal hook)
// before the new record is inserted.
func (s *Store) Add(id string, c contract.Contract) error {
	if _, ok := s.entities[id]; !ok {
		return ErrUnknownEntity
	}
	if err := contract.Validate(c); err != nil {
		return err
	}
	if s.busy[id] > 0 {
		s.queued = append(s.queued, func() {
			if err := s.Add(id, c); err != nil {
				s.log.Warn("entity: deferred contract add failed", "entity", id, "kind", c.ContractKind(), "err", err)
			}
		})
		return nil
	}
	s.begin(id)
	defer s.end(id)
	return s.insert(id, c)
}

// RemoveContract removes all records of the kind passed from the entity,
// firing removal hooks per record. It reports whether any record was
// removed.
func (s *Store) RemoveContract(id string, k contract.Kind) bool {
	comps, ok := s.entities[id]
	if !ok {
		return false
	}
	if s.busy[id] > 0 {
		s.queued = append(s.queued, func() { s.RemoveContract(id, k) })
		for _, c := range comps {
			if c.ContractKind() == k {
				return true
			}
		}
		return false
	}
	s.begin(id)
	defer s.end(id)

	var removed []contract.Contract
	kept := comps[:0]
	for _, c := range comps {
		if c.ContractKind() == k {
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	if len(removed) == 0 {
		return false
	}
	s.entities[id] = kept
	s.unindex(id, k)
	for _, c := range removed {
		s.fireContract(s.contractRemove[k], id, c)
	}
	return true
}

// Get returns the most recently added record of the kind passed on the
// entity.
func (s *Store) Get(id string, k contract.Kind) (contract.Contract, bool) {
	comps, ok := s.entities[id]
	if !ok {
		return nil, false
	}
	for i := len(comps) - 1; i >= 0; i-- {
		if comps[i].ContractKind() == k {
			return comps[i], true
		}
	}
	return nil, false
}

// GetAll returns every record of the kind passed on the entity, oldest
// first.
func (s *Store) GetAll(id string, k contract.Kind) []contract.Contract {
	var out []contract.Contract
	for _, c := range s.entities[id] {
		if c.ContractKind() == k {
			out = append(out, c)
		}
	}
	return out
}

// Contracts returns a copy of all contract records held by the entity in
// insertion order.
func (s *Store) Contracts(id string) []contract.Contract {
	comps, ok := s.entities[id]
	if !ok {
		return nil
	}
	out := make([]contract.Contract, len(comps))
	copy(out, comps)
	return out
}

// Has reports whether an entity with the id passed exists.
func (s *Store) Has(id string) bool {
	_, ok := s.entities[id]
	return ok
}

// Count returns the number of entities in the store.
func (s *Store) Count() int { return len(s.entities) }

// IDs returns the ids of all entities in the store, in unspecified order.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.entities))
	for id := range s.entities {
		out = append(out, id)
	}
	return out
}

// ListWith returns the ids of all entities holding at least one record of
// the kind passed.
func (s *Store) ListWith(k contract.Kind) []string {
	ids := s.index[k]
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// ListWithAll returns the ids of entities holding records of every kind
// passed, intersecting the inverted index.
func (s *Store) ListWithAll(kinds ...contract.Kind) []string {
	if len(kinds) == 0 {
		return nil
	}
	var out []string
outer:
	for id := range s.index[kinds[0]] {
		for _, k := range kinds[1:] {
			if _, ok := s.index[k][id]; !ok {
				continue outer
			}
		}
		out = append(out, id)
	}
	return out
}

// ListWithAny returns the ids of entities holding a record of at least one
// of the kinds passed, uniting the inverted index.
func (s *Store) ListWithAny(kinds ...contract.Kind) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range kinds {
		for id := range s.index[k] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// MaxFor resolves the cardinality ceiling for a kind on the entity passed,
// consulting its contract_limit override before the global defaults.
func (s *Store) MaxFor(id string, k contract.Kind) (int, bool) {
	var limits *contract.ContractLimit
	if c, ok := s.Get(id, contract.KindContractLimit); ok {
		l := c.(contract.ContractLimit)
		limits = &l
	}
	return contract.MaxFor(limits, k)
}

// insert performs the cardinality-resolved insertion of an already validated
// record. The caller must hold the busy mark for the entity.
func (s *Store) insert(id string, c contract.Contract) error {
	k := c.ContractKind()
	max, bounded := s.MaxFor(id, k)
	if bounded {
		if max <= 0 {
			return ErrLimitExceeded
		}
		for s.countKind(id, k) >= max {
			if !s.evictOldest(id, k) {
				return ErrLimitExceeded
			}
		}
	}
	s.entities[id] = append(s.entities[id], c)
	if s.index[k] == nil {
		s.index[k] = make(map[string]struct{})
	}
	s.index[k][id] = struct{}{}
	s.fireContract(s.contractAdd[k], id, c)
	return nil
}

func (s *Store) countKind(id string, k contract.Kind) int {
	n := 0
	for _, c := range s.entities[id] {
		if c.ContractKind() == k {
			n++
		}
	}
	return n
}

// evictOldest removes the oldest record of the kind from the entity, firing
// its removal hook. It reports whether a record was found.
func (s *Store) evictOldest(id string, k contract.Kind) bool {
	comps := s.entities[id]
	for i, c := range comps {
		if c.ContractKind() != k {
			continue
		}
		s.entities[id] = append(comps[:i:i], comps[i+1:]...)
		s.unindex(id, k)
		s.fireContract(s.contractRemove[k], id, c)
		return true
	}
	return false
}

// unindex drops the entity from the inverted index for the kind if it no
// longer holds any record of it.
func (s *Store) unindex(id string, k contract.Kind) {
	if s.countKind(id, k) > 0 {
		return
	}
	if ids, ok := s.index[k]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.index, k)
		}
	}
}

func (s *Store) begin(id string) {
	s.depth++
	s.busy[id]++
}

func (s *Store) end(id string) {
	s.busy[id]--
	if s.busy[id] <= 0 {
		delete(s.busy, id)
	}
	s.depth--
	if s.depth == 0 {
		s.drain()
	}
}

// drain runs mutations that were queued because they targeted an entity that
// was mid-operation when they were issued.
func (s *Store) drain() {
	for len(s.queued) > 0 {
		f := s.queued[0]
		s.queued = s.queued[1:]
		f()
	}
}

func (s *Store) fireEntity(hooks []EntityHook, id string) {
	for _, h := range hooks {
		h(id)
	}
}

func (s *Store) fireContract(hooks []ContractHook, id string, c contract.Contract) {
	for _, h := range hooks {
		h(id, c)
	}
}

// Fetch returns the most recent record of the concrete contract type T on
// the entity.
func Fetch[T contract.Contract](s *Store, id string) (T, bool) {
	var zero T
	c, ok := s.Get(id, zero.ContractKind())
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}
