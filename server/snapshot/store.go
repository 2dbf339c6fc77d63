package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Load when no snapshot exists under the name.
var ErrNotFound = errors.New("snapshot: not found")

const (
	keyPrefix = "snapshot/"
	keyLatest = "latest"
)

// Store persists snapshot documents in a leveldb database under the data
// directory.
type Store struct {
	db *leveldb.DB
}

// Open opens (or creates) the snapshot database in dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(filepath.Join(dir, "snapshots"), nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Save writes a document under the name passed and points "latest" at it.
func (s *Store) Save(name string, doc Document) error {
	if name == "" {
		return fmt.Errorf("snapshot: name must not be empty")
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := s.db.Put([]byte(keyPrefix+name), data, nil); err != nil {
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := s.db.Put([]byte(keyLatest), []byte(name), nil); err != nil {
		return fmt.Errorf("snapshot: write latest pointer: %w", err)
	}
	return nil
}

// Load reads the document saved under the name passed. An empty name loads
// the snapshot the "latest" pointer names.
func (s *Store) Load(name string) (Document, error) {
	if name == "" {
		latest, err := s.db.Get([]byte(keyLatest), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			return Document{}, ErrNotFound
		}
		if err != nil {
			return Document{}, fmt.Errorf("snapshot: read latest pointer: %w", err)
		}
		name = string(latest)
	}
	data, err := s.db.Get([]byte(keyPrefix+name), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("snapshot: read: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("snapshot: decode: %w", err)
	}
	return doc, nil
}

// List returns the names of all saved snapshots.
func (s *Store) List() ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix)), nil)
	defer it.Release()
	var names []string
	for it.Next() {
		names = append(names, strings.TrimPrefix(string(it.Key()), keyPrefix))
	}
	return names, it.Error()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
