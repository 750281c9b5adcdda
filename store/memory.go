package store

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store for tests and ephemeral
// deployments.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Item
	seq     uint64
	closed  bool
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Item)}
}

// Get returns the record for key.
func (s *MemStore) Get(key Key) (Item, error) {
	if len(key) == 0 {
		return Item{}, ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Item{}, ErrClosed
	}

	it, ok := s.records[string(key)]
	if !ok {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return Item{Value: bytes.Clone(it.Value), Version: it.Version}, nil
}

// Has reports whether a record exists for key.
func (s *MemStore) Has(key Key) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ErrClosed
	}
	_, ok := s.records[string(key)]
	return ok, nil
}

// Scan visits records under prefix in key order.
func (s *MemStore) Scan(prefix Key, fn func(key Key, item Item) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	var keys []string
	for k := range s.records {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	items := make([]Item, len(keys))
	for i, k := range keys {
		it := s.records[k]
		items[i] = Item{Value: bytes.Clone(it.Value), Version: it.Version}
	}
	s.mu.RUnlock()

	// Callbacks run without the lock so they may read the store.
	for i, k := range keys {
		if err := fn(Key(k), items[i]); err != nil {
			return err
		}
	}
	return nil
}

// Commit applies the batch atomically.
func (s *MemStore) Commit(b *Batch) error {
	if b == nil {
		return nil
	}
	if err := b.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, e := range b.expects {
		if got := s.records[string(e.key)].Version; got != e.version {
			return fmt.Errorf("%w: %s at version %d, expected %d", ErrConflict, e.key, got, e.version)
		}
	}
	if b.Empty() {
		return nil
	}

	s.seq++
	for _, o := range b.ops {
		switch o.kind {
		case opPut:
			s.records[string(o.key)] = Item{Value: bytes.Clone(o.value), Version: s.seq}
		case opDelete:
			delete(s.records, string(o.key))
		}
	}
	return nil
}

// Close marks the store closed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
