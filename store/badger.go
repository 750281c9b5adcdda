package store

import (
	"errors"
	"fmt"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore persists records in badger. Record versions are badger's own
// commit timestamps, and badger's transaction conflict detection backs the
// batch expectations.
type BadgerStore struct {
	db *badger.DB
}

// Compile-time interface check.
var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens or creates a badger database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	// badger's default logger writes to stderr at INFO.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error { return s.db.Close() }

func readItem(item *badger.Item) (Item, error) {
	v, err := item.ValueCopy(nil)
	if err != nil {
		return Item{}, fmt.Errorf("badgerstore: read value: %w", err)
	}
	return Item{Value: v, Version: item.Version()}, nil
}

// Get returns the record for key.
func (s *BadgerStore) Get(key Key) (Item, error) {
	if len(key) == 0 {
		return Item{}, ErrEmptyKey
	}
	var it Item
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return fmt.Errorf("badgerstore: get %s: %w", key, err)
		}
		it, err = readItem(item)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// Has reports whether a record exists for key.
func (s *BadgerStore) Has(key Key) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Scan visits records under prefix in key order.
func (s *BadgerStore) Scan(prefix Key, fn func(key Key, item Item) error) error {
	type entry struct {
		key  Key
		item Item
	}
	var entries []entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			item := iter.Item()
			it, err := readItem(item)
			if err != nil {
				return err
			}
			entries = append(entries, entry{key: Key(item.KeyCopy(nil)), item: it})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badgerstore: scan: %w", err)
	}
	for _, e := range entries {
		if err := fn(e.key, e.item); err != nil {
			return err
		}
	}
	return nil
}

// Commit checks the batch expectations and applies its writes in one badger
// read-write transaction. Concurrent commits touching the same keys are
// rejected by badger with ErrConflict.
func (s *BadgerStore) Commit(b *Batch) error {
	if b == nil {
		return nil
	}
	if err := b.validate(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, e := range b.expects {
			var got uint64
			item, err := txn.Get(e.key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return fmt.Errorf("badgerstore: get %s: %w", e.key, err)
			default:
				got = item.Version()
			}
			if got != e.version {
				return fmt.Errorf("%w: %s at version %d, expected %d", ErrConflict, e.key, got, e.version)
			}
		}
		for _, o := range b.ops {
			switch o.kind {
			case opPut:
				if err := txn.Set(o.key, o.value); err != nil {
					return fmt.Errorf("badgerstore: put %s: %w", o.key, err)
				}
			case opDelete:
				if err := txn.Delete(o.key); err != nil {
					return fmt.Errorf("badgerstore: delete %s: %w", o.key, err)
				}
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}
