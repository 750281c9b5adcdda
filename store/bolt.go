package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var bucketRecords = []byte("records")

// versionSize is the length of the version prefix stored before each value.
const versionSize = 8

// errAbort carries an expectation failure out of a bbolt update so the
// transaction rolls back.
var errAbort = errors.New("store: abort")

// BoltStore persists records in a single bbolt bucket. Values are stored as
// version(8, big-endian) || value; versions come from the bucket sequence.
type BoltStore struct {
	db *bbolt.DB
}

// Compile-time interface check.
var _ Store = (*BoltStore)(nil)

// OpenBoltStore opens or creates the bbolt database at dbPath.
// The parent directory is created if it does not exist.
func OpenBoltStore(dbPath string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return fmt.Errorf("boltstore: create bucket %q: %w", bucketRecords, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error { return s.db.Close() }

func decodeEnvelope(data []byte) (Item, error) {
	if len(data) < versionSize {
		return Item{}, fmt.Errorf("boltstore: corrupt record (%d bytes)", len(data))
	}
	return Item{
		Version: binary.BigEndian.Uint64(data[:versionSize]),
		Value:   bytes.Clone(data[versionSize:]),
	}, nil
}

func encodeEnvelope(version uint64, value []byte) []byte {
	buf := make([]byte, versionSize+len(value))
	binary.BigEndian.PutUint64(buf, version)
	copy(buf[versionSize:], value)
	return buf
}

// Get returns the record for key.
func (s *BoltStore) Get(key Key) (Item, error) {
	if len(key) == 0 {
		return Item{}, ErrEmptyKey
	}
	var it Item
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get(key)
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		var err error
		it, err = decodeEnvelope(data)
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return it, nil
}

// Has reports whether a record exists for key.
func (s *BoltStore) Has(key Key) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		found = tx.Bucket(bucketRecords).Get(key) != nil
		return nil
	})
	return found, err
}

// Scan visits records under prefix in key order.
func (s *BoltStore) Scan(prefix Key, fn func(key Key, item Item) error) error {
	type entry struct {
		key  Key
		item Item
	}
	var entries []entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			it, err := decodeEnvelope(v)
			if err != nil {
				return err
			}
			entries = append(entries, entry{key: Key(bytes.Clone(k)), item: it})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("boltstore: scan: %w", err)
	}
	// Callbacks run outside the read transaction so they may commit.
	for _, e := range entries {
		if err := fn(e.key, e.item); err != nil {
			return err
		}
	}
	return nil
}

// Commit checks the batch expectations and applies its writes in one bbolt
// update transaction.
func (s *BoltStore) Commit(b *Batch) error {
	if b == nil {
		return nil
	}
	if err := b.validate(); err != nil {
		return err
	}

	var conflict error
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketRecords)
		for _, e := range b.expects {
			var got uint64
			if data := bkt.Get(e.key); data != nil {
				it, err := decodeEnvelope(data)
				if err != nil {
					return err
				}
				got = it.Version
			}
			if got != e.version {
				conflict = fmt.Errorf("%w: %s at version %d, expected %d", ErrConflict, e.key, got, e.version)
				return errAbort
			}
		}
		if b.Empty() {
			return nil
		}

		version, err := bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("boltstore: next sequence: %w", err)
		}
		for _, o := range b.ops {
			switch o.kind {
			case opPut:
				if err := bkt.Put(o.key, encodeEnvelope(version, o.value)); err != nil {
					return fmt.Errorf("boltstore: put %s: %w", o.key, err)
				}
			case opDelete:
				if err := bkt.Delete(o.key); err != nil {
					return fmt.Errorf("boltstore: delete %s: %w", o.key, err)
				}
			}
		}
		return nil
	})
	if errors.Is(err, errAbort) {
		return conflict
	}
	return err
}
