// Package store provides the durable key-value substrate the jukebox engine
// reads and writes entity records through.
//
// Every record carries a version assigned by the store at commit time.
// Versions grow monotonically across the whole store, so a key that is
// deleted and re-created never reuses an earlier version. Writers read a
// record, compute the new state and commit a Batch that expects the versions
// they read; a mismatch aborts the whole batch with ErrConflict.
package store

// Item is a stored value together with its version.
type Item struct {
	Value   []byte
	Version uint64
}

// Absent is the version expected for a key that must not exist.
const Absent uint64 = 0

// Store is the durable key-value store.
type Store interface {
	// Get returns the record for key, or ErrNotFound.
	Get(key Key) (Item, error)

	// Has reports whether a record exists for key.
	Has(key Key) (bool, error)

	// Scan calls fn for every record whose key starts with prefix, in
	// ascending key order. Returning an error from fn stops the scan.
	Scan(prefix Key, fn func(key Key, item Item) error) error

	// Commit atomically checks the batch expectations and applies its
	// writes. Nothing is written if any expectation fails.
	Commit(b *Batch) error

	// Close releases the underlying resources.
	Close() error
}

type opKind uint8

const (
	opPut opKind = iota + 1
	opDelete
)

type op struct {
	kind  opKind
	key   Key
	value []byte
}

type expectation struct {
	key     Key
	version uint64
}

// Batch collects version expectations and writes for one atomic commit.
type Batch struct {
	expects []expectation
	ops     []op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Expect requires key to be at version when the batch commits.
// Use Absent to require that the key does not exist.
func (b *Batch) Expect(key Key, version uint64) *Batch {
	b.expects = append(b.expects, expectation{key: key, version: version})
	return b
}

// Put writes value under key.
func (b *Batch) Put(key Key, value []byte) *Batch {
	b.ops = append(b.ops, op{kind: opPut, key: key, value: value})
	return b
}

// Delete removes key. Deleting a missing key is not an error.
func (b *Batch) Delete(key Key) *Batch {
	b.ops = append(b.ops, op{kind: opDelete, key: key})
	return b
}

// Empty reports whether the batch has no writes.
func (b *Batch) Empty() bool {
	return len(b.ops) == 0
}

// Append adds the expectations and writes of other to b.
func (b *Batch) Append(other *Batch) *Batch {
	if other == nil {
		return b
	}
	b.expects = append(b.expects, other.expects...)
	b.ops = append(b.ops, other.ops...)
	return b
}

func (b *Batch) validate() error {
	for _, e := range b.expects {
		if len(e.key) == 0 {
			return ErrEmptyKey
		}
	}
	for _, o := range b.ops {
		if len(o.key) == 0 {
			return ErrEmptyKey
		}
	}
	return nil
}
