// Package counter allocates monotonic per-kind identifiers through the
// store's compare-and-set primitive.
package counter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/bitfsorg/libjukebox-go/record"
	"github.com/bitfsorg/libjukebox-go/store"
)

// Name identifies a counter.
type Name string

// Counters used by the engine.
const (
	Track   Name = "track"
	Table   Name = "table"
	Request Name = "request"
	User    Name = "user"
)

// All lists every counter the platform seeds.
var All = []Name{Track, Table, Request, User}

// defaultAttempts bounds the CAS retry loop of Next.
const defaultAttempts = 64

var (
	// ErrOverflow indicates the counter reached its maximum value.
	ErrOverflow = errors.New("counter: overflow")

	// ErrContention indicates Next lost the CAS race too many times.
	ErrContention = errors.New("counter: too much contention")

	// ErrCorrupt indicates a stored counter value has the wrong size.
	ErrCorrupt = errors.New("counter: corrupt value")
)

// Service hands out ids.
type Service struct {
	store    store.Store
	attempts int
}

// New returns a counter service over s.
func New(s store.Store) *Service {
	return &Service{store: s, attempts: defaultAttempts}
}

func encode(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func (c *Service) read(name Name) (uint32, uint64, error) {
	it, err := c.store.Get(record.CounterKey(string(name)))
	if errors.Is(err, store.ErrNotFound) {
		return 0, store.Absent, nil
	}
	if err != nil {
		return 0, 0, err
	}
	if len(it.Value) != 4 {
		return 0, 0, fmt.Errorf("%w: %s has %d bytes", ErrCorrupt, name, len(it.Value))
	}
	return binary.BigEndian.Uint32(it.Value), it.Version, nil
}

// Current returns the last allocated value (0 if none).
func (c *Service) Current(name Name) (uint32, error) {
	v, _, err := c.read(name)
	return v, err
}

// Next allocates and returns the next value, starting at 1.
func (c *Service) Next(name Name) (uint32, error) {
	for range c.attempts {
		cur, version, err := c.read(name)
		if err != nil {
			return 0, err
		}
		if cur == math.MaxUint32 {
			return 0, fmt.Errorf("%w: %s", ErrOverflow, name)
		}
		next := cur + 1
		err = c.store.Commit(store.NewBatch().
			Expect(record.CounterKey(string(name)), version).
			Put(record.CounterKey(string(name)), encode(next)))
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrContention, name)
}

// Increment adds to b the write allocating the next value of name, guarded
// by the version it was read at, and returns that value. The value is only
// allocated if b commits; a concurrent Next makes the commit conflict.
func (c *Service) Increment(b *store.Batch, name Name) (uint32, error) {
	cur, version, err := c.read(name)
	if err != nil {
		return 0, err
	}
	if cur == math.MaxUint32 {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, name)
	}
	key := record.CounterKey(string(name))
	b.Expect(key, version).Put(key, encode(cur+1))
	return cur + 1, nil
}

// Seed adds writes creating every counter in names that does not exist yet
// at zero. Existing counters keep their value. Each created counter is
// expected absent, so a concurrent Next fails the commit with a conflict.
func (c *Service) Seed(b *store.Batch, names ...Name) error {
	for _, n := range names {
		key := record.CounterKey(string(n))
		ok, err := c.store.Has(key)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		b.Expect(key, store.Absent).Put(key, encode(0))
	}
	return nil
}
