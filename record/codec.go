package record

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/store"
)

// Encode serializes a record using gob encoding.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes gob-encoded data into v.
func Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

// Load reads and decodes the record at key. The returned version is the
// store version to expect when committing an update. A missing record yields
// store.ErrNotFound.
func Load[T any](s store.Store, key store.Key) (*T, uint64, error) {
	it, err := s.Get(key)
	if err != nil {
		return nil, 0, err
	}
	v := new(T)
	if err := Decode(it.Value, v); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, it.Version, nil
}

// LoadOptional is Load that reports a missing record as (nil, Absent, nil).
func LoadOptional[T any](s store.Store, key store.Key) (*T, uint64, error) {
	v, version, err := Load[T](s, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.Absent, nil
	}
	return v, version, err
}

// Put encodes v and adds it to the batch under key.
func Put(b *store.Batch, key store.Key, v any) error {
	data, err := Encode(v)
	if err != nil {
		return fmt.Errorf("record: encode %s: %w", key, err)
	}
	b.Put(key, data)
	return nil
}

// LoadTable reads a table and stamps its Version.
func LoadTable(s store.Store, id ID) (*Table, error) {
	t, version, err := Load[Table](s, TableKey(id))
	if err != nil {
		return nil, err
	}
	t.Version = version
	return t, nil
}
