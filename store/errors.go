package store

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrNotFound indicates no record exists for the key.
	ErrNotFound = fmt.Errorf("store: record %w", fault.ErrNotFound)

	// ErrConflict indicates a commit expectation did not match the stored version.
	ErrConflict = fmt.Errorf("store: %w", fault.ErrConflict)

	// ErrEmptyKey indicates a zero-length key.
	ErrEmptyKey = errors.New("store: empty key")

	// ErrKeyPartTooLong indicates a key component exceeds the length prefix.
	ErrKeyPartTooLong = errors.New("store: key part too long")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store: closed")
)
