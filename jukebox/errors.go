package jukebox

import (
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrAlreadyInitialized indicates Initialize was already called.
	ErrAlreadyInitialized = fmt.Errorf("jukebox: platform %w", fault.ErrAlreadyExists)

	// ErrNotInitialized indicates the platform has not been initialized.
	ErrNotInitialized = fmt.Errorf("jukebox: platform not initialized: %w", fault.ErrInvalidState)

	// ErrNotAdmin indicates the caller is not the platform admin.
	ErrNotAdmin = fmt.Errorf("jukebox: caller is not the platform admin: %w", fault.ErrUnauthorized)

	// ErrFeeTooHigh indicates a platform fee above royalty.PlatformFeeCap.
	ErrFeeTooHigh = fmt.Errorf("jukebox: platform fee above cap: %w", fault.ErrValidation)

	// ErrInvalidInput indicates a missing admin or escrow principal.
	ErrInvalidInput = fmt.Errorf("jukebox: invalid input: %w", fault.ErrValidation)

	// ErrRetriesExhausted indicates Retry gave up on a conflicting operation.
	ErrRetriesExhausted = fmt.Errorf("jukebox: retries exhausted: %w", fault.ErrConflict)
)
