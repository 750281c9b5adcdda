package royalty

import (
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrInvalidSplit indicates a royalty split that is empty, names an empty
	// principal or does not sum to 100.
	ErrInvalidSplit = fmt.Errorf("royalty: invalid split: %w", fault.ErrValidation)

	// ErrFeeTooHigh indicates a platform fee above its cap.
	ErrFeeTooHigh = fmt.Errorf("royalty: fee too high: %w", fault.ErrValidation)

	// ErrOverflow indicates an amount does not fit in 64 bits.
	ErrOverflow = fmt.Errorf("royalty: amount overflow: %w", fault.ErrValidation)

	// ErrNotArtist indicates the principal has no artist account.
	ErrNotArtist = fmt.Errorf("royalty: artist account %w", fault.ErrNotFound)

	// ErrNotInitialized indicates the platform record is missing.
	ErrNotInitialized = fmt.Errorf("royalty: platform not initialized: %w", fault.ErrInvalidState)

	// ErrSettlementNotFound indicates no settlement exists for a reference.
	ErrSettlementNotFound = fmt.Errorf("royalty: settlement %w", fault.ErrNotFound)

	// ErrContention indicates a settlement kept losing commit races.
	ErrContention = fmt.Errorf("royalty: too much contention: %w", fault.ErrConflict)
)
