package catalog

import (
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrUserExists indicates the principal is already registered.
	ErrUserExists = fmt.Errorf("catalog: user %w", fault.ErrAlreadyExists)

	// ErrAssetBound indicates the profile asset belongs to another user.
	ErrAssetBound = fmt.Errorf("catalog: profile asset already bound: %w", fault.ErrAlreadyExists)

	// ErrArtistExists indicates the principal already has an artist account.
	ErrArtistExists = fmt.Errorf("catalog: artist %w", fault.ErrAlreadyExists)

	// ErrUserNotFound indicates the principal is not a registered user.
	ErrUserNotFound = fmt.Errorf("catalog: user %w", fault.ErrNotFound)

	// ErrArtistNotFound indicates the principal has no artist account.
	ErrArtistNotFound = fmt.Errorf("catalog: artist %w", fault.ErrNotFound)

	// ErrTrackNotFound indicates no track has the given id.
	ErrTrackNotFound = fmt.Errorf("catalog: track %w", fault.ErrNotFound)

	// ErrNotTrackOwner indicates the caller did not mint the track.
	ErrNotTrackOwner = fmt.Errorf("catalog: not the track owner: %w", fault.ErrUnauthorized)

	// ErrNotAdmin indicates the caller is not the platform admin.
	ErrNotAdmin = fmt.Errorf("catalog: not the platform admin: %w", fault.ErrUnauthorized)

	// ErrNotInitialized indicates the platform record is missing.
	ErrNotInitialized = fmt.Errorf("catalog: platform not initialized: %w", fault.ErrInvalidState)

	// ErrInvalidInput indicates a malformed field.
	ErrInvalidInput = fmt.Errorf("catalog: invalid input: %w", fault.ErrValidation)
)
