package table

import (
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrTableNotFound indicates no table has the given id.
	ErrTableNotFound = fmt.Errorf("table: table %w", fault.ErrNotFound)

	// ErrTrackNotFound indicates no track has the given id.
	ErrTrackNotFound = fmt.Errorf("table: track %w", fault.ErrNotFound)

	// ErrRequestNotFound indicates a queued request record is missing.
	ErrRequestNotFound = fmt.Errorf("table: request %w", fault.ErrNotFound)

	// ErrNotMember indicates the principal is not a member of the table.
	ErrNotMember = fmt.Errorf("table: not a member: %w", fault.ErrUnauthorized)

	// ErrMemberNotFound indicates the membership to remove or change does not exist.
	ErrMemberNotFound = fmt.Errorf("table: membership %w", fault.ErrNotFound)

	// ErrAlreadyMember indicates the principal already joined the table.
	ErrAlreadyMember = fmt.Errorf("table: membership %w", fault.ErrAlreadyExists)

	// ErrNotOwner indicates the caller does not own the table.
	ErrNotOwner = fmt.Errorf("table: not the table owner: %w", fault.ErrUnauthorized)

	// ErrNoAuthority indicates the caller is neither the owner nor an admin.
	ErrNoAuthority = fmt.Errorf("table: owner or admin required: %w", fault.ErrUnauthorized)

	// ErrNotRegistered indicates the principal is not a registered user.
	ErrNotRegistered = fmt.Errorf("table: user not registered: %w", fault.ErrUnauthorized)

	// ErrInactive indicates the table is closed.
	ErrInactive = fmt.Errorf("table: table inactive: %w", fault.ErrInvalidState)

	// ErrNothingPlaying indicates a skip vote while the table is empty.
	ErrNothingPlaying = fmt.Errorf("table: no track playing: %w", fault.ErrInvalidState)

	// ErrNoLicenses indicates the track has no licenses left.
	ErrNoLicenses = fmt.Errorf("table: track has no licenses left: %w", fault.ErrInvalidState)

	// ErrNotInitialized indicates the platform record is missing.
	ErrNotInitialized = fmt.Errorf("table: platform not initialized: %w", fault.ErrInvalidState)

	// ErrInvalidInput indicates a malformed field.
	ErrInvalidInput = fmt.Errorf("table: invalid input: %w", fault.ErrValidation)
)
