// Package fault defines the error kinds shared by every jukebox package.
//
// Packages declare their own sentinel errors wrapping one of the kinds below,
// so callers can match either the precise condition or its class:
//
//	errors.Is(err, table.ErrNotMember)  // precise
//	errors.Is(err, fault.ErrUnauthorized) // class
package fault

import "errors"

var (
	// ErrNotFound indicates a missing entity.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a duplicate registration or membership.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized indicates the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState indicates the operation is not valid for the entity's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrPaymentFailed indicates the payment rail rejected a transfer.
	ErrPaymentFailed = errors.New("payment failed")

	// ErrConflict indicates an optimistic-concurrency version mismatch.
	ErrConflict = errors.New("version conflict")
)

// Kind names an error class.
type Kind string

// Error kinds, in the order KindOf checks them.
const (
	KindNone          Kind = ""
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindAlreadyExists Kind = "already_exists"
	KindUnauthorized  Kind = "unauthorized"
	KindInvalidState  Kind = "invalid_state"
	KindValidation    Kind = "validation"
	KindPaymentFailed Kind = "payment_failed"
	KindInternal      Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrConflict, KindConflict},
	{ErrNotFound, KindNotFound},
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInvalidState, KindInvalidState},
	{ErrValidation, KindValidation},
	{ErrPaymentFailed, KindPaymentFailed},
}

// KindOf classifies err. Errors outside the taxonomy are KindInternal,
// nil is KindNone.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable reports whether the caller should retry the operation.
// Only version conflicts are retryable.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
