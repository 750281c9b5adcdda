package record

import (
	"errors"
	"fmt"

	"github.com/bitfsorg/libjukebox-go/fault"
)

var (
	// ErrInvalidID indicates a malformed hex identifier.
	ErrInvalidID = fmt.Errorf("record: invalid id: %w", fault.ErrValidation)

	// ErrDecode indicates a stored record could not be decoded.
	ErrDecode = errors.New("record: decode failed")
)
