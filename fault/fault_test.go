package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"plain", errors.New("boom"), KindInternal},
		{"not found", ErrNotFound, KindNotFound},
		{"wrapped exists", fmt.Errorf("catalog: user %w", ErrAlreadyExists), KindAlreadyExists},
		{"double wrapped", fmt.Errorf("outer: %w", fmt.Errorf("table: %w", ErrUnauthorized)), KindUnauthorized},
		{"invalid state", ErrInvalidState, KindInvalidState},
		{"validation", ErrValidation, KindValidation},
		{"payment", ErrPaymentFailed, KindPaymentFailed},
		{"conflict", ErrConflict, KindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("store: %w", ErrConflict)))
	assert.False(t, Retryable(ErrNotFound))
	assert.False(t, Retryable(nil))
}
