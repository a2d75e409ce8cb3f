package errcode

import (
	"fmt"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
)

func TestOf(t *testing.T) {
	errNotFound := New(NotFound, "thing not found")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "sentinel", err: errNotFound, want: NotFound},
		{name: "wrapped sentinel", err: errors.Wrap(errNotFound, "load"), want: NotFound},
		{name: "fmt wrapped", err: fmt.Errorf("tx: %w", ErrConcurrencyConflict), want: ConcurrencyConflict},
		{name: "plain error", err: errors.New("boom"), want: Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Of(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.Wrap(ErrConcurrencyConflict, "reserve")))
	assert.False(t, Retryable(New(NotFound, "missing")))
}
