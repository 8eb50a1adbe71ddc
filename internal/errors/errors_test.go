package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTelemetryErrorMessage(t *testing.T) {
	err := NewTelemetryError(ErrorTypeConnection, "dial", "ws://127.0.0.1:9838/", errors.New("refused"))
	assert.Equal(t, "dial failed on ws://127.0.0.1:9838/: refused", err.Error())

	err = NewTelemetryError(ErrorTypeCollection, "read_cpu", "", errors.New("boom"))
	assert.Equal(t, "read_cpu failed: boom", err.Error())
}

func TestTelemetryErrorIs(t *testing.T) {
	underlying := errors.New("address in use")
	err := WrapConfigError("listen", ":9838", underlying)

	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.True(t, errors.Is(err, underlying))
	assert.False(t, errors.Is(err, ErrCollectionFailed))
	assert.True(t, IsConfigError(fmt.Errorf("agent: %w", err)))
	assert.False(t, IsConfigError(nil))
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"collection", WrapCollectionError("read_cpu", errors.New("x")), true},
		{"connection", WrapConnectionError("dial", "addr", errors.New("x")), true},
		{"config", WrapConfigError("listen", "addr", errors.New("x")), false},
		{"decode", WrapDecodeError("decode_sample", errors.New("x")), false},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrConnectionFailed), true},
		{"plain", errors.New("plain"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryableError(tc.err))
		})
	}
}
