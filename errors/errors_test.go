package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.class.String())
		})
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		invalid   bool
		fatal     bool
	}{
		{"nil", nil, false, false, false},
		{"connection lost", ErrConnectionLost, true, false, false},
		{"storage unavailable", ErrStorageUnavailable, true, false, false},
		{"deadline", context.DeadlineExceeded, true, false, false},
		{"timeout text", fmt.Errorf("nats: timeout"), true, false, false},
		{"invalid data", ErrInvalidData, false, true, false},
		{"bad signature", ErrInvalidSignature, false, true, false},
		{"no host name", ErrNoHostName, false, false, true},
		{"corrupted", ErrDataCorrupted, false, false, true},
		{"wrapped host name", fmt.Errorf("annotate: %w", ErrNoHostName), false, false, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: errors.New("x")}, false, false, true},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: errors.New("timeout")}, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "transient")
			assert.Equal(t, tt.invalid, IsInvalid(tt.err), "invalid")
			assert.Equal(t, tt.fatal, IsFatal(tt.err), "fatal")
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrParsingFailed))
	assert.Equal(t, ErrorTransient, Classify(errors.New("something odd")))
}

func TestWrap(t *testing.T) {
	cause := errors.New("bucket missing")

	err := Wrap(cause, "KVStore", "Get", "read blob")
	require.Error(t, err)
	assert.Equal(t, "KVStore.Get: read blob failed: bucket missing", err.Error())
	assert.ErrorIs(t, err, cause)

	assert.NoError(t, Wrap(nil, "KVStore", "Get", "read blob"))
	assert.NoError(t, WrapTransient(nil, "a", "b", "c"))
	assert.NoError(t, WrapInvalid(nil, "a", "b", "c"))
	assert.NoError(t, WrapFatal(nil, "a", "b", "c"))
}

func TestWrapClassified(t *testing.T) {
	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(ErrNoHostName, "Threshold", "Annotate", "resolve host")

			var ce *ClassifiedError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Threshold", ce.Component)
			assert.Equal(t, "Annotate", ce.Operation)
			assert.ErrorIs(t, err, ErrNoHostName)
			assert.Contains(t, err.Error(), "Threshold.Annotate: resolve host failed")
		})
	}
}

func TestRetryConfig(t *testing.T) {
	rc := DefaultRetryConfig()

	assert.True(t, rc.ShouldRetry(ErrStorageUnavailable, 0))
	assert.False(t, rc.ShouldRetry(ErrStorageUnavailable, rc.MaxRetries))
	assert.False(t, rc.ShouldRetry(ErrDataCorrupted, 0))
	assert.False(t, rc.ShouldRetry(ErrInvalidData, 0))
	assert.False(t, rc.ShouldRetry(nil, 0))

	cfg := rc.ToRetryConfig()
	assert.Equal(t, rc.MaxRetries+1, cfg.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, rc.BackoffFactor, cfg.Multiplier)
}
