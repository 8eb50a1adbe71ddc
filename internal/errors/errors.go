package errors

import (
	"errors"
	"fmt"
	"time"
)

// Base error types
var (
	ErrClosed           = errors.New("closed")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrCollectionFailed = errors.New("collection failed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrDecode           = errors.New("decode failed")
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeCollection ErrorType = "collection"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeDecode     ErrorType = "decode"
)

// TelemetryError is a structured error for agent and viewer operations.
type TelemetryError struct {
	Type      ErrorType
	Op        string // Operation that failed (e.g., "read_cpu", "listen")
	Target    string // Address or resource involved, if any
	Err       error
	Timestamp time.Time
	Retryable bool
}

func (e *TelemetryError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TelemetryError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *TelemetryError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrInvalidConfig:
		return e.Type == ErrorTypeConfig
	case ErrCollectionFailed:
		return e.Type == ErrorTypeCollection
	case ErrConnectionFailed:
		return e.Type == ErrorTypeConnection
	case ErrDecode:
		return e.Type == ErrorTypeDecode
	}

	return errors.Is(e.Err, target)
}

// NewTelemetryError creates a new TelemetryError
func NewTelemetryError(errorType ErrorType, op, target string, err error) *TelemetryError {
	return &TelemetryError{
		Type:      errorType,
		Op:        op,
		Target:    target,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: isRetryable(errorType),
	}
}

func isRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeCollection, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// WrapCollectionError marks a per-tick collection failure.
func WrapCollectionError(op string, err error) error {
	return NewTelemetryError(ErrorTypeCollection, op, "", err)
}

// WrapConnectionError wraps a transport error with the peer address.
func WrapConnectionError(op, target string, err error) error {
	return NewTelemetryError(ErrorTypeConnection, op, target, err)
}

// WrapConfigError wraps a misconfiguration that needs operator attention.
func WrapConfigError(op, target string, err error) error {
	return NewTelemetryError(ErrorTypeConfig, op, target, err)
}

// WrapDecodeError wraps a payload that could not be decoded.
func WrapDecodeError(op string, err error) error {
	return NewTelemetryError(ErrorTypeDecode, op, "", err)
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	var telErr *TelemetryError
	if errors.As(err, &telErr) {
		return telErr.Retryable
	}
	return errors.Is(err, ErrConnectionFailed)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return err != nil && errors.Is(err, ErrInvalidConfig)
}
