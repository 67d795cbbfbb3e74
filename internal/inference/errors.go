package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFrame means the frame had no payload; no request was issued.
	ErrEmptyFrame = errors.New("inference: empty frame")
	// ErrUndecodableFrame means the payload is not a readable JPEG; no request was issued.
	ErrUndecodableFrame = errors.New("inference: undecodable frame")
)

// ServiceError is a failure reported by the inference service itself.
type ServiceError struct {
	Message    string
	StatusCode int
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("inference service error (HTTP %d)", e.StatusCode)
	}
	return "inference service error: " + e.Message
}

// TransportError means the request could not complete or the reply could
// not be understood.
type TransportError struct {
	Op         string // "request", "read", "decode", "breaker"
	StatusCode int    // 0 when no response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("inference %s failed (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("inference %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
