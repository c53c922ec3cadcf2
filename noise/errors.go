package noise

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress.
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrHandshakeComplete indicates handshake is already complete.
	ErrHandshakeComplete = errors.New("handshake already complete")
)

// FailureReason classifies why a handshake failed, driving the caller's
// retry decision.
type FailureReason uint8

const (
	// ReasonUnknown covers unclassified failures. Treated as fatal.
	ReasonUnknown FailureReason = iota
	// ReasonSignature means certificate or signature verification failed.
	// Fatal: retrying with the same parameters cannot succeed.
	ReasonSignature
	// ReasonTimeout means the peer did not answer in time. Retryable.
	ReasonTimeout
	// ReasonMalformed means the peer sent a response we could not parse.
	// Fatal.
	ReasonMalformed
)

// String returns the human-readable reason name.
func (r FailureReason) String() string {
	switch r {
	case ReasonSignature:
		return "signature"
	case ReasonTimeout:
		return "timeout"
	case ReasonMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same handshake may be attempted again.
func (r FailureReason) Retryable() bool {
	return r == ReasonTimeout
}

// HandshakeError wraps a handshake failure with its classification.
type HandshakeError struct {
	Reason FailureReason
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed (%s): %v", e.Reason, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func newHandshakeError(reason FailureReason, err error) *HandshakeError {
	return &HandshakeError{Reason: reason, Err: err}
}
