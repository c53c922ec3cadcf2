package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSendingChain indicates encryption was attempted before the
	// session learned the remote ratchet key.
	ErrNoSendingChain = errors.New("sending chain not established")
)

// DecryptFailure classifies why a message could not be decrypted.
type DecryptFailure uint8

const (
	// DuplicateMessage means the counter was already consumed.
	DuplicateMessage DecryptFailure = iota
	// OutOfWindow means the message is beyond the skipped-key window,
	// or its key was already evicted from the cache.
	OutOfWindow
	// AuthenticationFailure means the ciphertext failed AEAD
	// authentication.
	AuthenticationFailure
)

// String returns the failure class name.
func (f DecryptFailure) String() string {
	switch f {
	case DuplicateMessage:
		return "duplicate"
	case OutOfWindow:
		return "out-of-window"
	case AuthenticationFailure:
		return "authentication"
	default:
		return "unknown"
	}
}

// DecryptError reports a per-message decryption failure. Non-fatal to the
// connection; repeated authentication failures should make the caller
// consider the session bad.
type DecryptError struct {
	Failure DecryptFailure
	Err     error
}

func (e *DecryptError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt failed (%s): %v", e.Failure, e.Err)
	}
	return fmt.Sprintf("decrypt failed (%s)", e.Failure)
}

func (e *DecryptError) Unwrap() error { return e.Err }

func newDecryptError(failure DecryptFailure, err error) *DecryptError {
	return &DecryptError{Failure: failure, Err: err}
}
