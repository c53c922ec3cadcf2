package transport

import "errors"

var (
	// ErrFrameTooLarge indicates a declared frame length exceeds the
	// configured maximum. Fatal to the current connection.
	ErrFrameTooLarge = errors.New("frame length exceeds maximum")

	// ErrShortFrame indicates the stream ended mid-frame.
	ErrShortFrame = errors.New("stream ended inside frame")

	// ErrKeysExhausted indicates a direction's nonce counter wrapped.
	// The connection must be re-handshaken before more traffic flows.
	ErrKeysExhausted = errors.New("transport key nonce counter exhausted")

	// ErrDecryptFailed indicates an incoming frame failed AEAD
	// authentication.
	ErrDecryptFailed = errors.New("transport frame authentication failed")

	// ErrConnClosed indicates an operation on a closed connection.
	ErrConnClosed = errors.New("connection closed")
)
