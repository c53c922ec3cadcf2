// Package limits provides centralized size limits for the wasock wire
// protocol. This ensures consistent validation across framing, handshake
// and session components.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the largest frame payload accepted off the wire.
	// The 3-byte length prefix can describe up to 16MB; anything above
	// this limit is treated as a corrupt or hostile peer.
	MaxFrameSize = 1 << 20

	// MaxHandshakeMessage is the largest handshake message accepted.
	// Handshake messages carry ephemeral keys, an encrypted static key
	// and a certificate chain, all well under this bound.
	MaxHandshakeMessage = 8192

	// MaxPlaintextMessage is the largest application plaintext accepted
	// for session encryption.
	MaxPlaintextMessage = MaxFrameSize - EncryptionOverhead - FrameHeaderSize

	// FrameHeaderSize is the big-endian length prefix width in bytes.
	FrameHeaderSize = 3

	// EncryptionOverhead is the AEAD tag added by ChaCha20-Poly1305.
	EncryptionOverhead = 16
)

var (
	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateFramePayload validates a frame payload size against MaxFrameSize.
func ValidateFramePayload(payload []byte) error {
	return ValidateMessageSize(payload, MaxFrameSize)
}

// ValidatePlaintextMessage validates an application plaintext against
// MaxPlaintextMessage before session encryption.
func ValidatePlaintextMessage(message []byte) error {
	return ValidateMessageSize(message, MaxPlaintextMessage)
}
