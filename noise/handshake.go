package noise

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"

	"github.com/opd-ai/wasock/crypto"
)

// HandshakeRole defines whether we're initiating or responding.
type HandshakeRole uint8

const (
	// Initiator starts the handshake.
	Initiator HandshakeRole = iota
	// Responder answers a handshake initiation.
	Responder
)

// Pattern selects the Noise handshake pattern.
type Pattern uint8

const (
	// PatternIK is used when the initiator already knows the responder's
	// static key, i.e. a registered device resuming a session.
	PatternIK Pattern = iota
	// PatternXX is used on first contact: neither side knows the other's
	// static key, authentication happens through the exchanged payloads.
	PatternXX
)

// DefaultCipherSuite returns the suite the protocol runs by default.
// Kept as a constructor so alternative primitives can be injected for
// interoperability testing.
func DefaultCipherSuite() noise.CipherSuite {
	return noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
}

// Handshake wraps a Noise handshake state for one pattern and role.
type Handshake struct {
	role     HandshakeRole
	pattern  Pattern
	state    *noise.HandshakeState
	localPub [32]byte
	complete bool
	binding  []byte
}

// NewHandshake creates a handshake for the given pattern and role.
// staticPriv is our long-term Curve25519 private key. peerStatic is the
// responder's static public key; required for the IK initiator, ignored
// otherwise.
func NewHandshake(pattern Pattern, role HandshakeRole, staticPriv [32]byte, peerStatic []byte, suite noise.CipherSuite) (*Handshake, error) {
	keyPair, err := crypto.FromSecretKey(staticPriv)
	if err != nil {
		return nil, fmt.Errorf("derive static keypair: %w", err)
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, keyPair.Private[:])
	copy(staticKey.Public, keyPair.Public[:])

	config := noise.Config{
		CipherSuite:   suite,
		Random:        rand.Reader,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}

	switch pattern {
	case PatternIK:
		config.Pattern = noise.HandshakeIK
		if role == Initiator {
			if len(peerStatic) != 32 {
				return nil, fmt.Errorf("IK initiator requires 32-byte peer static key, got %d", len(peerStatic))
			}
			config.PeerStatic = make([]byte, 32)
			copy(config.PeerStatic, peerStatic)
		}
	case PatternXX:
		config.Pattern = noise.HandshakeXX
	default:
		return nil, fmt.Errorf("unsupported handshake pattern %d", pattern)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	h := &Handshake{role: role, pattern: pattern, state: state}
	h.localPub = keyPair.Public
	return h, nil
}

// WriteMessage produces the next outgoing handshake message carrying
// payload. Returns the wire message and whether the handshake completed on
// our side with this message.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, bool, error) {
	if h.complete {
		return nil, false, ErrHandshakeComplete
	}

	message, send, recv, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, false, fmt.Errorf("handshake write: %w", err)
	}
	if send != nil && recv != nil {
		h.finish()
	}
	return message, h.complete, nil
}

// ReadMessage consumes an incoming handshake message, returning the peer's
// payload and whether the handshake completed with this message.
func (h *Handshake) ReadMessage(message []byte) ([]byte, bool, error) {
	if h.complete {
		return nil, false, ErrHandshakeComplete
	}

	payload, send, recv, err := h.state.ReadMessage(nil, message)
	if err != nil {
		return nil, false, fmt.Errorf("handshake read: %w", err)
	}
	if send != nil && recv != nil {
		h.finish()
	}
	return payload, h.complete, nil
}

func (h *Handshake) finish() {
	h.complete = true
	h.binding = append([]byte(nil), h.state.ChannelBinding()...)
}

// IsComplete reports whether the handshake has finished.
func (h *Handshake) IsComplete() bool { return h.complete }

// ChannelBinding returns the handshake transcript hash. Only valid after
// completion; it salts the transport key derivation so keys are bound to
// this exact exchange.
func (h *Handshake) ChannelBinding() ([]byte, error) {
	if !h.complete {
		return nil, ErrHandshakeNotComplete
	}
	return append([]byte(nil), h.binding...), nil
}

// RemoteStatic returns the peer's static public key once known.
func (h *Handshake) RemoteStatic() ([]byte, error) {
	remote := h.state.PeerStatic()
	if len(remote) == 0 {
		return nil, ErrHandshakeNotComplete
	}
	return append([]byte(nil), remote...), nil
}

// LocalStatic returns our static public key.
func (h *Handshake) LocalStatic() []byte {
	pub := make([]byte, 32)
	copy(pub, h.localPub[:])
	return pub
}
