package noise

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	flynn "github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wasock/crypto"
	"github.com/opd-ai/wasock/limits"
	"github.com/opd-ai/wasock/transport"
)

const (
	// DefaultTimeout bounds a full handshake exchange.
	DefaultTimeout = 20 * time.Second

	// maxPayloadAge is the freshness window for the authenticated client
	// payload; older handshakes are rejected as replays.
	maxPayloadAge = 5 * time.Minute

	// maxFutureDrift tolerates clock skew on the peer's timestamp.
	maxFutureDrift = 1 * time.Minute

	seedSize = 32
)

// transportKeyInfo labels the HKDF expansion of the transport keys.
var transportKeyInfo = []byte("wasock-transport-keys")

// Config parameterizes a handshake run.
type Config struct {
	// Role selects initiator or responder behaviour.
	Role HandshakeRole

	// StaticPriv is our long-term Curve25519 private key.
	StaticPriv [32]byte

	// PeerStatic, when set on an initiator, enables the IK resume path.
	// Without it the XX first-contact pattern is used.
	PeerStatic []byte

	// Authority is the trusted platform signing key the initiator
	// verifies the responder's certificate chain against.
	Authority [32]byte

	// CertChain is presented by the responder, leaf first.
	CertChain []Certificate

	// Resume forces the IK pattern on a responder. Initiators infer the
	// pattern from PeerStatic.
	Resume bool

	// Platform identifies the local device build, carried in the
	// initiator's encrypted payload.
	Platform string

	// Timeout bounds the whole exchange. Zero means DefaultTimeout.
	Timeout time.Duration

	// Suite overrides the Noise cipher suite. Nil means
	// DefaultCipherSuite.
	Suite flynn.CipherSuite
}

// Result carries everything a successful handshake yields.
type Result struct {
	// Keys are the directional transport keys for this connection.
	Keys *transport.TransportKeys

	// RemoteStatic is the peer's authenticated Noise static key.
	RemoteStatic []byte

	// Platform is the peer's self-reported platform (initiator side of
	// the exchange only; empty for initiators).
	Platform string
}

// handshakePayload is the JSON payload carried inside handshake messages.
// Seed only ever travels in encrypted messages.
type handshakePayload struct {
	Seed      []byte        `json:"seed,omitempty"`
	Platform  string        `json:"platform,omitempty"`
	Timestamp int64         `json:"timestamp"`
	Nonce     []byte        `json:"nonce"`
	CertChain []Certificate `json:"cert_chain,omitempty"`
}

// Engine runs the handshake protocol once per physical connection.
type Engine struct {
	config Config
}

// NewEngine validates the config and builds an engine.
func NewEngine(config Config) (*Engine, error) {
	if config.Role == Responder && len(config.CertChain) == 0 {
		return nil, errors.New("responder requires a certificate chain")
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Suite == nil {
		config.Suite = DefaultCipherSuite()
	}
	return &Engine{config: config}, nil
}

// Pattern reports which Noise pattern this engine will run.
func (e *Engine) Pattern() Pattern {
	if e.config.Role == Initiator && len(e.config.PeerStatic) == 32 {
		return PatternIK
	}
	if e.config.Role == Responder && e.config.Resume {
		return PatternIK
	}
	return PatternXX
}

// Perform runs the handshake over rw. It must complete before any
// application frame flows; on failure the connection is unusable and must
// be closed by the caller.
func (e *Engine) Perform(ctx context.Context, rw io.ReadWriter) (*Result, error) {
	pattern := e.Pattern()
	logrus.WithFields(logrus.Fields{
		"function": "Perform",
		"package":  "noise",
		"role":     e.config.Role,
		"pattern":  pattern,
	}).Debug("Starting handshake")

	hs, err := NewHandshake(pattern, e.config.Role, e.config.StaticPriv, e.config.PeerStatic, e.config.Suite)
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	codec := transport.NewFrameCodec(rw)
	codec.MaxPayload = limits.MaxHandshakeMessage

	var result *Result
	if e.config.Role == Initiator {
		result, err = e.runInitiator(ctx, hs, codec, pattern)
	} else {
		result, err = e.runResponder(ctx, hs, codec, pattern)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Perform",
			"package":  "noise",
			"role":     e.config.Role,
			"error":    err.Error(),
		}).Warn("Handshake failed")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Perform",
		"package":  "noise",
		"role":     e.config.Role,
		"peer_key": fmt.Sprintf("%x", result.RemoteStatic[:8]),
	}).Info("Handshake complete")
	return result, nil
}

func (e *Engine) runInitiator(ctx context.Context, hs *Handshake, codec *transport.FrameCodec, pattern Pattern) (*Result, error) {
	localSeed, err := newSeed()
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}

	identity, err := e.identityPayload(localSeed)
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}

	// Message 1. Under IK the identity payload is already encrypted to
	// the known responder static; under XX the first message is
	// plaintext, so only a bare freshness payload goes out and the
	// identity follows in the final encrypted message.
	first := identity
	if pattern == PatternXX {
		first, err = freshnessPayload()
		if err != nil {
			return nil, newHandshakeError(ReasonUnknown, err)
		}
	}
	msg, _, err := hs.WriteMessage(first)
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}
	if err := codec.WriteFrame(msg); err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}

	// Message 2: responder ephemeral, certificate chain, encrypted ack.
	reply, err := readFrame(ctx, codec)
	if err != nil {
		return nil, err
	}
	replyPayload, complete, err := hs.ReadMessage(reply)
	if err != nil {
		return nil, newHandshakeError(ReasonMalformed, err)
	}

	var responder handshakePayload
	if err := json.Unmarshal(replyPayload, &responder); err != nil {
		return nil, newHandshakeError(ReasonMalformed, fmt.Errorf("responder payload: %w", err))
	}
	if len(responder.Seed) != seedSize {
		return nil, newHandshakeError(ReasonMalformed, errors.New("responder seed missing"))
	}

	// Message 3 (XX only): our identity payload, now encrypted.
	if !complete {
		msg3, done, err := hs.WriteMessage(identity)
		if err != nil {
			return nil, newHandshakeError(ReasonUnknown, err)
		}
		if !done {
			return nil, newHandshakeError(ReasonMalformed, errors.New("handshake did not complete"))
		}
		if err := codec.WriteFrame(msg3); err != nil {
			return nil, newHandshakeError(ReasonUnknown, err)
		}
	}

	remoteStatic, err := hs.RemoteStatic()
	if err != nil {
		return nil, newHandshakeError(ReasonMalformed, err)
	}
	if err := VerifyCertChain(responder.CertChain, e.config.Authority, remoteStatic); err != nil {
		return nil, newHandshakeError(ReasonSignature, err)
	}

	keys, err := deriveTransportKeys(hs, Initiator, localSeed, responder.Seed)
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}
	return &Result{Keys: keys, RemoteStatic: remoteStatic}, nil
}

func (e *Engine) runResponder(ctx context.Context, hs *Handshake, codec *transport.FrameCodec, pattern Pattern) (*Result, error) {
	localSeed, err := newSeed()
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}

	// Message 1 from the initiator.
	first, err := readFrame(ctx, codec)
	if err != nil {
		return nil, err
	}
	firstPayload, _, err := hs.ReadMessage(first)
	if err != nil {
		return nil, newHandshakeError(ReasonMalformed, err)
	}

	var initiator handshakePayload
	if err := json.Unmarshal(firstPayload, &initiator); err != nil {
		return nil, newHandshakeError(ReasonMalformed, fmt.Errorf("initiator payload: %w", err))
	}
	if err := validateFreshness(initiator.Timestamp); err != nil {
		return nil, newHandshakeError(ReasonMalformed, err)
	}

	// Message 2: our seed, certificate chain, encrypted ack.
	ack, err := json.Marshal(handshakePayload{
		Seed:      localSeed,
		Timestamp: time.Now().Unix(),
		Nonce:     mustNonce(),
		CertChain: e.config.CertChain,
	})
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}
	msg2, complete, err := hs.WriteMessage(ack)
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}
	if err := codec.WriteFrame(msg2); err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}

	// Message 3 (XX only): the initiator's encrypted identity payload.
	if !complete {
		msg3, err := readFrame(ctx, codec)
		if err != nil {
			return nil, err
		}
		payload3, done, err := hs.ReadMessage(msg3)
		if err != nil {
			return nil, newHandshakeError(ReasonMalformed, err)
		}
		if !done {
			return nil, newHandshakeError(ReasonMalformed, errors.New("handshake did not complete"))
		}
		if err := json.Unmarshal(payload3, &initiator); err != nil {
			return nil, newHandshakeError(ReasonMalformed, fmt.Errorf("initiator identity payload: %w", err))
		}
		if err := validateFreshness(initiator.Timestamp); err != nil {
			return nil, newHandshakeError(ReasonMalformed, err)
		}
	}
	if len(initiator.Seed) != seedSize {
		return nil, newHandshakeError(ReasonMalformed, errors.New("initiator seed missing"))
	}

	remoteStatic, err := hs.RemoteStatic()
	if err != nil {
		return nil, newHandshakeError(ReasonMalformed, err)
	}

	keys, err := deriveTransportKeys(hs, Responder, localSeed, initiator.Seed)
	if err != nil {
		return nil, newHandshakeError(ReasonUnknown, err)
	}
	return &Result{Keys: keys, RemoteStatic: remoteStatic, Platform: initiator.Platform}, nil
}

// identityPayload builds the initiator's encrypted blob: session seed,
// platform metadata, and a freshness timestamp plus nonce.
func (e *Engine) identityPayload(seed []byte) ([]byte, error) {
	return json.Marshal(handshakePayload{
		Seed:      seed,
		Platform:  e.config.Platform,
		Timestamp: time.Now().Unix(),
		Nonce:     mustNonce(),
	})
}

func freshnessPayload() ([]byte, error) {
	return json.Marshal(handshakePayload{
		Timestamp: time.Now().Unix(),
		Nonce:     mustNonce(),
	})
}

// deriveTransportKeys expands both session seeds into the two directional
// keys. The channel binding salts the derivation so the keys are tied to
// this transcript; both sides order the seeds initiator-first.
func deriveTransportKeys(hs *Handshake, role HandshakeRole, localSeed, remoteSeed []byte) (*transport.TransportKeys, error) {
	binding, err := hs.ChannelBinding()
	if err != nil {
		return nil, err
	}

	initiatorSeed, responderSeed := localSeed, remoteSeed
	if role == Responder {
		initiatorSeed, responderSeed = remoteSeed, localSeed
	}

	secret := make([]byte, 0, seedSize*2)
	secret = append(secret, initiatorSeed...)
	secret = append(secret, responderSeed...)

	buf := make([]byte, 64)
	if err := crypto.DeriveKeys(secret, binding, transportKeyInfo, buf); err != nil {
		return nil, err
	}
	crypto.ZeroBytes(secret)

	var initiatorSend, responderSend [32]byte
	copy(initiatorSend[:], buf[:32])
	copy(responderSend[:], buf[32:])
	crypto.ZeroBytes(buf)

	if role == Initiator {
		return transport.NewTransportKeys(initiatorSend, responderSend)
	}
	return transport.NewTransportKeys(responderSend, initiatorSend)
}

// readFrame reads one handshake frame, classifying context expiry as a
// retryable timeout. The blocking read is left to the caller's connection
// close to unblock on timeout.
func readFrame(ctx context.Context, codec *transport.FrameCodec) ([]byte, error) {
	type frameResult struct {
		payload []byte
		err     error
	}
	ch := make(chan frameResult, 1)
	go func() {
		payload, err := codec.ReadFrame()
		ch <- frameResult{payload, err}
	}()

	select {
	case <-ctx.Done():
		return nil, newHandshakeError(ReasonTimeout, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, newHandshakeError(ReasonMalformed, r.err)
		}
		return r.payload, nil
	}
}

func validateFreshness(timestamp int64) error {
	now := time.Now()
	ts := time.Unix(timestamp, 0)
	if now.Sub(ts) > maxPayloadAge {
		return fmt.Errorf("handshake payload too old: %s", now.Sub(ts))
	}
	if ts.Sub(now) > maxFutureDrift {
		return fmt.Errorf("handshake payload from the future: %s", ts.Sub(now))
	}
	return nil
}

func newSeed() ([]byte, error) {
	seed := make([]byte, seedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func mustNonce() []byte {
	nonce := make([]byte, 24)
	_, _ = rand.Read(nonce)
	return nonce
}
