// Package wasock implements an authenticated, encrypted, auto-reconnecting
// transport session in the style of multi-device messaging clients: a
// length-prefixed frame codec over WebSocket, a Noise handshake with
// platform certificate verification, first-time device pairing, a double
// ratchet for message payloads, and a supervised connection state machine
// with reason-classified reconnect policy.
package wasock

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wasock/crypto"
	"github.com/opd-ai/wasock/event"
	"github.com/opd-ai/wasock/noise"
	"github.com/opd-ai/wasock/pairing"
	"github.com/opd-ai/wasock/session"
	"github.com/opd-ai/wasock/store"
	"github.com/opd-ai/wasock/transport"
)

var (
	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("client closed")

	// ErrNotOpen is returned by Send when the connection is not open.
	ErrNotOpen = errors.New("connection not open")
)

// Client owns the single logical connection: socket, transport keys,
// ratchet session, and credentials. All state transitions are serialized
// through its mutex; external callers only see snapshots.
type Client struct {
	opts   *Options
	bus    *event.Bus
	writer *store.DebouncedWriter

	mu       sync.Mutex
	sm       *stateMachine
	creds    *store.Credentials
	conn     io.ReadWriteCloser
	codec    *transport.FrameCodec
	keys     *transport.TransportKeys
	sess     *session.Session
	sessKey  string
	pairMgr  *pairing.Manager
	attempt  int
	rtimer   *time.Timer
	closed   bool
	msgCb    func([]byte)
	pairRefC chan wirePairing

	// dial is overridable in tests.
	dial func(ctx context.Context, endpoint string) (io.ReadWriteCloser, error)
}

// NewClient builds a client from options and loads any stored credentials.
func NewClient(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	creds, err := opts.Store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	c := &Client{
		opts:     opts,
		bus:      event.NewBus(),
		writer:   store.NewDebouncedWriter(opts.Store, opts.DebounceWindow),
		sm:       newStateMachine(),
		creds:    creds,
		pairRefC: make(chan wirePairing, 1),
		dial: func(ctx context.Context, endpoint string) (io.ReadWriteCloser, error) {
			return transport.DialWebSocket(ctx, endpoint)
		},
	}

	// Ratchet advances mutate credentials too; every durable write is
	// announced, coalesced to the debounce window.
	c.writer.OnFlush = func(creds *store.Credentials) {
		c.bus.Publish(event.Event{Name: event.CredsUpdate, Payload: creds})
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewClient",
		"package":    "wasock",
		"endpoint":   opts.Endpoint,
		"registered": creds != nil && creds.Registered,
	}).Info("client created")

	return c, nil
}

// State returns the current connection state and the reason of the last
// closure.
func (c *Client) State() (ConnectionState, DisconnectReason) {
	return c.sm.current()
}

// Credentials returns a snapshot of the stored credentials, or nil before
// pairing.
func (c *Client) Credentials() *store.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.Clone()
}

// RegistrationID returns the registration id, or zero before pairing.
func (c *Client) RegistrationID() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return 0
	}
	return c.creds.RegistrationID
}

// Connect opens the socket, runs the handshake, and either resumes the
// session (registered credentials) or starts pairing. On retryable
// failure a reconnect is scheduled before the error is returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.attempt = 0
	c.mu.Unlock()

	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	if err := c.transitionTo(StateConnecting, ReasonNone); err != nil {
		return err
	}

	conn, err := c.dial(ctx, c.opts.Endpoint)
	if err != nil {
		reason := classifyConnectError(err)
		c.closeWith(reason, false)
		c.maybeReconnect(reason)
		return fmt.Errorf("dialing %s: %w", c.opts.Endpoint, err)
	}

	if err := c.transitionTo(StateHandshaking, ReasonNone); err != nil {
		conn.Close()
		return err
	}

	result, err := c.performHandshake(ctx, conn)
	if err != nil {
		conn.Close()
		reason := classifyConnectError(err)
		c.closeWith(reason, false)
		c.maybeReconnect(reason)
		return fmt.Errorf("handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.codec = transport.NewFrameCodec(conn)
	c.keys = result.Keys
	registered := c.creds != nil && c.creds.Registered
	c.mu.Unlock()

	if registered {
		if err := c.establishSession(result); err != nil {
			conn.Close()
			c.closeWith(ReasonBadSession, false)
			return fmt.Errorf("resuming session: %w", err)
		}
		if err := c.transitionTo(StateOpen, ReasonNone); err != nil {
			conn.Close()
			return err
		}
		c.mu.Lock()
		c.attempt = 0
		c.mu.Unlock()
		go c.readLoop(conn)
		return nil
	}

	if err := c.transitionTo(StatePairing, ReasonNone); err != nil {
		conn.Close()
		return err
	}
	go c.readLoop(conn)
	return c.beginPairing(ctx, result)
}

// performHandshake selects IK when a server static is already known and XX
// for first contact, then runs the Noise exchange over the raw socket.
func (c *Client) performHandshake(ctx context.Context, conn io.ReadWriter) (*noise.Result, error) {
	c.mu.Lock()
	var static [32]byte
	var peerStatic []byte
	if c.creds != nil && c.creds.Registered {
		static = c.creds.IdentityKey.Private
		peerStatic = append([]byte(nil), c.creds.ServerStatic...)
	}
	c.mu.Unlock()

	if static == ([32]byte{}) {
		// First contact runs on a throwaway static key. The durable
		// identity is generated during pairing.
		pair, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		static = pair.Private
	}

	engine, err := noise.NewEngine(noise.Config{
		Role:       noise.Initiator,
		StaticPriv: static,
		PeerStatic: peerStatic,
		Authority:  c.opts.Authority,
		Platform:   c.opts.Platform,
		Timeout:    c.opts.HandshakeTimeout,
	})
	if err != nil {
		return nil, err
	}
	return engine.Perform(ctx, conn)
}

// establishSession resumes the stored ratchet for the peer, or derives a
// fresh one from the identity key and the peer's authenticated static.
func (c *Client) establishSession(result *noise.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var remote [32]byte
	copy(remote[:], result.RemoteStatic)
	key := hex.EncodeToString(result.RemoteStatic)

	if st, ok := c.creds.Sessions[key]; ok {
		c.sess = session.Resume(st.Clone(), c.opts.MaxSkippedKeys)
	} else {
		secret, err := c.creds.IdentityKey.SharedSecret(remote)
		if err != nil {
			return err
		}
		sess, err := session.NewInitiator(secret, remote, c.opts.MaxSkippedKeys)
		if err != nil {
			return err
		}
		c.sess = sess
	}
	c.sessKey = key

	if len(c.creds.ServerStatic) == 0 {
		c.creds.ServerStatic = append([]byte(nil), result.RemoteStatic...)
	}
	c.persistSessionLocked()
	return nil
}

// beginPairing requests a reference through the live connection and leaves
// the client in StatePairing until the peer's confirmation arrives.
func (c *Client) beginPairing(ctx context.Context, result *noise.Result) error {
	mgr, err := pairing.NewManager(pairing.Config{
		Mode:       c.opts.PairingMode,
		MaxRetries: c.opts.PairingRetries,
		Authority:  c.opts.Authority,
		Platform:   c.opts.Platform,
		Store:      c.opts.Store,
		Requester:  &transportRequester{client: c},
		Bus:        c.bus,
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pairMgr = mgr
	// Remember the peer static so the post-pairing session can bind to it.
	if c.creds == nil {
		c.creds = &store.Credentials{}
	}
	c.creds.ServerStatic = append([]byte(nil), result.RemoteStatic...)
	c.mu.Unlock()

	if _, err := mgr.Begin(ctx); err != nil {
		return fmt.Errorf("starting pairing: %w", err)
	}
	return nil
}

// RotatePairing replaces an expired pairing reference, consuming one retry.
func (c *Client) RotatePairing(ctx context.Context) (*pairing.Reference, error) {
	c.mu.Lock()
	mgr := c.pairMgr
	c.mu.Unlock()
	if mgr == nil {
		return nil, pairing.ErrNotPairing
	}
	return mgr.Rotate(ctx)
}

// PairingReference returns the outstanding reference, or nil.
func (c *Client) PairingReference() *pairing.Reference {
	c.mu.Lock()
	mgr := c.pairMgr
	c.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Reference()
}

// Send encrypts payload through the ratchet and writes it as one transport
// frame. The advanced ratchet state is durable before Send returns, so a
// crash cannot roll the chain backwards past an acknowledged message.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	state, _ := c.sm.current()
	if state != StateOpen || c.sess == nil {
		c.mu.Unlock()
		return ErrNotOpen
	}

	env, err := c.sess.Encrypt(payload)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("encrypting message: %w", err)
	}
	c.persistSessionLocked()

	data, err := encodeEnvelope(&wireEnvelope{Type: wireTypeMessage, Message: env})
	if err != nil {
		c.mu.Unlock()
		return err
	}
	err = c.writeFrameLocked(data)
	c.mu.Unlock()
	if err != nil {
		c.closeWith(ReasonNetworkError, false)
		c.maybeReconnect(ReasonNetworkError)
		return err
	}

	return c.writer.Flush(ctx)
}

// writeFrameLocked seals and writes a wire envelope. Caller holds c.mu.
func (c *Client) writeFrameLocked(plaintext []byte) error {
	if c.keys == nil || c.codec == nil {
		return ErrNotOpen
	}
	sealed, err := c.keys.EncryptFrame(plaintext)
	if err != nil {
		return err
	}
	return c.codec.WriteFrame(sealed)
}

// persistSessionLocked snapshots the ratchet into credentials and enqueues
// a debounced write. Caller holds c.mu.
func (c *Client) persistSessionLocked() {
	if c.creds == nil || c.sess == nil || c.sessKey == "" {
		return
	}
	if c.creds.Sessions == nil {
		c.creds.Sessions = make(map[string]*session.State)
	}
	c.creds.Sessions[c.sessKey] = c.sess.Snapshot()
	c.writer.Enqueue(c.creds)
}

// readLoop drains frames from one physical connection until it fails or is
// replaced. It is the only reader of the socket.
func (c *Client) readLoop(conn io.ReadWriteCloser) {
	c.mu.Lock()
	codec := c.codec
	keys := c.keys
	c.mu.Unlock()

	for {
		frame, err := codec.ReadFrame()
		if err != nil {
			c.handleReadFailure(conn, err)
			return
		}
		plain, err := keys.DecryptFrame(frame)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"package":  "wasock",
				"error":    err,
			}).Warn("transport frame rejected")
			c.handleReadFailure(conn, err)
			return
		}
		env, err := decodeEnvelope(plain)
		if err != nil {
			c.handleReadFailure(conn, err)
			return
		}
		if done := c.dispatch(env); done {
			return
		}
	}
}

// dispatch handles one decoded envelope. It returns true when the
// connection is finished and the read loop should exit.
func (c *Client) dispatch(env *wireEnvelope) bool {
	switch env.Type {
	case wireTypeMessage:
		c.handleMessage(env.Message)
		return false
	case wireTypePairingReference:
		if env.Pairing != nil {
			select {
			case c.pairRefC <- *env.Pairing:
			default:
			}
		}
		return false
	case wireTypePairingConfirm:
		c.handlePairingConfirm(env.Pairing)
		return false
	case wireTypeClose:
		reason := ReasonUnknown
		if env.Close != nil {
			reason = reasonFromWire(env.Close.Reason)
		}
		c.closeWith(reason, false)
		c.maybeReconnect(reason)
		return true
	default:
		logrus.WithFields(logrus.Fields{
			"function": "dispatch",
			"package":  "wasock",
			"type":     env.Type,
		}).Debug("ignoring unknown envelope type")
		return false
	}
}

// handleMessage runs one ratchet decryption. Failures are per-message and
// reported without tearing the connection down, unless the session crosses
// the bad-session threshold.
func (c *Client) handleMessage(env *session.Envelope) {
	if env == nil {
		return
	}
	c.mu.Lock()
	if c.sess == nil {
		c.mu.Unlock()
		return
	}
	plain, err := c.sess.Decrypt(env)
	if err == nil {
		c.persistSessionLocked()
	}
	bad := c.sess.Bad()
	cb := c.msgCb
	c.mu.Unlock()

	if err != nil {
		c.bus.Publish(event.Event{Name: event.DecryptFailure, Payload: err})
		logrus.WithFields(logrus.Fields{
			"function": "handleMessage",
			"package":  "wasock",
			"error":    err,
		}).Warn("message decryption failed")
		if bad {
			c.closeWith(ReasonBadSession, false)
		}
		return
	}
	if cb != nil {
		cb(plain)
	}
}

// handlePairingConfirm finishes pairing: the manager verifies and persists,
// then the client reloads credentials and promotes the connection to Open.
func (c *Client) handlePairingConfirm(p *wirePairing) {
	c.mu.Lock()
	mgr := c.pairMgr
	c.mu.Unlock()
	if mgr == nil || p == nil {
		return
	}

	err := mgr.Confirm(context.Background(), pairing.Confirmation{
		DeviceID:     p.DeviceID,
		Platform:     p.Platform,
		Signature:    p.Signature,
		ServerStatic: p.ServerStatic,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePairingConfirm",
			"package":  "wasock",
			"error":    err,
		}).Warn("pairing confirmation failed")
		return
	}

	creds, err := c.opts.Store.Load()
	if err != nil || creds == nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePairingConfirm",
			"package":  "wasock",
			"error":    err,
		}).Error("reloading paired credentials failed")
		return
	}

	c.mu.Lock()
	serverStatic := c.creds.ServerStatic
	c.creds = creds
	if len(c.creds.ServerStatic) == 0 {
		c.creds.ServerStatic = serverStatic
	}
	remoteStatic := append([]byte(nil), c.creds.ServerStatic...)
	c.mu.Unlock()

	if err := c.establishSession(&noise.Result{RemoteStatic: remoteStatic}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "handlePairingConfirm",
			"package":  "wasock",
			"error":    err,
		}).Error("establishing paired session failed")
		return
	}
	if err := c.transitionTo(StateOpen, ReasonNone); err != nil {
		return
	}
	c.mu.Lock()
	c.attempt = 0
	c.mu.Unlock()
}

// handleReadFailure tears down after a socket or framing error, unless the
// closure was already initiated locally.
func (c *Client) handleReadFailure(conn io.ReadWriteCloser, err error) {
	c.mu.Lock()
	stale := c.conn != conn || c.closed
	c.mu.Unlock()
	if stale {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "handleReadFailure",
		"package":  "wasock",
		"error":    err,
	}).Info("connection read failed")
	c.closeWith(ReasonNetworkError, false)
	c.maybeReconnect(ReasonNetworkError)
}

// transitionTo applies a state transition and publishes the update.
func (c *Client) transitionTo(state ConnectionState, reason DisconnectReason) error {
	if err := c.sm.transition(state, reason); err != nil {
		return err
	}
	c.bus.Publish(event.Event{
		Name:    event.ConnectionUpdate,
		Payload: ConnectionUpdate{State: state, Reason: reason},
	})
	return nil
}

// closeWith releases the connection resources and moves to Closed. The
// orderly flag routes through Closing first.
func (c *Client) closeWith(reason DisconnectReason, orderly bool) {
	c.mu.Lock()
	state, _ := c.sm.current()
	if state == StateClosed {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	keys := c.keys
	c.conn = nil
	c.codec = nil
	c.keys = nil
	c.sess = nil
	c.mu.Unlock()

	if orderly && transitionAllowed(state, StateClosing) {
		c.transitionTo(StateClosing, ReasonNone)
	}
	if conn != nil {
		conn.Close()
	}
	if keys != nil {
		keys.Destroy()
	}
	cur, _ := c.sm.current()
	if cur != StateClosed {
		c.transitionTo(StateClosed, reason)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.writer.Flush(flushCtx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "closeWith",
			"package":  "wasock",
			"error":    err,
		}).Error("flushing credentials on close failed")
	}
}

// maybeReconnect schedules an automatic reconnect when the reason's policy
// allows it. Attempts are serialized: a pending timer suppresses further
// scheduling.
func (c *Client) maybeReconnect(reason DisconnectReason) {
	if reason.Policy() != PolicyReconnect {
		return
	}
	c.mu.Lock()
	if c.closed || c.rtimer != nil {
		c.mu.Unlock()
		return
	}
	delay := c.opts.ReconnectBackoff.Delay(c.attempt)
	c.attempt++
	c.rtimer = time.AfterFunc(delay, c.reconnect)
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "maybeReconnect",
		"package":  "wasock",
		"delay":    delay,
		"reason":   reason.String(),
	}).Info("reconnect scheduled")
}

func (c *Client) reconnect() {
	c.mu.Lock()
	c.rtimer = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout+30*time.Second)
	defer cancel()
	if err := c.connect(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reconnect",
			"package":  "wasock",
			"error":    err,
		}).Warn("reconnect attempt failed")
	}
}

// Close shuts the client down with Closed(UserClosed). It cancels any
// pending reconnect, flushes credentials, and releases the event bus.
func (c *Client) Close() error {
	return c.shutdown(ReasonUserClosed)
}

// Logout closes terminally with Closed(LoggedOut). No reconnect will ever
// be scheduled; the caller must re-pair to come back.
func (c *Client) Logout() error {
	return c.shutdown(ReasonLoggedOut)
}

func (c *Client) shutdown(reason DisconnectReason) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.closed = true
	if c.rtimer != nil {
		c.rtimer.Stop()
		c.rtimer = nil
	}
	c.mu.Unlock()

	c.closeWith(reason, true)

	err := c.writer.Close()
	c.bus.Close()

	logrus.WithFields(logrus.Fields{
		"function": "shutdown",
		"package":  "wasock",
		"reason":   reason.String(),
	}).Info("client shut down")
	return err
}

// classifyConnectError maps dial and handshake failures onto the
// disconnect taxonomy. Fatal handshake failures (signature, malformed)
// cannot succeed on a re-dial with the same static key and authority, so
// they surface like a bad session and leave the decision to the caller.
func classifyConnectError(err error) DisconnectReason {
	var hsErr *noise.HandshakeError
	if errors.As(err, &hsErr) {
		if hsErr.Reason.Retryable() {
			return ReasonTimeout
		}
		return ReasonBadSession
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonNetworkError
}

// transportRequester obtains pairing references through the live encrypted
// connection.
type transportRequester struct {
	client *Client
}

func (r *transportRequester) RequestReference(ctx context.Context, identity [32]byte) (string, time.Time, error) {
	c := r.client

	data, err := encodeEnvelope(&wireEnvelope{
		Type:    wireTypePairingRequest,
		Pairing: &wirePairing{IdentityKey: identity[:]},
	})
	if err != nil {
		return "", time.Time{}, err
	}
	c.mu.Lock()
	err = c.writeFrameLocked(data)
	c.mu.Unlock()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("requesting pairing reference: %w", err)
	}

	select {
	case ref := <-c.pairRefC:
		return ref.Payload, time.Unix(ref.ExpiresAt, 0), nil
	case <-ctx.Done():
		return "", time.Time{}, ctx.Err()
	}
}
