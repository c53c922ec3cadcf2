package pairing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/wasock/crypto"
	"github.com/opd-ai/wasock/event"
	"github.com/opd-ai/wasock/store"
)

// State identifies where an attempt is in the pairing flow.
type State int

const (
	// StateAwaitingReference means no attempt is in flight.
	StateAwaitingReference State = iota
	// StateReferenceIssued means a reference has been obtained from the
	// peer but not yet shown to the user.
	StateReferenceIssued
	// StateCodeOrScanPending means the reference is displayed and the
	// manager is waiting for the peer's confirmation.
	StateCodeOrScanPending
	// StateAuthorized means pairing completed and credentials were saved.
	StateAuthorized
	// StateFailed means the attempt exhausted its retries or the
	// confirmation was rejected.
	StateFailed
)

// String returns a human-readable name for logging and events.
func (s State) String() string {
	switch s {
	case StateAwaitingReference:
		return "awaiting_reference"
	case StateReferenceIssued:
		return "reference_issued"
	case StateCodeOrScanPending:
		return "code_or_scan_pending"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode selects how the reference is presented to the user.
type Mode int

const (
	// ModeQR renders the reference payload as a scannable image.
	ModeQR Mode = iota
	// ModeCode displays the short linking code for manual entry.
	ModeCode
)

// ReferenceRequester obtains pairing reference material from the peer. The
// device identity public key accompanies the request so the peer can
// countersign it on confirmation. The transport layer implements this
// against the live connection; tests supply a fake.
type ReferenceRequester interface {
	RequestReference(ctx context.Context, identity [32]byte) (payload string, expiresAt time.Time, err error)
}

// Confirmation carries the peer's response to a displayed reference. The
// signature covers the device identity public key and is checked against the
// configured authority.
type Confirmation struct {
	DeviceID     string
	Platform     string
	Signature    crypto.Signature
	ServerStatic []byte
}

// Update is the payload of pairing lifecycle events.
type Update struct {
	State     State
	Reference *Reference
	Err       error
}

// Config parameterizes a pairing manager.
type Config struct {
	Mode       Mode
	MaxRetries int
	Authority  [32]byte
	Platform   string
	Store      store.Store
	Requester  ReferenceRequester
	Bus        *event.Bus
}

const defaultMaxRetries = 5

// prekeyBatch is how many one-time prekeys a fresh identity publishes.
const prekeyBatch = 32

// Manager drives a single pairing attempt at a time. All methods are safe
// for concurrent use.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	state       State
	current     *Reference
	creds       *store.Credentials
	retries     int
	rotateTimer *time.Timer

	// now is overridable in tests.
	now func() time.Time
}

// NewManager creates a pairing manager in the idle state.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("pairing: nil credential store")
	}
	if cfg.Requester == nil {
		return nil, fmt.Errorf("pairing: nil reference requester")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	return &Manager{
		cfg:   cfg,
		state: StateAwaitingReference,
		now:   time.Now,
	}, nil
}

// State returns the current pairing state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reference returns the outstanding reference, or nil when no attempt is in
// flight.
func (m *Manager) Reference() *Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	ref := *m.current
	return &ref
}

// Begin starts a pairing attempt. It generates a fresh device identity,
// requests a reference from the peer, and moves to StateCodeOrScanPending.
// A second call while an attempt is outstanding returns
// ErrPairingInProgress without disturbing the existing reference.
func (m *Manager) Begin(ctx context.Context) (*Reference, error) {
	m.mu.Lock()
	if m.state == StateReferenceIssued || m.state == StateCodeOrScanPending {
		m.mu.Unlock()
		return nil, ErrPairingInProgress
	}
	m.state = StateAwaitingReference
	m.retries = 0
	m.current = nil
	m.mu.Unlock()

	creds, err := freshCredentials(m.cfg.Platform)
	if err != nil {
		return nil, fmt.Errorf("generating pairing identity: %w", err)
	}

	ref, err := m.issueReference(ctx, creds.IdentityKey.Public)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.creds = creds
	m.current = ref
	m.state = StateCodeOrScanPending
	m.scheduleRotationLocked(ref)
	out := *ref
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Begin",
		"package":   "pairing",
		"reference": ref.ID,
		"expires":   ref.ExpiresAt,
	}).Info("pairing reference issued")

	m.publishUpdate(StateCodeOrScanPending, &out, nil)
	return &out, nil
}

// Rotate replaces an expired reference with a freshly requested one. Each
// rotation consumes one retry; exhausting the budget fails the attempt with
// ErrPairingFailed. Calling Rotate while the current reference is still
// valid returns it unchanged. The manager also rotates on its own when a
// reference's TTL passes; Rotate exists for callers that detect expiry
// through other channels.
func (m *Manager) Rotate(ctx context.Context) (*Reference, error) {
	m.mu.Lock()
	if m.state != StateCodeOrScanPending {
		m.mu.Unlock()
		return nil, ErrNotPairing
	}
	if m.current != nil && !m.current.Expired(m.now()) {
		m.scheduleRotationLocked(m.current)
		out := *m.current
		m.mu.Unlock()
		return &out, nil
	}
	if m.retries >= m.cfg.MaxRetries {
		m.state = StateFailed
		m.current = nil
		m.stopRotationLocked()
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Rotate",
			"package":  "pairing",
			"retries":  m.cfg.MaxRetries,
		}).Warn("pairing retry budget exhausted")
		m.publishUpdate(StateFailed, nil, ErrPairingFailed)
		return nil, ErrPairingFailed
	}
	m.retries++
	attempt := m.retries
	identity := m.creds.IdentityKey.Public
	m.mu.Unlock()

	ref, err := m.issueReference(ctx, identity)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = ref
	m.scheduleRotationLocked(ref)
	out := *ref
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Rotate",
		"package":   "pairing",
		"reference": ref.ID,
		"attempt":   attempt,
	}).Info("pairing reference rotated")

	m.publishUpdate(StateCodeOrScanPending, &out, nil)
	return &out, nil
}

// Confirm applies the peer's confirmation of the displayed reference. The
// confirmation signature must verify over the fresh identity public key
// against the configured authority. On success the credentials are marked
// registered and persisted, and exactly one creds.update event is emitted.
func (m *Manager) Confirm(ctx context.Context, conf Confirmation) error {
	m.mu.Lock()
	if m.state != StateCodeOrScanPending || m.creds == nil {
		m.mu.Unlock()
		return ErrNotPairing
	}
	if m.current != nil && m.current.Expired(m.now()) {
		// The rotation timer normally fires first; force it in case the
		// confirmation raced the expiry.
		if m.rotateTimer != nil {
			m.rotateTimer.Reset(0)
		}
		m.mu.Unlock()
		return ErrReferenceExpired
	}
	creds := m.creds
	m.mu.Unlock()

	ok, err := crypto.Verify(creds.IdentityKey.Public[:], conf.Signature, m.cfg.Authority)
	if err != nil || !ok {
		m.mu.Lock()
		m.state = StateFailed
		m.current = nil
		m.stopRotationLocked()
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Confirm",
			"package":  "pairing",
			"device":   conf.DeviceID,
		}).Warn("pairing confirmation signature rejected")
		m.publishUpdate(StateFailed, nil, ErrConfirmationRejected)
		return ErrConfirmationRejected
	}

	m.mu.Lock()
	creds.DeviceID = conf.DeviceID
	if conf.Platform != "" {
		creds.Platform = conf.Platform
	}
	creds.ServerStatic = append([]byte(nil), conf.ServerStatic...)
	if m.current != nil {
		creds.PairingCode = m.current.Code
	}
	creds.Registered = true
	saved := creds.Clone()
	m.mu.Unlock()

	if err := m.cfg.Store.Save(saved); err != nil {
		return fmt.Errorf("persisting paired credentials: %w", err)
	}

	m.mu.Lock()
	m.state = StateAuthorized
	m.current = nil
	m.stopRotationLocked()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Confirm",
		"package":  "pairing",
		"device":   conf.DeviceID,
	}).Info("device authorized")

	if m.cfg.Bus != nil {
		m.cfg.Bus.Publish(event.Event{Name: event.CredsUpdate, Payload: saved})
	}
	m.publishUpdate(StateAuthorized, nil, nil)
	return nil
}

// Credentials returns a copy of the identity generated for the current or
// completed attempt, or nil when none exists.
func (m *Manager) Credentials() *store.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.Clone()
}

// scheduleRotationLocked arms the TTL timer for a freshly issued
// reference. A stale reference is useless to the peer, so rotation on
// expiry is not left to the caller. Caller holds m.mu.
func (m *Manager) scheduleRotationLocked(ref *Reference) {
	if m.rotateTimer != nil {
		m.rotateTimer.Stop()
	}
	delay := ref.ExpiresAt.Sub(m.now())
	if delay < 0 {
		delay = 0
	}
	m.rotateTimer = time.AfterFunc(delay, m.autoRotate)
}

// stopRotationLocked disarms the TTL timer. Caller holds m.mu.
func (m *Manager) stopRotationLocked() {
	if m.rotateTimer != nil {
		m.rotateTimer.Stop()
		m.rotateTimer = nil
	}
}

func (m *Manager) autoRotate() {
	if _, err := m.Rotate(context.Background()); err != nil && !errors.Is(err, ErrNotPairing) {
		logrus.WithFields(logrus.Fields{
			"function": "autoRotate",
			"package":  "pairing",
			"error":    err,
		}).Warn("automatic reference rotation failed")
	}
}

func (m *Manager) issueReference(ctx context.Context, identity [32]byte) (*Reference, error) {
	payload, expiresAt, err := m.cfg.Requester.RequestReference(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("requesting pairing reference: %w", err)
	}
	return newReference(payload, expiresAt)
}

func (m *Manager) publishUpdate(state State, ref *Reference, err error) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Publish(event.Event{
		Name:    event.PairingUpdate,
		Payload: Update{State: state, Reference: ref, Err: err},
	})
}

// freshCredentials builds the full identity a device publishes when it
// pairs: an X25519 identity key, an Ed25519 account signing key, a signed
// prekey, and a batch of one-time prekeys.
func freshCredentials(platform string) (*store.Credentials, error) {
	identity, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	signing, err := crypto.GenerateSigningKeyPair()
	if err != nil {
		return nil, err
	}

	var regBuf [4]byte
	if _, err := rand.Read(regBuf[:]); err != nil {
		return nil, err
	}
	regID := binary.BigEndian.Uint32(regBuf[:])

	spkPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	spkSig, err := signing.Sign(spkPair.Public[:])
	if err != nil {
		return nil, err
	}

	prekeys := make([]store.PreKey, 0, prekeyBatch)
	for i := uint32(1); i <= prekeyBatch; i++ {
		pk, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		prekeys = append(prekeys, store.PreKey{ID: i, KeyPair: pk})
	}

	return &store.Credentials{
		IdentityKey:      identity,
		RegistrationID:   regID,
		AccountSignature: signing,
		SignedPreKey: &store.SignedPreKey{
			ID:        1,
			KeyPair:   spkPair,
			Signature: spkSig,
		},
		OneTimePreKeys: prekeys,
		Platform:       platform,
	}, nil
}
