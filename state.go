package wasock

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectionState models the lifecycle of the single logical connection.
type ConnectionState int

const (
	// StateIdle is the initial state before the first Connect.
	StateIdle ConnectionState = iota
	// StateConnecting means the socket is being opened.
	StateConnecting
	// StateHandshaking means the socket is up and the Noise exchange is
	// running.
	StateHandshaking
	// StatePairing means the handshake succeeded but the device holds no
	// registered credentials and is waiting for authorization.
	StatePairing
	// StateOpen means encrypted traffic can flow.
	StateOpen
	// StateClosing means an orderly shutdown is in progress.
	StateClosing
	// StateClosed means the connection is down. The disconnect reason
	// determines whether a reconnect is scheduled.
	StateClosed
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StatePairing:
		return "pairing"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DisconnectReason tags every transition into StateClosed.
type DisconnectReason int

const (
	// ReasonNone means the connection has not closed.
	ReasonNone DisconnectReason = iota
	// ReasonNetworkError covers socket-level read/write failures.
	ReasonNetworkError
	// ReasonTimeout covers dial or handshake deadline expiry.
	ReasonTimeout
	// ReasonStreamReplaced means another client took over the stream.
	ReasonStreamReplaced
	// ReasonRestartRequired means the peer asked for a clean reconnect.
	ReasonRestartRequired
	// ReasonMultideviceMismatch means the peer's device registry
	// disagrees with ours.
	ReasonMultideviceMismatch
	// ReasonBadSession means ratchet decryption failed repeatedly.
	ReasonBadSession
	// ReasonLoggedOut means the account unlinked this device.
	ReasonLoggedOut
	// ReasonConflictingSession means a concurrent login raced ours.
	ReasonConflictingSession
	// ReasonUserClosed means the application called Close.
	ReasonUserClosed
	// ReasonUnknown covers unclassified closures.
	ReasonUnknown
)

// String returns a human-readable reason name.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNetworkError:
		return "network_error"
	case ReasonTimeout:
		return "timeout"
	case ReasonStreamReplaced:
		return "stream_replaced"
	case ReasonRestartRequired:
		return "restart_required"
	case ReasonMultideviceMismatch:
		return "multidevice_mismatch"
	case ReasonBadSession:
		return "bad_session"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonConflictingSession:
		return "conflicting_session"
	case ReasonUserClosed:
		return "user_closed"
	default:
		return "unknown"
	}
}

// ReconnectPolicy classifies what the machine does after a closure.
type ReconnectPolicy int

const (
	// PolicyReconnect schedules an automatic reconnect with backoff.
	PolicyReconnect ReconnectPolicy = iota
	// PolicyTerminal stops the machine; only an explicit external action
	// restarts it.
	PolicyTerminal
	// PolicySurface emits the closure and leaves the decision to the
	// caller. Often the right next step is credential invalidation,
	// which the core does not decide unilaterally.
	PolicySurface
)

// Policy returns the reconnect policy for a disconnect reason.
func (r DisconnectReason) Policy() ReconnectPolicy {
	switch r {
	case ReasonNetworkError, ReasonTimeout, ReasonRestartRequired,
		ReasonConflictingSession, ReasonUnknown:
		return PolicyReconnect
	case ReasonLoggedOut, ReasonUserClosed:
		return PolicyTerminal
	default:
		return PolicySurface
	}
}

// validTransitions is the explicit transition table. A transition absent
// here is a programming error, not a recoverable condition.
var validTransitions = map[ConnectionState][]ConnectionState{
	StateIdle:        {StateConnecting, StateClosed},
	StateConnecting:  {StateHandshaking, StateClosing, StateClosed},
	StateHandshaking: {StatePairing, StateOpen, StateClosing, StateClosed},
	StatePairing:     {StateOpen, StateClosing, StateClosed},
	StateOpen:        {StateClosing, StateClosed},
	StateClosing:     {StateClosed},
	StateClosed:      {StateConnecting},
}

// ConnectionUpdate is the payload of connection.update events.
type ConnectionUpdate struct {
	State  ConnectionState
	Reason DisconnectReason
}

// stateMachine serializes connection state transitions. Terminal closures
// latch: once closed with a PolicyTerminal reason, only Reset reopens it.
type stateMachine struct {
	mu       sync.Mutex
	state    ConnectionState
	reason   DisconnectReason
	terminal bool
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateIdle, reason: ReasonNone}
}

// current returns the state and the reason of the last closure.
func (m *stateMachine) current() (ConnectionState, DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.reason
}

// transition moves the machine to a new state, validating against the
// transition table. Closing transitions record the reason; a terminal
// reason latches the machine shut.
func (m *stateMachine) transition(to ConnectionState, reason DisconnectReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminal && to == StateConnecting {
		return fmt.Errorf("connection terminally closed (%s)", m.reason)
	}
	if !transitionAllowed(m.state, to) {
		return fmt.Errorf("invalid transition %s -> %s", m.state, to)
	}

	logrus.WithFields(logrus.Fields{
		"function": "transition",
		"package":  "wasock",
		"from":     m.state.String(),
		"to":       to.String(),
		"reason":   reason.String(),
	}).Debug("connection state transition")

	m.state = to
	if to == StateClosed {
		m.reason = reason
		if reason.Policy() == PolicyTerminal {
			m.terminal = true
		}
	} else if to == StateConnecting {
		m.reason = ReasonNone
	}
	return nil
}

// reset clears a terminal latch so a fresh pairing can reconnect.
func (m *stateMachine) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateIdle
	m.reason = ReasonNone
	m.terminal = false
}

func transitionAllowed(from, to ConnectionState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Backoff computes reconnect delays: exponential from Base, capped at Max,
// with a random jitter fraction added so many sessions reconnecting at once
// spread out.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before reconnect attempt n (zero-based). The
// deterministic part is non-decreasing in n.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max {
			d = b.Max
			break
		}
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(rand.Float64() * b.Jitter * float64(d))
	}
	return d
}
