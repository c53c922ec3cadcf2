package wasock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	sm := newStateMachine()

	for _, next := range []ConnectionState{
		StateConnecting, StateHandshaking, StatePairing, StateOpen,
		StateClosing, StateClosed,
	} {
		require.NoError(t, sm.transition(next, ReasonUserClosed))
	}

	state, reason := sm.current()
	assert.Equal(t, StateClosed, state)
	assert.Equal(t, ReasonUserClosed, reason)
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	sm := newStateMachine()

	err := sm.transition(StateOpen, ReasonNone)
	assert.Error(t, err)

	state, _ := sm.current()
	assert.Equal(t, StateIdle, state)
}

func TestStateMachineSkipsPairingWhenRegistered(t *testing.T) {
	sm := newStateMachine()

	require.NoError(t, sm.transition(StateConnecting, ReasonNone))
	require.NoError(t, sm.transition(StateHandshaking, ReasonNone))
	require.NoError(t, sm.transition(StateOpen, ReasonNone))
}

func TestLoggedOutIsTerminal(t *testing.T) {
	sm := newStateMachine()

	require.NoError(t, sm.transition(StateConnecting, ReasonNone))
	require.NoError(t, sm.transition(StateClosed, ReasonLoggedOut))

	err := sm.transition(StateConnecting, ReasonNone)
	assert.Error(t, err, "terminal closure must not allow reconnects")

	sm.reset()
	assert.NoError(t, sm.transition(StateConnecting, ReasonNone))
}

func TestNetworkErrorClosureAllowsReconnect(t *testing.T) {
	sm := newStateMachine()

	require.NoError(t, sm.transition(StateConnecting, ReasonNone))
	require.NoError(t, sm.transition(StateClosed, ReasonNetworkError))
	assert.NoError(t, sm.transition(StateConnecting, ReasonNone))
}

func TestReconnectPolicyTable(t *testing.T) {
	tests := []struct {
		reason DisconnectReason
		policy ReconnectPolicy
	}{
		{ReasonNetworkError, PolicyReconnect},
		{ReasonTimeout, PolicyReconnect},
		{ReasonRestartRequired, PolicyReconnect},
		{ReasonConflictingSession, PolicyReconnect},
		{ReasonUnknown, PolicyReconnect},
		{ReasonLoggedOut, PolicyTerminal},
		{ReasonUserClosed, PolicyTerminal},
		{ReasonBadSession, PolicySurface},
		{ReasonMultideviceMismatch, PolicySurface},
		{ReasonStreamReplaced, PolicySurface},
	}

	for _, tt := range tests {
		t.Run(tt.reason.String(), func(t *testing.T) {
			assert.Equal(t, tt.policy, tt.reason.Policy())
		})
	}
}

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 2 * time.Second}

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, b.Max)
		prev = d
	}
	assert.Equal(t, b.Max, b.Delay(20))
}

func TestBackoffJitterBounded(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: 2 * time.Second, Jitter: 0.5}

	for attempt := 0; attempt < 8; attempt++ {
		base := Backoff{Base: b.Base, Max: b.Max}.Delay(attempt)
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, base)
			assert.LessOrEqual(t, d, base+time.Duration(float64(base)*b.Jitter))
		}
	}
}
