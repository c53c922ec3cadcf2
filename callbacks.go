package wasock

import (
	"github.com/opd-ai/wasock/event"
	"github.com/opd-ai/wasock/pairing"
	"github.com/opd-ai/wasock/store"
)

// ConnectionStateCallback is invoked on every connection state transition.
type ConnectionStateCallback func(state ConnectionState, reason DisconnectReason)

// CredentialsCallback is invoked when credentials change durably.
type CredentialsCallback func(creds *store.Credentials)

// PairingCallback is invoked on pairing progress, including reference
// rotation.
type PairingCallback func(update pairing.Update)

// DecryptFailureCallback is invoked for per-message decryption failures.
// These are informational; the connection survives unless the session
// crosses the bad-session threshold.
type DecryptFailureCallback func(err error)

// MessageCallback is invoked with each decrypted inbound payload.
type MessageCallback func(payload []byte)

// OnConnectionState registers a callback for connection state changes. The
// returned function unregisters it. A late subscriber immediately receives
// the most recent transition.
func (c *Client) OnConnectionState(callback ConnectionStateCallback) func() {
	return c.bus.Subscribe(func(evt event.Event) {
		if u, ok := evt.Payload.(ConnectionUpdate); ok {
			callback(u.State, u.Reason)
		}
	}, event.ConnectionUpdate)
}

// OnCredentials registers a callback for durable credential updates.
func (c *Client) OnCredentials(callback CredentialsCallback) func() {
	return c.bus.Subscribe(func(evt event.Event) {
		if creds, ok := evt.Payload.(*store.Credentials); ok {
			callback(creds)
		}
	}, event.CredsUpdate)
}

// OnPairing registers a callback for pairing updates.
func (c *Client) OnPairing(callback PairingCallback) func() {
	return c.bus.Subscribe(func(evt event.Event) {
		if u, ok := evt.Payload.(pairing.Update); ok {
			callback(u)
		}
	}, event.PairingUpdate)
}

// OnDecryptFailure registers a callback for message decryption failures.
// Delivery is best-effort: a lagging subscriber misses events rather than
// stalling the read loop.
func (c *Client) OnDecryptFailure(callback DecryptFailureCallback) func() {
	return c.bus.Subscribe(func(evt event.Event) {
		if err, ok := evt.Payload.(error); ok {
			callback(err)
		}
	}, event.DecryptFailure)
}

// OnMessage sets the handler for decrypted inbound payloads. It runs on
// the connection's read goroutine, so it must not block.
func (c *Client) OnMessage(callback MessageCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgCb = callback
}
