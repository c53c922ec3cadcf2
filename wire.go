package wasock

import (
	"encoding/json"
	"fmt"

	"github.com/opd-ai/wasock/crypto"
	"github.com/opd-ai/wasock/session"
)

// Wire envelope types carried inside encrypted transport frames.
const (
	wireTypeMessage          = "msg"
	wireTypePairingRequest   = "pairing.request"
	wireTypePairingReference = "pairing.reference"
	wireTypePairingConfirm   = "pairing.confirm"
	wireTypeClose            = "close"
)

// wireEnvelope is the top-level JSON structure exchanged once transport
// keys are live. Exactly one of the optional bodies is set, selected by
// Type.
type wireEnvelope struct {
	Type    string            `json:"type"`
	Message *session.Envelope `json:"message,omitempty"`
	Pairing *wirePairing      `json:"pairing,omitempty"`
	Close   *wireClose        `json:"close,omitempty"`
}

// wirePairing carries pairing request, reference, and confirmation bodies.
type wirePairing struct {
	IdentityKey  []byte           `json:"identity_key,omitempty"`
	Payload      string           `json:"payload,omitempty"`
	ExpiresAt    int64            `json:"expires_at,omitempty"`
	DeviceID     string           `json:"device_id,omitempty"`
	Platform     string           `json:"platform,omitempty"`
	Signature    crypto.Signature `json:"signature,omitempty"`
	ServerStatic []byte           `json:"server_static,omitempty"`
}

// wireClose announces an orderly closure with a reason tag.
type wireClose struct {
	Reason string `json:"reason"`
}

func encodeEnvelope(env *wireEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding wire envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(data []byte) (*wireEnvelope, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding wire envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("wire envelope missing type")
	}
	return &env, nil
}

// reasonFromWire maps a peer-announced close reason onto the local
// taxonomy. Unrecognized tags collapse to ReasonUnknown.
func reasonFromWire(tag string) DisconnectReason {
	switch tag {
	case "stream_replaced":
		return ReasonStreamReplaced
	case "restart_required":
		return ReasonRestartRequired
	case "multidevice_mismatch":
		return ReasonMultideviceMismatch
	case "bad_session":
		return ReasonBadSession
	case "logged_out":
		return ReasonLoggedOut
	case "conflicting_session":
		return ReasonConflictingSession
	default:
		return ReasonUnknown
	}
}
