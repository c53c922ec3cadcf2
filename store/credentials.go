package store

import (
	"errors"

	"github.com/opd-ai/wasock/crypto"
	"github.com/opd-ai/wasock/session"
)

// PreKey is a one-time prekey published during pairing.
type PreKey struct {
	ID      uint32          `json:"id"`
	KeyPair *crypto.KeyPair `json:"key_pair"`
}

// SignedPreKey is the medium-term prekey, signed by the identity key.
type SignedPreKey struct {
	ID        uint32           `json:"id"`
	KeyPair   *crypto.KeyPair  `json:"key_pair"`
	Signature crypto.Signature `json:"signature"`
}

// Credentials is the durable identity of one paired device. It is owned by
// the credential store: pairing creates it, session ratchet advancement
// mutates it, everyone else reads snapshots.
//
// Once Registered is set the identity key pair never changes, and ratchet
// counters inside Sessions only move forward.
type Credentials struct {
	IdentityKey      *crypto.KeyPair            `json:"identity_key"`
	RegistrationID   uint32                     `json:"registration_id"`
	SignedPreKey     *SignedPreKey              `json:"signed_pre_key"`
	OneTimePreKeys   []PreKey                   `json:"one_time_pre_keys,omitempty"`
	DeviceID         string                     `json:"device_id"`
	Platform         string                     `json:"platform"`
	AccountSignature *crypto.SigningKeyPair     `json:"account_signature"`
	PairingCode      string                     `json:"pairing_code,omitempty"`
	Registered       bool                       `json:"registered"`
	ServerStatic     []byte                     `json:"server_static,omitempty"`
	Sessions         map[string]*session.State  `json:"sessions,omitempty"`
}

// Validate checks the structural invariants a loaded record must satisfy.
func (c *Credentials) Validate() error {
	if c.IdentityKey == nil {
		return errors.New("credentials missing identity key")
	}
	if c.AccountSignature == nil {
		return errors.New("credentials missing account signature key")
	}
	if c.Registered && c.SignedPreKey == nil {
		return errors.New("registered credentials missing signed prekey")
	}
	return nil
}

// Clone returns a deep copy safe to hand to external consumers.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	out := *c
	if c.IdentityKey != nil {
		k := *c.IdentityKey
		out.IdentityKey = &k
	}
	if c.AccountSignature != nil {
		k := *c.AccountSignature
		out.AccountSignature = &k
	}
	if c.SignedPreKey != nil {
		spk := *c.SignedPreKey
		if spk.KeyPair != nil {
			k := *spk.KeyPair
			spk.KeyPair = &k
		}
		out.SignedPreKey = &spk
	}
	out.OneTimePreKeys = make([]PreKey, len(c.OneTimePreKeys))
	for i, pk := range c.OneTimePreKeys {
		out.OneTimePreKeys[i] = pk
		if pk.KeyPair != nil {
			k := *pk.KeyPair
			out.OneTimePreKeys[i].KeyPair = &k
		}
	}
	out.ServerStatic = append([]byte(nil), c.ServerStatic...)
	if c.Sessions != nil {
		out.Sessions = make(map[string]*session.State, len(c.Sessions))
		for name, st := range c.Sessions {
			out.Sessions[name] = st.Clone()
		}
	}
	return &out
}
