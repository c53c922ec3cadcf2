package session

import (
	"github.com/opd-ai/wasock/crypto"
)

// DefaultMaxSkipped is the default skipped-key cache capacity, bounding
// both memory use and out-of-order tolerance.
const DefaultMaxSkipped = 1000

// Header travels with every envelope and tells the receiver which chain
// and position the message key belongs to.
type Header struct {
	RatchetPub [32]byte `json:"ratchet_pub"`
	PrevCount  uint32   `json:"prev_count"`
	Counter    uint32   `json:"counter"`
}

// Envelope is one ratchet-encrypted message.
type Envelope struct {
	Header     Header `json:"header"`
	Ciphertext []byte `json:"ciphertext"`
}

// SkippedKey caches a message key for a not-yet-seen counter so bounded
// out-of-order delivery still decrypts. Entries are appended in derivation
// order; eviction drops the oldest first.
type SkippedKey struct {
	RatchetPub [32]byte `json:"ratchet_pub"`
	Counter    uint32   `json:"counter"`
	MessageKey [32]byte `json:"message_key"`
}

// State is the full serializable ratchet state for one remote party.
// Counters only ever move forward; persisting and restoring this value
// must never rewind them.
type State struct {
	// DHPriv/DHPub form our current ratchet key pair.
	DHPriv [32]byte `json:"dh_priv"`
	DHPub  [32]byte `json:"dh_pub"`

	// RemotePub is the last ratchet key received from the peer. Zero
	// until the first message arrives (responder side).
	RemotePub    [32]byte `json:"remote_pub"`
	HasRemotePub bool     `json:"has_remote_pub"`

	// RootKey advances on every DH ratchet step.
	RootKey [32]byte `json:"root_key"`

	// SendChain/RecvChain are the symmetric chain keys. HasSendChain /
	// HasRecvChain track whether they are established yet.
	SendChain    [32]byte `json:"send_chain"`
	HasSendChain bool     `json:"has_send_chain"`
	RecvChain    [32]byte `json:"recv_chain"`
	HasRecvChain bool     `json:"has_recv_chain"`

	// SendCount/RecvCount are the per-direction message counters for the
	// current chains. PrevSendCount is the sending-chain length before
	// the last DH ratchet step.
	SendCount     uint32 `json:"send_count"`
	RecvCount     uint32 `json:"recv_count"`
	PrevSendCount uint32 `json:"prev_send_count"`

	// Skipped is the bounded out-of-order key cache, oldest first.
	Skipped []SkippedKey `json:"skipped,omitempty"`

	// RetiredPubs remembers recent previous remote ratchet keys so a
	// replay from a torn-down chain classifies as a duplicate instead of
	// an authentication failure. Oldest first, capped.
	RetiredPubs [][32]byte `json:"retired_pubs,omitempty"`
}

// maxRetiredPubs caps the retired ratchet key memory.
const maxRetiredPubs = 4

// retirePub records a remote ratchet key that was replaced by a DH step.
func (s *State) retirePub(pub [32]byte) {
	s.RetiredPubs = append(s.RetiredPubs, pub)
	if len(s.RetiredPubs) > maxRetiredPubs {
		s.RetiredPubs = append([][32]byte(nil), s.RetiredPubs[len(s.RetiredPubs)-maxRetiredPubs:]...)
	}
}

// isRetired reports whether pub belonged to an already-replaced chain.
func (s *State) isRetired(pub [32]byte) bool {
	for _, p := range s.RetiredPubs {
		if p == pub {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State { return s.clone() }

// clone returns a deep copy so decryption can work on tentative state and
// only commit on success.
func (s *State) clone() *State {
	c := *s
	c.Skipped = append([]SkippedKey(nil), s.Skipped...)
	c.RetiredPubs = append([][32]byte(nil), s.RetiredPubs...)
	return &c
}

// takeSkipped removes and returns the cached key for (pub, counter).
func (s *State) takeSkipped(pub [32]byte, counter uint32) (key [32]byte, ok bool) {
	for i, entry := range s.Skipped {
		if entry.RatchetPub == pub && entry.Counter == counter {
			key = entry.MessageKey
			s.Skipped = append(s.Skipped[:i], s.Skipped[i+1:]...)
			return key, true
		}
	}
	return key, false
}

// seenChain reports whether any cached key still references pub.
func (s *State) seenChain(pub [32]byte) bool {
	for _, entry := range s.Skipped {
		if entry.RatchetPub == pub {
			return true
		}
	}
	return false
}

// addSkipped appends a skipped key, evicting the oldest entries beyond
// maxSkipped.
func (s *State) addSkipped(pub [32]byte, counter uint32, key [32]byte, maxSkipped int) {
	s.Skipped = append(s.Skipped, SkippedKey{RatchetPub: pub, Counter: counter, MessageKey: key})
	if over := len(s.Skipped) - maxSkipped; over > 0 {
		for i := 0; i < over; i++ {
			crypto.ZeroBytes(s.Skipped[i].MessageKey[:])
		}
		s.Skipped = append([]SkippedKey(nil), s.Skipped[over:]...)
	}
}
