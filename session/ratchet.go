package session

import (
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/wasock/crypto"
)

// BadSessionThreshold is how many consecutive authentication failures it
// takes before the session should be considered broken and re-established.
const BadSessionThreshold = 3

// messageKeyInfo labels the HKDF expansion of a message key into AEAD
// key material.
var messageKeyInfo = []byte("wasock-message-key")

// Session is the ratcheting encrypt/decrypt state for one remote party.
// It is owned by the connection actor and must not be shared; external
// consumers only ever see snapshots.
type Session struct {
	state        *State
	maxSkipped   int
	authFailures int
}

// NewInitiator builds a session for the party that sends first. The shared
// secret comes from the pairing exchange; remotePub is the peer's initial
// ratchet public key.
func NewInitiator(sharedSecret [32]byte, remotePub [32]byte, maxSkipped int) (*Session, error) {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	dhOut, err := pair.SharedSecret(remotePub)
	if err != nil {
		return nil, err
	}
	rootKey, sendChain, err := crypto.KDFRootKey(sharedSecret, dhOut)
	if err != nil {
		return nil, err
	}

	state := &State{
		DHPriv:       pair.Private,
		DHPub:        pair.Public,
		RemotePub:    remotePub,
		HasRemotePub: true,
		RootKey:      rootKey,
		SendChain:    sendChain,
		HasSendChain: true,
	}
	return newSession(state, maxSkipped), nil
}

// NewResponder builds a session for the party that receives first. The
// ratchet pair is the one whose public key the initiator used.
func NewResponder(sharedSecret [32]byte, pair *crypto.KeyPair, maxSkipped int) *Session {
	state := &State{
		DHPriv:  pair.Private,
		DHPub:   pair.Public,
		RootKey: sharedSecret,
	}
	return newSession(state, maxSkipped)
}

// Resume rebuilds a session from persisted state, keeping all counters.
func Resume(state *State, maxSkipped int) *Session {
	return newSession(state, maxSkipped)
}

func newSession(state *State, maxSkipped int) *Session {
	if maxSkipped <= 0 {
		maxSkipped = DefaultMaxSkipped
	}
	return &Session{state: state, maxSkipped: maxSkipped}
}

// Snapshot returns a deep copy of the current state for persistence.
func (s *Session) Snapshot() *State { return s.state.clone() }

// ConsecutiveAuthFailures reports how many authentication failures have
// occurred since the last successful decrypt.
func (s *Session) ConsecutiveAuthFailures() int { return s.authFailures }

// Bad reports whether repeated authentication failures crossed the
// re-establish threshold.
func (s *Session) Bad() bool { return s.authFailures >= BadSessionThreshold }

// Encrypt advances the sending chain one step and seals plaintext with the
// derived message key. Message keys are never reused.
func (s *Session) Encrypt(plaintext []byte) (*Envelope, error) {
	if !s.state.HasSendChain {
		if !s.state.HasRemotePub {
			return nil, ErrNoSendingChain
		}
		if err := s.state.dhRatchetSend(); err != nil {
			return nil, err
		}
	}

	var messageKey [32]byte
	s.state.SendChain, messageKey = crypto.KDFChainKey(s.state.SendChain)

	header := Header{
		RatchetPub: s.state.DHPub,
		PrevCount:  s.state.PrevSendCount,
		Counter:    s.state.SendCount,
	}
	s.state.SendCount++

	ciphertext, err := sealMessage(messageKey, plaintext, header)
	crypto.ZeroBytes(messageKey[:])
	if err != nil {
		return nil, err
	}
	return &Envelope{Header: header, Ciphertext: ciphertext}, nil
}

// Decrypt opens an envelope, advancing the receiving chain as needed.
// Out-of-order delivery within the skipped-key window decrypts exactly
// once; anything older is a duplicate, anything further ahead than the
// window is out of window. State mutations only commit on success.
func (s *Session) Decrypt(env *Envelope) ([]byte, error) {
	next := s.state.clone()

	plaintext, err := s.decryptInto(next, env)
	if err != nil {
		var dErr *DecryptError
		if errors.As(err, &dErr) && dErr.Failure == AuthenticationFailure {
			s.authFailures++
		}
		return nil, err
	}

	s.state = next
	s.authFailures = 0
	return plaintext, nil
}

func (s *Session) decryptInto(state *State, env *Envelope) ([]byte, error) {
	header := env.Header

	// Skipped-key cache first: an out-of-order message whose key was
	// already derived decrypts without touching the chains.
	if key, ok := state.takeSkipped(header.RatchetPub, header.Counter); ok {
		plaintext, err := openMessage(key, env.Ciphertext, header)
		crypto.ZeroBytes(key[:])
		if err != nil {
			return nil, newDecryptError(AuthenticationFailure, err)
		}
		return plaintext, nil
	}

	currentChain := state.HasRemotePub && header.RatchetPub == state.RemotePub

	if !currentChain {
		// A replay from a chain that was already ratcheted away. The key
		// material is gone; an evicted cache entry lands here too and is
		// equally unrecoverable.
		if state.isRetired(header.RatchetPub) || state.seenChain(header.RatchetPub) {
			return nil, newDecryptError(DuplicateMessage, nil)
		}

		// New remote ratchet key: close out the old receiving chain,
		// then step both chains.
		if err := s.skipMessageKeys(state, header.PrevCount); err != nil {
			return nil, err
		}
		if err := state.dhRatchetRecv(header.RatchetPub); err != nil {
			return nil, newDecryptError(AuthenticationFailure, err)
		}
	} else if header.Counter < state.RecvCount {
		return nil, newDecryptError(DuplicateMessage, nil)
	}

	if err := s.skipMessageKeys(state, header.Counter); err != nil {
		return nil, err
	}

	var messageKey [32]byte
	state.RecvChain, messageKey = crypto.KDFChainKey(state.RecvChain)
	state.RecvCount++

	plaintext, err := openMessage(messageKey, env.Ciphertext, header)
	crypto.ZeroBytes(messageKey[:])
	if err != nil {
		return nil, newDecryptError(AuthenticationFailure, err)
	}
	return plaintext, nil
}

// skipMessageKeys derives and caches keys for counters up to (not
// including) until, bounded by the window.
func (s *Session) skipMessageKeys(state *State, until uint32) error {
	if !state.HasRecvChain {
		return nil
	}
	if until > state.RecvCount && until-state.RecvCount > uint32(s.maxSkipped) {
		return newDecryptError(OutOfWindow, fmt.Errorf("would skip %d keys, window is %d", until-state.RecvCount, s.maxSkipped))
	}

	for state.RecvCount < until {
		var messageKey [32]byte
		state.RecvChain, messageKey = crypto.KDFChainKey(state.RecvChain)
		state.addSkipped(state.RemotePub, state.RecvCount, messageKey, s.maxSkipped)
		state.RecvCount++
	}
	return nil
}

// dhRatchetRecv installs a new remote ratchet key: derives the new
// receiving chain, then a fresh sending chain under a new local pair.
func (s *State) dhRatchetRecv(remotePub [32]byte) error {
	if s.HasRemotePub {
		s.retirePub(s.RemotePub)
	}
	s.RemotePub = remotePub
	s.HasRemotePub = true
	s.RecvCount = 0

	pair := &crypto.KeyPair{Public: s.DHPub, Private: s.DHPriv}
	dhOut, err := pair.SharedSecret(remotePub)
	if err != nil {
		return err
	}
	rootKey, recvChain, err := crypto.KDFRootKey(s.RootKey, dhOut)
	if err != nil {
		return err
	}
	s.RootKey = rootKey
	s.RecvChain = recvChain
	s.HasRecvChain = true

	return s.dhRatchetSend()
}

// dhRatchetSend starts a fresh sending chain under a newly generated
// ratchet pair.
func (s *State) dhRatchetSend() error {
	pair, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	s.PrevSendCount = s.SendCount
	s.SendCount = 0
	s.DHPriv = pair.Private
	s.DHPub = pair.Public

	dhOut, err := pair.SharedSecret(s.RemotePub)
	if err != nil {
		return err
	}
	rootKey, sendChain, err := crypto.KDFRootKey(s.RootKey, dhOut)
	if err != nil {
		return err
	}
	s.RootKey = rootKey
	s.SendChain = sendChain
	s.HasSendChain = true
	return nil
}

// sealMessage expands a message key into AEAD material and seals the
// plaintext with the serialized header as associated data.
func sealMessage(messageKey [32]byte, plaintext []byte, header Header) ([]byte, error) {
	aead, nonce, err := messageCipher(messageKey)
	if err != nil {
		return nil, err
	}
	ad, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, ad), nil
}

func openMessage(messageKey [32]byte, ciphertext []byte, header Header) ([]byte, error) {
	aead, nonce, err := messageCipher(messageKey)
	if err != nil {
		return nil, err
	}
	ad, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, ad)
}

func messageCipher(messageKey [32]byte) (cipher.AEAD, []byte, error) {
	buf := make([]byte, 32+chacha20poly1305.NonceSize)
	if err := crypto.DeriveKeys(messageKey[:], nil, messageKeyInfo, buf); err != nil {
		return nil, nil, err
	}
	aead, err := chacha20poly1305.New(buf[:32])
	if err != nil {
		return nil, nil, err
	}
	return aead, buf[32:], nil
}
