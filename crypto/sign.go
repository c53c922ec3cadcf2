package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// SignatureSize is the size of an Ed25519 signature in bytes.
const SignatureSize = ed25519.SignatureSize

// Signature represents an Ed25519 signature.
type Signature [SignatureSize]byte

// SigningKeyPair holds an Ed25519 seed and its public key. The seed form is
// used so the pair round-trips through the credential store as two fixed
// 32-byte values.
type SigningKeyPair struct {
	Public [32]byte
	Seed   [32]byte
}

// GenerateSigningKeyPair creates a new random Ed25519 signing key pair.
func GenerateSigningKeyPair() (*SigningKeyPair, error) {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}
	return SigningFromSeed(seed)
}

// SigningFromSeed reconstructs a signing key pair from a stored seed.
func SigningFromSeed(seed [32]byte) (*SigningKeyPair, error) {
	if isZeroKey(seed) {
		return nil, errors.New("invalid signing seed: all zeros")
	}
	priv := ed25519.NewKeyFromSeed(seed[:])
	kp := &SigningKeyPair{Seed: seed}
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// Sign creates an Ed25519 signature for a message.
func (kp *SigningKeyPair) Sign(message []byte) (Signature, error) {
	if len(message) == 0 {
		return Signature{}, errors.New("empty message")
	}
	priv := ed25519.NewKeyFromSeed(kp.Seed[:])
	var sig Signature
	copy(sig[:], ed25519.Sign(priv, message))
	return sig, nil
}

// Verify checks if a signature is valid for a message and public key.
func Verify(message []byte, signature Signature, publicKey [32]byte) (bool, error) {
	if len(message) == 0 {
		return false, errors.New("empty message")
	}
	return ed25519.Verify(publicKey[:], message, signature[:]), nil
}
