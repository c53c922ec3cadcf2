package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Chain-key derivation constants. A chain key advances with 0x02 and yields
// the message key for its current position with 0x01, so the two outputs can
// never collide.
var (
	messageKeySeed = []byte{0x01}
	chainKeySeed   = []byte{0x02}
)

// DeriveKeys runs HKDF-SHA256 over a secret and fills out with derived key
// material. salt and info may be nil.
func DeriveKeys(secret, salt, info []byte, out []byte) error {
	if len(secret) == 0 {
		return errors.New("empty secret")
	}
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, out); err != nil {
		return err
	}
	return nil
}

// KDFRootKey derives a new root key and chain key from the current root key
// and a Diffie-Hellman output, per the double-ratchet root chain.
func KDFRootKey(rootKey, dhOut [32]byte) (newRoot, chainKey [32]byte, err error) {
	buf := make([]byte, 64)
	if err = DeriveKeys(dhOut[:], rootKey[:], []byte("wasock-root"), buf); err != nil {
		return
	}
	copy(newRoot[:], buf[:32])
	copy(chainKey[:], buf[32:])
	return
}

// KDFChainKey advances a chain key one step and derives the message key for
// the current position.
func KDFChainKey(chainKey [32]byte) (nextChain, messageKey [32]byte) {
	copy(messageKey[:], hmacSHA256(chainKey[:], messageKeySeed))
	copy(nextChain[:], hmacSHA256(chainKey[:], chainKeySeed))
	return
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
