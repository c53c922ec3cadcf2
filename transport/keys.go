package transport

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/opd-ai/wasock/crypto"
)

// TransportKeys holds the directional symmetric keys produced by a
// successful handshake. Each direction seals with a strictly increasing
// 64-bit nonce counter; the keys live exactly as long as the physical
// connection and are wiped on Destroy.
type TransportKeys struct {
	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD
	sendKey  [32]byte
	recvKey  [32]byte
	sendCtr  uint64
	recvCtr  uint64
}

// NewTransportKeys builds the directional AEADs from raw handshake output.
func NewTransportKeys(sendKey, recvKey [32]byte) (*TransportKeys, error) {
	sendAEAD, err := chacha20poly1305.New(sendKey[:])
	if err != nil {
		return nil, fmt.Errorf("send cipher: %w", err)
	}
	recvAEAD, err := chacha20poly1305.New(recvKey[:])
	if err != nil {
		return nil, fmt.Errorf("recv cipher: %w", err)
	}
	return &TransportKeys{
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
		sendKey:  sendKey,
		recvKey:  recvKey,
	}, nil
}

// EncryptFrame seals a payload with the send key and advances the send
// counter.
func (tk *TransportKeys) EncryptFrame(plaintext []byte) ([]byte, error) {
	if tk.sendCtr == math.MaxUint64 {
		return nil, ErrKeysExhausted
	}
	nonce := counterNonce(tk.sendCtr)
	tk.sendCtr++
	return tk.sendAEAD.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptFrame opens a payload with the receive key and advances the
// receive counter. Failure does not advance the counter, so a corrupted
// frame cannot desynchronize the channel by itself.
func (tk *TransportKeys) DecryptFrame(ciphertext []byte) ([]byte, error) {
	if tk.recvCtr == math.MaxUint64 {
		return nil, ErrKeysExhausted
	}
	nonce := counterNonce(tk.recvCtr)
	plaintext, err := tk.recvAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	tk.recvCtr++
	return plaintext, nil
}

// Destroy wipes the raw key material. The AEADs retain expanded state, but
// the stored keys are no longer recoverable from this value.
func (tk *TransportKeys) Destroy() {
	crypto.ZeroBytes(tk.sendKey[:])
	crypto.ZeroBytes(tk.recvKey[:])
	tk.sendAEAD = nil
	tk.recvAEAD = nil
}

func counterNonce(ctr uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], ctr)
	return nonce
}
