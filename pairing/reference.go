package pairing

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// codeAlphabet excludes visually ambiguous characters (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 8

// Reference is a single short-lived pairing opportunity issued by the peer.
// QR-mode clients render Payload; code-mode clients display Code.
type Reference struct {
	ID        uuid.UUID
	Payload   string
	Code      string
	ExpiresAt time.Time
}

// Expired reports whether the reference's TTL has passed at the given time.
func (r *Reference) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// generateCode produces a human-enterable linking code. Characters are drawn
// uniformly from codeAlphabet by rejection sampling.
func generateCode() (string, error) {
	var b strings.Builder
	b.Grow(codeLength)

	buf := make([]byte, 1)
	for b.Len() < codeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generating pairing code: %w", err)
		}
		// Reject values beyond the largest multiple of len(codeAlphabet)
		// so each character is unbiased.
		limit := 256 - 256%len(codeAlphabet)
		if int(buf[0]) >= limit {
			continue
		}
		b.WriteByte(codeAlphabet[int(buf[0])%len(codeAlphabet)])
	}
	return b.String(), nil
}

// newReference binds a fresh reference to the payload supplied by the peer.
func newReference(payload string, expiresAt time.Time) (*Reference, error) {
	code, err := generateCode()
	if err != nil {
		return nil, err
	}
	return &Reference{
		ID:        uuid.New(),
		Payload:   payload,
		Code:      code,
		ExpiresAt: expiresAt,
	}, nil
}
