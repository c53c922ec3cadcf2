package noise

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/wasock/crypto"
)

// CertificateDetails is the signed portion of a platform certificate. It
// binds a Noise static key to a platform identity with a serial for
// revocation bookkeeping.
type CertificateDetails struct {
	Serial    uint32 `json:"serial"`
	Issuer    string `json:"issuer"`
	StaticKey []byte `json:"static_key"`
}

// Certificate is one link of the chain the responder presents to prove
// platform authenticity.
type Certificate struct {
	Details   []byte `json:"details"` // serialized CertificateDetails
	Signature []byte `json:"signature"`
}

// NewCertificate signs details with the issuer's signing key.
func NewCertificate(details CertificateDetails, issuer *crypto.SigningKeyPair) (Certificate, error) {
	raw, err := json.Marshal(details)
	if err != nil {
		return Certificate{}, err
	}
	sig, err := issuer.Sign(raw)
	if err != nil {
		return Certificate{}, err
	}
	return Certificate{Details: raw, Signature: sig[:]}, nil
}

// VerifyCertChain validates a certificate chain against the trusted
// platform authority key and checks that the leaf covers the responder's
// Noise static key. The chain is ordered leaf-first.
func VerifyCertChain(chain []Certificate, authority [32]byte, responderStatic []byte) error {
	if len(chain) == 0 {
		return errors.New("empty certificate chain")
	}

	for i, cert := range chain {
		if len(cert.Signature) != crypto.SignatureSize {
			return fmt.Errorf("certificate %d: bad signature length %d", i, len(cert.Signature))
		}
		var sig crypto.Signature
		copy(sig[:], cert.Signature)

		ok, err := crypto.Verify(cert.Details, sig, authority)
		if err != nil {
			return fmt.Errorf("certificate %d: %w", i, err)
		}
		if !ok {
			return fmt.Errorf("certificate %d: signature verification failed", i)
		}
	}

	var leaf CertificateDetails
	if err := json.Unmarshal(chain[0].Details, &leaf); err != nil {
		return fmt.Errorf("leaf certificate details: %w", err)
	}
	if !bytes.Equal(leaf.StaticKey, responderStatic) {
		return errors.New("leaf certificate does not cover responder static key")
	}
	return nil
}
