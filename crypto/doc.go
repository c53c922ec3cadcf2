// Package crypto implements the cryptographic primitives shared by the
// wasock transport session: Curve25519 key pairs for identity and ratchet
// keys, Ed25519 signatures for device authorization, and the HKDF/HMAC
// derivation steps used by the session ratchet.
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto
