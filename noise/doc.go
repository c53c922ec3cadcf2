// Package noise implements the mutually authenticated handshake that every
// physical wasock connection runs before any application frame is accepted.
//
// The handshake is built on the Noise Protocol Framework. A client that
// already knows the server's static key (a resuming, registered device) runs
// the IK pattern; a fresh device that has never paired runs XX and learns
// the server static key from the exchange, verifying it against a platform
// certificate chain carried in the server's encrypted payload.
//
// Both sides contribute a random session seed inside their encrypted
// handshake payloads. The directional transport keys are derived from both
// seeds with HKDF, salted by the Noise channel binding, so the keys are
// bound to this exact handshake transcript and die with the connection.
//
// The cipher suite defaults to DH25519/ChaChaPoly/SHA256 but is injectable;
// interoperability with a real peer must be verified before swapping
// primitives.
package noise
