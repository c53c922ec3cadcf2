// Package transport implements the wire layer of the wasock session: the
// length-prefixed frame codec, the per-connection directional transport
// keys produced by the handshake, and the WebSocket stream adapter the
// connection actor dials through.
//
// Frames are a 3-byte big-endian length prefix followed by the payload.
// During the handshake the payload is plaintext; once transport keys are
// established every payload is a ChaCha20-Poly1305 ciphertext sealed with a
// strictly increasing per-direction nonce counter. Encryption is layered by
// the caller; the codec itself never touches keys.
package transport
