// Package store defines the credential store contract and the credential
// record it persists: long-term identity material, registration state and
// per-party session ratchet state, serialized losslessly so a device
// restart resumes exactly where it left off.
//
// A reference file-backed implementation is included. Writes are atomic
// (temp file then rename) and the DebouncedWriter coalesces the frequent
// ratchet-advance saves while still offering a durability barrier for
// callers that must not acknowledge a frame before its state is on disk.
package store
