// Package pairing implements first-time device authorization: generating a
// fresh identity, requesting short-lived pairing references from the peer,
// exposing them as a scannable payload or a human-entry code, and turning
// the peer's signed confirmation into durable credentials.
//
// References expire quickly and rotation is mandatory; a stale reference
// is rejected by the peer, so the manager re-requests on expiry up to a
// bounded retry count. Only one pairing attempt may be in flight at a
// time.
package pairing
