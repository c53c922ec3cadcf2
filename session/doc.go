// Package session implements the per-remote-party ratcheting encryption
// layer. Each send advances a one-way sending chain and derives a unique
// message key; each receive advances the matching receiving chain,
// tolerating bounded out-of-order delivery through a capped skipped-key
// cache. Evicted skipped keys are gone for good: messages older than the
// window are never decryptable again, which is the forward-secrecy /
// memory tradeoff the protocol makes deliberately.
//
// The state is plain serializable data so it can round-trip through the
// credential store and survive process restarts without resetting
// counters.
package session
