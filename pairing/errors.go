package pairing

import "errors"

var (
	// ErrPairingInProgress indicates a second attempt was started while a
	// reference is already outstanding.
	ErrPairingInProgress = errors.New("pairing already in progress")

	// ErrPairingFailed indicates the retry budget is exhausted. Terminal:
	// the caller must explicitly restart pairing.
	ErrPairingFailed = errors.New("pairing failed after maximum retries")

	// ErrReferenceExpired indicates the outstanding reference's TTL
	// passed before confirmation.
	ErrReferenceExpired = errors.New("pairing reference expired")

	// ErrConfirmationRejected indicates the peer's confirmation signature
	// did not verify against the expected device identity.
	ErrConfirmationRejected = errors.New("pairing confirmation rejected")

	// ErrNotPairing indicates a confirmation arrived with no attempt in
	// flight.
	ErrNotPairing = errors.New("no pairing attempt in flight")
)
