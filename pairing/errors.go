package pairing

import "errors"

// Error taxonomy (spec §7). DecryptionMismatch is never returned to a
// caller: it is swallowed at the point of decode, since it is the
// expected outcome for bus-broadcast traffic not addressed to us.
var (
	// ErrNotReady is returned by any operation invoked before Start
	// completes.
	ErrNotReady = errors.New("pairing: client not started")
	// ErrTimeout is returned when waiting for a room to reach the
	// required member count exceeds the bounded retry budget.
	ErrTimeout = errors.New("pairing: timed out waiting for room members")
	// ErrInvalidPublicKey is returned when a hex-encoded public key
	// fails to decode to a 32-byte Ed25519 key.
	ErrInvalidPublicKey = errors.New("pairing: invalid public key")
)
