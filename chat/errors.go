package chat

import "errors"

// errForbidden is returned by a transport when the relay server rejects
// an operation (e.g. a room it revoked this identity's membership in).
// pairing.Client treats this as a rebind-and-retry signal (spec §7).
var errForbidden = errors.New("chat: forbidden")

// ErrForbidden is the exported form of errForbidden, for tests and
// mocks outside this package that need to simulate a relay rejection.
var ErrForbidden = errForbidden

// IsForbidden reports whether err (or a wrapped cause) is the relay
// server rejecting an operation.
func IsForbidden(err error) bool {
	return errors.Is(err, errForbidden)
}
