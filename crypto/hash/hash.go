// Package hash provides the generic hash used throughout the pairing
// protocol: a 32-byte BLAKE2b digest, compatible with libsodium's
// crypto_generichash default parameters (teacher go.mod already carries
// golang.org/x/crypto for HKDF; BLAKE2b lives in the same module).
package hash

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes (h32 in spec notation).
const Size = 32

// Sum returns the 32-byte generic hash of data.
func Sum(data ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, and we never pass one.
		panic(err)
	}
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// SumHex is Sum hex-encoded, the form the wire protocol and relay
// selector operate on.
func SumHex(data ...[]byte) string {
	return hex.EncodeToString(Sum(data...))
}

// SumSize returns a generic hash of the given output size, used by the
// sealed-box nonce derivation (libsodium's crypto_box_seal nonce is a
// 24-byte crypto_generichash of the ephemeral and recipient public keys).
func SumSize(size int, data ...[]byte) []byte {
	h, err := blake2b.New(size, nil)
	if err != nil {
		panic(err)
	}
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
