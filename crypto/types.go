package crypto

import (
	"crypto"
	"errors"
)

// KeyType identifies the algorithm family of a KeyPair.
type KeyType string

const (
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeX25519  KeyType = "X25519"
)

// KeyPair is the common surface every identity/session key exposes.
// Beacon Core only ever carries Ed25519 (signing identity) and X25519
// (key exchange) key types; the broader multi-algorithm registry the
// teacher repo carries elsewhere has no user in this domain.
type KeyPair interface {
	PublicKey() crypto.PublicKey
	PrivateKey() crypto.PrivateKey
	Type() KeyType

	// Sign signs message. X25519 key pairs return ErrSignNotSupported.
	Sign(message []byte) ([]byte, error)
	// Verify verifies signature against message. X25519 key pairs return ErrVerifyNotSupported.
	Verify(message, signature []byte) error

	// ID returns a short stable identifier derived from the public key.
	ID() string
}

var (
	ErrInvalidSignature    = errors.New("crypto: invalid signature")
	ErrSignNotSupported    = errors.New("crypto: key type does not support signing")
	ErrVerifyNotSupported  = errors.New("crypto: key type does not support signature verification")
	ErrInvalidKeyType      = errors.New("crypto: invalid key type")
)
