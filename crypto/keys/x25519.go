// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package keys

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"

	corecrypto "github.com/tzconnect/beacon-core/crypto"
	"github.com/tzconnect/beacon-core/crypto/hash"
)

// X25519KeyPair holds an X25519 private key and its corresponding public key,
// used for the per-peer Diffie-Hellman session key derivation (spec §4.4.6).
type X25519KeyPair struct {
	privateKey *ecdh.PrivateKey
	publicKey  *ecdh.PublicKey
	id         string
}

// GenerateX25519KeyPair generates a new ephemeral X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	privateKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate x25519 key: %w", err)
	}
	return newX25519KeyPair(privateKey), nil
}

func newX25519KeyPair(privateKey *ecdh.PrivateKey) *X25519KeyPair {
	publicKey := privateKey.PublicKey()
	return &X25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         hex.EncodeToString(hash.Sum(publicKey.Bytes())),
	}
}

// X25519KeyPairFromEd25519 converts a long-term Ed25519 identity key pair
// into its X25519 counterpart via the birational map between the twisted
// Edwards curve and Curve25519, so both the signing key and the KX key
// derive from the same secret (spec §3 "per-peer session keys derived by
// Diffie-Hellman on the corresponding X25519 pair").
func X25519KeyPairFromEd25519(priv ed25519.PrivateKey) (*X25519KeyPair, error) {
	scalar, err := convertEd25519PrivToX25519(priv)
	if err != nil {
		return nil, err
	}
	privateKey, err := ecdh.X25519().NewPrivateKey(scalar)
	if err != nil {
		return nil, fmt.Errorf("derive x25519 private key: %w", err)
	}
	return newX25519KeyPair(privateKey), nil
}

// ConvertEd25519PublicKey converts a peer's Ed25519 public key (raw bytes)
// into its X25519 Montgomery-form public key bytes.
func ConvertEd25519PublicKey(edPub ed25519.PublicKey) ([]byte, error) {
	return convertEd25519PubToX25519(edPub)
}

func (kp *X25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *X25519KeyPair) Type() corecrypto.KeyType      { return corecrypto.KeyTypeX25519 }
func (kp *X25519KeyPair) ID() string                    { return kp.id }

// PublicBytes returns the raw 32-byte Montgomery public key.
func (kp *X25519KeyPair) PublicBytes() []byte { return kp.publicKey.Bytes() }

// PrivateBytes returns the raw 32-byte X25519 scalar.
func (kp *X25519KeyPair) PrivateBytes() []byte { return kp.privateKey.Bytes() }

func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, corecrypto.ErrSignNotSupported
}

func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return corecrypto.ErrVerifyNotSupported
}

// DeriveSharedSecret computes the raw 32-byte X25519 ECDH shared point
// with a peer's Montgomery public key bytes. Callers derive directional
// send/receive keys from this raw secret (see pairing package).
func (kp *X25519KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	curve := ecdh.X25519()
	peerPub, err := curve.NewPublicKey(peerPubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse peer x25519 public key: %w", err)
	}
	shared, err := kp.privateKey.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("compute x25519 shared secret: %w", err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, fmt.Errorf("x25519: low-order or identity point")
	}
	return shared, nil
}

// convertEd25519PrivToX25519 turns an Ed25519 private key into the X25519 scalar.
func convertEd25519PrivToX25519(edPriv ed25519.PrivateKey) ([]byte, error) {
	if l := len(edPriv); l != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("bad Ed25519 priv length: %d", l)
	}
	seed := edPriv.Seed()
	h := sha512.Sum512(seed) // RFC 8032 §5.1.5
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	var xPriv [32]byte
	copy(xPriv[:], h[:32])
	return xPriv[:], nil
}

// convertEd25519PubToX25519 turns an Ed25519 public key into the X25519 public key
// by decompressing the Edwards point and mapping it to its Montgomery u-coordinate.
func convertEd25519PubToX25519(edPub ed25519.PublicKey) ([]byte, error) {
	if l := len(edPub); l != ed25519.PublicKeySize {
		return nil, fmt.Errorf("bad Ed25519 pub length: %d", l)
	}
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 pub: %w", err)
	}
	return p.BytesMontgomery(), nil
}
