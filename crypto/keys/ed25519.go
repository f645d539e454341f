// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"

	corecrypto "github.com/tzconnect/beacon-core/crypto"
	"github.com/tzconnect/beacon-core/crypto/hash"
)

// Ed25519KeyPair implements corecrypto.KeyPair for the long-term identity key.
type Ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new Ed25519 identity key pair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewEd25519KeyPair(privateKey, publicKey), nil
}

// NewEd25519KeyPair wraps an existing Ed25519 key pair, deriving the
// public-key hash used throughout the pairing protocol as its ID.
func NewEd25519KeyPair(privateKey ed25519.PrivateKey, publicKey ed25519.PublicKey) *Ed25519KeyPair {
	return &Ed25519KeyPair{
		privateKey: privateKey,
		publicKey:  publicKey,
		id:         hex.EncodeToString(hash.Sum(publicKey)),
	}
}

// Ed25519KeyPairFromSeed reconstructs the key pair from a 32-byte seed.
func Ed25519KeyPairFromSeed(seed []byte) *Ed25519KeyPair {
	priv := ed25519.NewKeyFromSeed(seed)
	return NewEd25519KeyPair(priv, priv.Public().(ed25519.PublicKey))
}

func (kp *Ed25519KeyPair) PublicKey() crypto.PublicKey   { return kp.publicKey }
func (kp *Ed25519KeyPair) PrivateKey() crypto.PrivateKey { return kp.privateKey }
func (kp *Ed25519KeyPair) Type() corecrypto.KeyType      { return corecrypto.KeyTypeEd25519 }

// ID returns hex(genericHash(publicKey)), the peer's publicKeyHash (spec §3).
func (kp *Ed25519KeyPair) ID() string { return kp.id }

func (kp *Ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

func (kp *Ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return corecrypto.ErrInvalidSignature
	}
	return nil
}

// PublicKeyHex returns the hex-encoded raw public key (spec §6 `publicKey`).
func (kp *Ed25519KeyPair) PublicKeyHex() string {
	return hex.EncodeToString(kp.publicKey)
}

// VerifyEd25519 verifies a detached signature against a raw hex-encoded
// Ed25519 public key, used to authenticate a peer's identity from a
// handshake payload without constructing a full key pair.
func VerifyEd25519(publicKeyHex string, message, signature []byte) error {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return corecrypto.ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, signature) {
		return corecrypto.ErrInvalidSignature
	}
	return nil
}
