// Package box implements the two encryption primitives the pairing
// protocol requires (spec §9 "Sealed-box vs secretbox"):
//
//   - sealed box: anonymous asymmetric encryption used for the handshake
//     (spec §4.4.4, §4.4.5, §6 "Channel-open wire format").
//   - secretbox: authenticated symmetric encryption used for session
//     traffic (spec §4.4.7, §4.4.8, §6 "Session message wire format").
//
// Both are libsodium-compatible: sealed box matches crypto_box_seal /
// crypto_box_seal_open, secretbox matches crypto_secretbox_easy.
package box

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/tzconnect/beacon-core/crypto/hash"
)

// ErrDecryptionFailed is returned when a sealed box or secretbox payload
// fails to authenticate under the expected key. Per spec §7 this is the
// "DecryptionMismatch" condition and is expected/benign for bus-broadcast
// traffic that was never addressed to us.
var ErrDecryptionFailed = errors.New("box: decryption failed")

// SealAnonymous encrypts message to recipientPub using an ephemeral
// X25519 key pair, libsodium crypto_box_seal-compatible: the nonce is
// derived deterministically from the ephemeral and recipient public keys
// (crypto_generichash(ephPub || recipientPub, 24)) so the ciphertext
// carries no separate nonce field, only the ephemeral public key prefix.
func SealAnonymous(message []byte, recipientPub [32]byte) ([]byte, error) {
	ephPub, ephPriv, err := box.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("box: generate ephemeral key: %w", err)
	}

	var nonce [24]byte
	copy(nonce[:], hash.SumSize(24, ephPub[:], recipientPub[:]))

	sealed := box.Seal(nil, message, &nonce, &recipientPub, ephPriv)

	out := make([]byte, 0, 32+len(sealed))
	out = append(out, ephPub[:]...)
	out = append(out, sealed...)
	return out, nil
}

// OpenAnonymous decrypts a sealed-box payload produced by SealAnonymous
// using the recipient's long-term X25519 key pair. Returns ErrDecryptionFailed
// if the payload does not authenticate (spec §8 invariant 5, "Channel-open
// authentication").
func OpenAnonymous(sealed []byte, recipientPub, recipientPriv [32]byte) ([]byte, error) {
	if len(sealed) < 32+box.Overhead {
		return nil, ErrDecryptionFailed
	}
	var ephPub [32]byte
	copy(ephPub[:], sealed[:32])
	ciphertext := sealed[32:]

	var nonce [24]byte
	copy(nonce[:], hash.SumSize(24, ephPub[:], recipientPub[:]))

	plaintext, ok := box.Open(nil, ciphertext, &nonce, &ephPub, &recipientPriv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
