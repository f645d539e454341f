package box

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// NonceSize and Overhead mirror libsodium's crypto_secretbox_easy framing:
// a 24-byte random nonce followed by ciphertext with a 16-byte Poly1305 MAC.
const (
	NonceSize = 24
	Overhead  = secretbox.Overhead
)

// Encrypt authenticates and encrypts plaintext under key with a fresh
// random nonce, returning nonce‖ciphertext (spec §6 "Session message wire
// format"). The caller hex-encodes the result for the chat wire.
func Encrypt(plaintext []byte, key [32]byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("box: generate nonce: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+Overhead)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

// Decrypt splits nonce‖ciphertext and opens it under key. Per spec §4.4.7
// a payload shorter than nonce+MAC bytes (24+16) is rejected up front, and
// any authentication failure returns ErrDecryptionFailed (expected for
// bus-broadcast traffic not addressed to us).
func Decrypt(data []byte, key [32]byte) ([]byte, error) {
	if len(data) < NonceSize+Overhead {
		return nil, ErrDecryptionFailed
	}
	var nonce [NonceSize]byte
	copy(nonce[:], data[:NonceSize])

	plaintext, ok := secretbox.Open(nil, data[NonceSize:], &nonce, &key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
