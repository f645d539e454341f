package box

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) [32]byte {
	t.Helper()
	var k [32]byte
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func TestSecretboxRoundTrip(t *testing.T) {
	t.Run("DecryptRecoversPlaintext", func(t *testing.T) {
		key := randomKey(t)
		plaintexts := [][]byte{
			[]byte("hello session"),
			[]byte(""),
			make([]byte, 4096),
		}
		for _, p := range plaintexts {
			ciphertext, err := Encrypt(p, key)
			require.NoError(t, err)

			opened, err := Decrypt(ciphertext, key)
			require.NoError(t, err)
			assert.Equal(t, p, opened)
		}
	})

	t.Run("CiphertextCarriesA24ByteNonceThenTheMAC", func(t *testing.T) {
		key := randomKey(t)
		ciphertext, err := Encrypt([]byte("hi"), key)
		require.NoError(t, err)
		assert.Equal(t, NonceSize+len("hi")+Overhead, len(ciphertext))
	})

	t.Run("EachEncryptUsesAFreshNonce", func(t *testing.T) {
		key := randomKey(t)
		a, err := Encrypt([]byte("same plaintext"), key)
		require.NoError(t, err)
		b, err := Encrypt([]byte("same plaintext"), key)
		require.NoError(t, err)
		assert.NotEqual(t, a[:NonceSize], b[:NonceSize])
		assert.NotEqual(t, a, b)
	})
}

func TestSecretboxAuthenticationFailures(t *testing.T) {
	t.Run("WrongKeyFailsSilently", func(t *testing.T) {
		ciphertext, err := Encrypt([]byte("classified"), randomKey(t))
		require.NoError(t, err)

		_, err = Decrypt(ciphertext, randomKey(t))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("TamperedCiphertextFails", func(t *testing.T) {
		key := randomKey(t)
		ciphertext, err := Encrypt([]byte("classified"), key)
		require.NoError(t, err)

		tampered := append([]byte(nil), ciphertext...)
		tampered[len(tampered)-1] ^= 0xFF

		_, err = Decrypt(tampered, key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("PayloadShorterThanNonceAndMACIsRejected", func(t *testing.T) {
		key := randomKey(t)
		_, err := Decrypt(make([]byte, NonceSize+Overhead-1), key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("EmptyPayloadIsRejected", func(t *testing.T) {
		key := randomKey(t)
		_, err := Decrypt(nil, key)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}
