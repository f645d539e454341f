package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzconnect/beacon-core/crypto/hash"
)

func TestSelect_SingleServer(t *testing.T) {
	// S1: server list with a single entry always wins regardless of key.
	servers := []string{"matrix.papers.tech"}

	for _, h := range []string{
		hash.SumHex([]byte("alice")),
		hash.SumHex([]byte("bob")),
		"",
	} {
		got, err := Select(h, "", servers)
		require.NoError(t, err)
		assert.Equal(t, "matrix.papers.tech", got)
	}
}

func TestSelect_Convergence(t *testing.T) {
	// Invariant 1: identical inputs yield identical outputs, for both peers.
	servers := []string{"relay-a.example", "relay-b.example", "relay-c.example"}
	localHash := hash.SumHex([]byte("shared-identity"))

	first, err := Select(localHash, "0", servers)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Select(localHash, "0", servers)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelect_Idempotent(t *testing.T) {
	servers := []string{"relay-a.example", "relay-b.example"}
	for _, h := range []string{hash.SumHex([]byte("x")), hash.SumHex([]byte("y"))} {
		a, err := Select(h, "", servers)
		require.NoError(t, err)
		b, err := Select(h, "", servers)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestSelect_NonceChangesReplica(t *testing.T) {
	servers := []string{"relay-a.example", "relay-b.example", "relay-c.example", "relay-d.example"}
	localHash := hash.SumHex([]byte("identity"))

	seen := map[string]bool{}
	for _, nonce := range []string{"0", "1", "2", "3"} {
		s, err := Select(localHash, nonce, servers)
		require.NoError(t, err)
		seen[s] = true
	}
	// Not asserting every nonce yields a distinct server (that's not
	// guaranteed), just that the mechanism actually dispatches across
	// the list rather than collapsing to a single constant index.
	assert.Greater(t, len(seen), 1)
}

func TestSelect_DefaultServers(t *testing.T) {
	got, err := Select(hash.SumHex([]byte("id")), "", nil)
	require.NoError(t, err)
	assert.Contains(t, DefaultServers, got)
}

func TestSelect_NoServers(t *testing.T) {
	orig := DefaultServers
	DefaultServers = nil
	defer func() { DefaultServers = orig }()

	_, err := Select("abc", "", nil)
	assert.ErrorIs(t, err, ErrNoServers)
}
