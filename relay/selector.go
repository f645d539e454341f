// Package relay implements deterministic relay-server selection (spec
// §4.1). Selection must be pure and allocation-cheap: given the same
// local identity hash, nonce and server list, every peer converges on
// the same relay without coordination.
package relay

import (
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/tzconnect/beacon-core/crypto/hash"
)

// DefaultServers is the built-in relay list used when configuration
// supplies none.
var DefaultServers = []string{
	"matrix.papers.tech",
	"beacon-node-1.diamond.papers.tech",
	"beacon-node-2.diamond.papers.tech",
}

// ErrNoServers is returned when Select is called with an empty server list
// and no built-in default applies.
var ErrNoServers = errors.New("relay: no servers configured")

// Select chooses the server whose generic hash is numerically closest to
// localHash (both interpreted as big-endian unsigned integers), breaking
// ties in favor of the earliest entry in servers. localHash is a
// hex-encoded 32-byte hash identifying the local (or target) peer; nonce
// is an optional ASCII string (empty by default) that lets the same
// identity derive different relays, e.g. for indexed replicas.
//
// Select performs no I/O and must remain pure: callers rely on this for
// convergence between independently-running peers.
func Select(localHash string, nonce string, servers []string) (string, error) {
	if len(servers) == 0 {
		servers = DefaultServers
	}
	if len(servers) == 0 {
		return "", ErrNoServers
	}

	local, ok := new(big.Int).SetString(localHash, 16)
	if !ok {
		local = new(big.Int)
	}

	var best string
	var bestDiff *big.Int

	for _, s := range servers {
		h := hash.SumHex([]byte(s), []byte(nonce))
		candidate, ok := new(big.Int).SetString(h, 16)
		if !ok {
			candidate = new(big.Int)
		}

		diff := new(big.Int).Sub(local, candidate)
		diff.Abs(diff)

		if bestDiff == nil || diff.Cmp(bestDiff) < 0 {
			best = s
			bestDiff = diff
		}
	}

	return best, nil
}

// SelectHash is Select with localHash already expressed as raw bytes
// rather than a hex string, for callers holding a generic hash digest.
func SelectHash(localHash []byte, nonce string, servers []string) (string, error) {
	return Select(hex.EncodeToString(localHash), nonce, servers)
}
