// Package pairing implements the P2P client proper (spec §4.4): it logs
// into a selected relay, drives the sealed-box pairing handshake between
// a dApp and a wallet, derives per-peer secretbox session keys, routes
// encrypted traffic to the right chat room, and recovers from rooms that
// the relay substrate has invalidated.
package pairing

import (
	"encoding/hex"

	"github.com/tzconnect/beacon-core/crypto/hash"
)

// Role distinguishes the two pairing-protocol roles: a wallet accepts
// inbound pairing requests and holds a standby room; a dApp originates
// pairing requests.
type Role string

const (
	RoleWallet Role = "wallet"
	RoleDApp   Role = "dapp"
)

const (
	typePairingRequest  = "p2p-pairing-request"
	typePairingResponse = "p2p-pairing-response"
)

// PeerDescriptor is the handshake payload exchanged out-of-band (spec §6):
// a dApp ships a pairing-request descriptor (e.g. as a QR code); a wallet
// answers with a pairing-response descriptor of the same shape.
type PeerDescriptor struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	PublicKey   string `json:"publicKey"`
	RelayServer string `json:"relayServer"`
	Icon        string `json:"icon,omitempty"`
	AppURL      string `json:"appUrl,omitempty"`
}

// PairingResponse is the extended descriptor ListenForChannelOpening
// hands to its callback: the peer's response plus the sender address
// derived from its embedded public key (spec §4.4.4).
type PairingResponse struct {
	PeerDescriptor
	SenderID string `json:"senderId"`
}

// deriveSenderID computes "senderId" from a hex-encoded Ed25519 public
// key: hex(genericHash(pk)), the same digest used for recipient
// addresses (spec §8 invariant 7).
func deriveSenderID(publicKeyHex string) (string, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return "", err
	}
	return hash.SumHex(raw), nil
}

// recipientAddress builds the canonical "@<hash>:<relay>" address (spec
// §8 invariant 7).
func recipientAddress(publicKeyHash, relayServer string) string {
	return "@" + publicKeyHash + ":" + relayServer
}
