package pairing

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ParsePeerDescriptor decodes an out-of-band handshake payload (the raw
// bytes of a scanned QR code or deep link) into a PeerDescriptor.
//
// Historically, some v1 peers shipped a bare hex-encoded Ed25519 public
// key instead of the full JSON descriptor, omitting "version" entirely.
// When allowLegacyFallback is true, a JSON descriptor that has a
// publicKey but no Version is returned as parsed. Any other raw is read
// as that legacy shape: a hex-encoded 32-byte Ed25519 public key, returned
// as a pairing-request descriptor whose PublicKey is the key re-encoded as
// lowercase hex, with every other field left at its zero value. Reimplementations may drop this path entirely
// (spec §9, Open Question b); it defaults to off.
func ParsePeerDescriptor(raw []byte, allowLegacyFallback bool) (PeerDescriptor, error) {
	var desc PeerDescriptor
	if err := json.Unmarshal(raw, &desc); err == nil && desc.PublicKey != "" {
		if desc.Version != "" {
			return desc, nil
		}
		if allowLegacyFallback {
			return desc, nil // legacy JSON shape: valid descriptor, just no version.
		}
		return PeerDescriptor{}, fmt.Errorf("pairing: pairing descriptor missing version")
	}

	if !allowLegacyFallback {
		return PeerDescriptor{}, fmt.Errorf("pairing: malformed pairing descriptor")
	}

	pub, err := hex.DecodeString(string(raw))
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return PeerDescriptor{}, fmt.Errorf("pairing: not a valid v1 public key or pairing descriptor")
	}
	return PeerDescriptor{
		Type:      typePairingRequest,
		PublicKey: hex.EncodeToString(pub),
	}, nil
}
