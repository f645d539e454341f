package pairing

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeerDescriptor_FullJSON(t *testing.T) {
	desc := PeerDescriptor{
		ID:          "req-1",
		Type:        typePairingRequest,
		Name:        "demo-dapp",
		Version:     "3",
		PublicKey:   "aa" + hex.EncodeToString(make([]byte, 31)),
		RelayServer: "relay.example",
	}
	raw, err := json.Marshal(desc)
	require.NoError(t, err)

	got, err := ParsePeerDescriptor(raw, false)
	require.NoError(t, err)
	assert.Equal(t, desc, got)
}

func TestParsePeerDescriptor_MissingVersionRejectedByDefault(t *testing.T) {
	desc := PeerDescriptor{PublicKey: "aabbcc"}
	raw, err := json.Marshal(desc)
	require.NoError(t, err)

	_, err = ParsePeerDescriptor(raw, false)
	assert.Error(t, err)
}

func TestParsePeerDescriptor_MissingVersionAcceptedUnderLegacyFlag(t *testing.T) {
	desc := PeerDescriptor{PublicKey: "aabbcc"}
	raw, err := json.Marshal(desc)
	require.NoError(t, err)

	got, err := ParsePeerDescriptor(raw, true)
	require.NoError(t, err)
	assert.Equal(t, "aabbcc", got.PublicKey)
}

func TestParsePeerDescriptor_RawHexPublicKeyUnderLegacyFlag(t *testing.T) {
	pub := make([]byte, 32)
	for i := range pub {
		pub[i] = byte(i)
	}
	raw := []byte(hex.EncodeToString(pub))

	got, err := ParsePeerDescriptor(raw, true)
	require.NoError(t, err)
	assert.Equal(t, typePairingRequest, got.Type)
	assert.Equal(t, hex.EncodeToString(pub), got.PublicKey)
}

func TestParsePeerDescriptor_RawHexRejectedWithoutLegacyFlag(t *testing.T) {
	pub := make([]byte, 32)
	raw := []byte(hex.EncodeToString(pub))

	_, err := ParsePeerDescriptor(raw, false)
	assert.Error(t, err)
}
