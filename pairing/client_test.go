package pairing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzconnect/beacon-core/chat"
	"github.com/tzconnect/beacon-core/crypto/box"
	"github.com/tzconnect/beacon-core/crypto/hash"
	"github.com/tzconnect/beacon-core/crypto/keys"
	"github.com/tzconnect/beacon-core/storage"
)

func testIdentity(t *testing.T, seed byte) *keys.Ed25519KeyPair {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	return keys.Ed25519KeyPairFromSeed(s)
}

func newTestClient(t *testing.T, role Role, mockChat chat.Client, identity *keys.Ed25519KeyPair) *Client {
	t.Helper()
	c, err := New(Config{
		Identity:     identity,
		KV:           storage.NewMemoryKV(),
		Role:         role,
		RelayServers: []string{"relay.example"},
		ChatFactory:  func(string) chat.Client { return mockChat },
	})
	require.NoError(t, err)
	return c
}

func TestLoginDigestStability(t *testing.T) {
	identity := testIdentity(t, 0x11)
	mockChat, mt := chat.NewMockClient()

	var gotPassword string
	mt.LoginFunc = func(ctx context.Context, opts chat.StartOptions) (string, error) {
		gotPassword = opts.Password
		return "mock-token", nil
	}

	c := newTestClient(t, RoleDApp, mockChat, identity)
	c.nowFunc = func() time.Time { return time.Unix(1_700_000_000, 0) }

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})

	bucket := int64(1_700_000_000) / loginDigestBucket
	require.Equal(t, int64(5_666_666), bucket)

	digest := hash.Sum([]byte(fmt.Sprintf("login:%d", bucket)))
	priv := identity.PrivateKey().(ed25519.PrivateKey)
	expectedSig := ed25519.Sign(priv, digest)
	expected := "ed:" + hex.EncodeToString(expectedSig) + ":" + identity.PublicKeyHex()

	assert.Equal(t, expected, gotPassword)
}

func TestListenForChannelOpening_DecryptsAndDerivesSenderID(t *testing.T) {
	dapp := testIdentity(t, 0x22)
	wallet := testIdentity(t, 0x33)

	mockChat, mt := chat.NewMockClient()
	walletClient := newTestClient(t, RoleWallet, mockChat, wallet)
	require.NoError(t, walletClient.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = walletClient.Stop(ctx)
	})

	received := make(chan PairingResponse, 1)
	_, err := walletClient.ListenForChannelOpening(func(resp PairingResponse) {
		received <- resp
	})
	require.NoError(t, err)

	response := PeerDescriptor{
		ID:          "resp-1",
		Type:        typePairingResponse,
		Name:        "dapp",
		Version:     "1.0",
		PublicKey:   dapp.PublicKeyHex(),
		RelayServer: "relay.example",
	}
	payload, err := json.Marshal(response)
	require.NoError(t, err)

	walletX25519Pub, err := keys.ConvertEd25519PublicKey(wallet.PublicKey().(ed25519.PublicKey))
	require.NoError(t, err)
	var pubArr [32]byte
	copy(pubArr[:], walletX25519Pub)
	sealed, err := box.SealAnonymous(payload, pubArr)
	require.NoError(t, err)

	body := "@channel-open:@" + wallet.ID() + ":" + hex.EncodeToString(sealed)
	mt.QueueSync(chat.SyncResult{
		NextToken: "t1",
		Rooms: []chat.SyncedRoom{{
			RoomID:  "!room:relay",
			Status:  chat.RoomStatusJoined,
			Members: []string{wallet.ID(), dapp.ID()},
			Messages: []chat.Message{{
				RoomID: "!room:relay",
				Sender: "@" + dapp.ID(),
				Body:   body,
			}},
		}},
	})

	select {
	case resp := <-received:
		assert.Equal(t, dapp.PublicKeyHex(), resp.PublicKey)
		expectedSenderID, err := deriveSenderID(dapp.PublicKeyHex())
		require.NoError(t, err)
		assert.Equal(t, expectedSenderID, resp.SenderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel-open callback")
	}
}

func TestSendMessage_RetriesOnceOnForbidden(t *testing.T) {
	alice := testIdentity(t, 0x44)
	bob := testIdentity(t, 0x55)

	mockChat, mt := chat.NewMockClient()
	c := newTestClient(t, RoleDApp, mockChat, alice)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})

	var mu sync.Mutex
	var attempts int
	mt.SendFunc = func(ctx context.Context, roomID, text string) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return chat.ErrForbidden
		}
		return nil
	}

	peer := PeerDescriptor{PublicKey: bob.PublicKeyHex(), RelayServer: "relay.example"}
	err := c.SendMessage(context.Background(), []byte("hello"), peer)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}
