package pairing

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzconnect/beacon-core/chat"
)

// TestListenForEncryptedMessage_DecryptsSessionTraffic exercises spec §8
// invariant 6 end to end through the public API: a dApp-side session
// encrypts a plaintext under its send key, and the wallet-side
// ListenForEncryptedMessage, wired to a chat.NewMockClient sync feed,
// decrypts it back to the original bytes.
func TestListenForEncryptedMessage_DecryptsSessionTraffic(t *testing.T) {
	alice := testIdentity(t, 0x61) // dApp, initiator
	bob := testIdentity(t, 0x62)   // wallet, responder

	aliceClient := newTestClient(t, RoleDApp, nil, alice)

	bobMockChat, bobMT := chat.NewMockClient()
	bobClient := newTestClient(t, RoleWallet, bobMockChat, bob)
	require.NoError(t, bobClient.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bobClient.Stop(ctx)
	})

	bobPubBytes := []byte(bob.PublicKey().(ed25519.PublicKey))
	aliceSession, err := aliceClient.sessionFor(bob.ID(), bobPubBytes)
	require.NoError(t, err)

	plaintext := []byte("hello wallet, this is the dApp")
	ciphertext, err := aliceSession.Encrypt(plaintext)
	require.NoError(t, err)

	received := make(chan []byte, 1)
	require.NoError(t, bobClient.ListenForEncryptedMessage(alice.PublicKeyHex(), func(pt []byte) {
		received <- pt
	}))

	bobMT.QueueSync(chat.SyncResult{
		NextToken: "t1",
		Rooms: []chat.SyncedRoom{{
			RoomID:  "!session:relay",
			Status:  chat.RoomStatusJoined,
			Members: []string{alice.ID(), bob.ID()},
			Messages: []chat.Message{{
				RoomID: "!session:relay",
				Sender: "@" + alice.ID(),
				Body:   hex.EncodeToString(ciphertext),
			}},
		}},
	})

	select {
	case pt := <-received:
		assert.Equal(t, plaintext, pt)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for decrypted callback")
	}
}

// TestListenForEncryptedMessage_GarbageCiphertextIsSilentlyDropped pins
// spec §7's DecryptionMismatch handling: traffic that doesn't authenticate
// under the derived receive key must never reach the callback.
func TestListenForEncryptedMessage_GarbageCiphertextIsSilentlyDropped(t *testing.T) {
	alice := testIdentity(t, 0x63)
	bob := testIdentity(t, 0x64)

	bobMockChat, bobMT := chat.NewMockClient()
	bobClient := newTestClient(t, RoleWallet, bobMockChat, bob)
	require.NoError(t, bobClient.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bobClient.Stop(ctx)
	})

	called := make(chan struct{}, 1)
	require.NoError(t, bobClient.ListenForEncryptedMessage(alice.PublicKeyHex(), func([]byte) {
		called <- struct{}{}
	}))

	garbage := make([]byte, 64)
	for i := range garbage {
		garbage[i] = byte(i)
	}

	bobMT.QueueSync(chat.SyncResult{
		NextToken: "t1",
		Rooms: []chat.SyncedRoom{{
			RoomID: "!session:relay",
			Status: chat.RoomStatusJoined,
			Messages: []chat.Message{{
				RoomID: "!session:relay",
				Sender: "@" + alice.ID(),
				Body:   hex.EncodeToString(garbage),
			}},
		}},
	})

	select {
	case <-called:
		t.Fatal("callback must not be invoked for ciphertext that fails to authenticate")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestListenForEncryptedMessage_ReplaysLateInitialEvent exercises spec §8
// scenario S6: a message captured by the startup initial-message listener,
// before any caller registered listenForEncryptedMessage, is replayed
// exactly once through the first registered callback.
func TestListenForEncryptedMessage_ReplaysLateInitialEvent(t *testing.T) {
	alice := testIdentity(t, 0x65)
	bob := testIdentity(t, 0x66)

	bobMockChat, _ := chat.NewMockClient()
	bobClient := newTestClient(t, RoleWallet, bobMockChat, bob)
	require.NoError(t, bobClient.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bobClient.Stop(ctx)
	})

	aliceThrowaway := newTestClient(t, RoleDApp, nil, alice)
	aliceSession, err := aliceThrowaway.sessionFor(bob.ID(), []byte(bob.PublicKey().(ed25519.PublicKey)))
	require.NoError(t, err)

	plaintext := []byte("captured before the caller subscribed")
	ciphertext, err := aliceSession.Encrypt(plaintext)
	require.NoError(t, err)

	// Simulate captureInitialMessage having already run during startup,
	// without racing the real sync loop.
	bobClient.initialMu.Lock()
	bobClient.initialEvent = &capturedEvent{
		msg: chat.Message{
			RoomID: "!session:relay",
			Sender: "@" + alice.ID(),
			Body:   hex.EncodeToString(ciphertext),
		},
		capturedAt: time.Now(),
	}
	bobClient.initialMu.Unlock()

	received := make(chan []byte, 1)
	require.NoError(t, bobClient.ListenForEncryptedMessage(alice.PublicKeyHex(), func(pt []byte) {
		received <- pt
	}))

	select {
	case pt := <-received:
		assert.Equal(t, plaintext, pt)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for replayed initial event")
	}

	bobClient.initialMu.Lock()
	stillCaptured := bobClient.initialEvent
	bobClient.initialMu.Unlock()
	assert.Nil(t, stillCaptured, "the captured event must be cleared once replayed")
}

// TestListenForEncryptedMessage_StaleInitialEventIsNotReplayed exercises
// the 5-minute bound on the replay window (spec §4.4.7, §4.4.1 step 4).
func TestListenForEncryptedMessage_StaleInitialEventIsNotReplayed(t *testing.T) {
	alice := testIdentity(t, 0x67)
	bob := testIdentity(t, 0x68)

	bobMockChat, _ := chat.NewMockClient()
	bobClient := newTestClient(t, RoleWallet, bobMockChat, bob)
	require.NoError(t, bobClient.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bobClient.Stop(ctx)
	})

	aliceThrowaway := newTestClient(t, RoleDApp, nil, alice)
	aliceSession, err := aliceThrowaway.sessionFor(bob.ID(), []byte(bob.PublicKey().(ed25519.PublicKey)))
	require.NoError(t, err)
	ciphertext, err := aliceSession.Encrypt([]byte("too old to replay"))
	require.NoError(t, err)

	bobClient.initialMu.Lock()
	bobClient.initialEvent = &capturedEvent{
		msg: chat.Message{
			RoomID: "!session:relay",
			Sender: "@" + alice.ID(),
			Body:   hex.EncodeToString(ciphertext),
		},
		capturedAt: time.Now().Add(-10 * time.Minute),
	}
	bobClient.initialMu.Unlock()

	received := make(chan []byte, 1)
	require.NoError(t, bobClient.ListenForEncryptedMessage(alice.PublicKeyHex(), func(pt []byte) {
		received <- pt
	}))

	select {
	case <-received:
		t.Fatal("an initial event older than the replay window must not be replayed")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestListenForEncryptedMessage_IdempotentPerSender exercises "idempotent
// per sender" from spec §4.4.7: a second registration for the same sender
// while the first is still active is a no-op and does not replace the
// installed listener.
func TestListenForEncryptedMessage_IdempotentPerSender(t *testing.T) {
	alice := testIdentity(t, 0x69)
	bob := testIdentity(t, 0x6a)

	bobMockChat, _ := chat.NewMockClient()
	bobClient := newTestClient(t, RoleWallet, bobMockChat, bob)
	require.NoError(t, bobClient.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bobClient.Stop(ctx)
	})

	require.NoError(t, bobClient.ListenForEncryptedMessage(alice.PublicKeyHex(), func([]byte) {}))

	bobClient.listenMu.Lock()
	_, activeAfterFirst := bobClient.activeListeners[alice.ID()]
	countAfterFirst := len(bobClient.activeListeners)
	bobClient.listenMu.Unlock()

	require.NoError(t, bobClient.ListenForEncryptedMessage(alice.PublicKeyHex(), func([]byte) {}))

	bobClient.listenMu.Lock()
	_, activeAfterSecond := bobClient.activeListeners[alice.ID()]
	countAfterSecond := len(bobClient.activeListeners)
	bobClient.listenMu.Unlock()

	assert.True(t, activeAfterFirst)
	assert.True(t, activeAfterSecond)
	assert.Equal(t, countAfterFirst, countAfterSecond, "a repeat registration for the same sender must not install a second listener")
}
