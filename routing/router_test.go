package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzconnect/beacon-core/chat"
	"github.com/tzconnect/beacon-core/storage"
)

func startedMockClient(t *testing.T) (chat.Client, *chat.MockTransport) {
	t.Helper()
	c, mt := chat.NewMockClient()
	require.NoError(t, c.Start(context.Background(), chat.StartOptions{UserID: "@alice:relay"}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c, mt
}

func TestRouter_UsesPersistedBinding(t *testing.T) {
	kv := storage.NewMemoryKV()
	c, _ := startedMockClient(t)
	r := New(kv, c)

	require.NoError(t, kv.Set(context.Background(), storage.KeyPeerRoomIDs, []byte(`{"@bob:relay":"!cached:relay"}`)))

	roomID, err := r.GetRelevantRoom(context.Background(), "@bob:relay")
	require.NoError(t, err)
	assert.Equal(t, "!cached:relay", roomID)
}

func TestRouter_ScansJoinedRoomsForMember(t *testing.T) {
	kv := storage.NewMemoryKV()
	c, mt := startedMockClient(t)
	r := New(kv, c)

	mt.QueueSync(chat.SyncResult{
		NextToken: "t1",
		Rooms: []chat.SyncedRoom{{
			RoomID:  "!shared:relay",
			Status:  chat.RoomStatusJoined,
			Members: []string{"@alice:relay", "@bob:relay"},
		}},
	})
	require.Eventually(t, func() bool {
		room, ok := c.GetRoomByID("!shared:relay")
		return ok && room.HasMember("@bob:relay")
	}, time.Second, 10*time.Millisecond)

	roomID, err := r.GetRelevantRoom(context.Background(), "@bob:relay")
	require.NoError(t, err)
	assert.Equal(t, "!shared:relay", roomID)

	raw, err := kv.Get(context.Background(), storage.KeyPeerRoomIDs)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "!shared:relay")
}

func TestRouter_ConsumesStandbyRoom(t *testing.T) {
	kv := storage.NewMemoryKV()
	c, mt := startedMockClient(t)
	r := New(kv, c)

	require.NoError(t, kv.Set(context.Background(), storage.KeyStandbyRoom, []byte("!standby:relay")))

	roomID, err := r.GetRelevantRoom(context.Background(), "@carol:relay")
	require.NoError(t, err)
	assert.Equal(t, "!standby:relay", roomID)

	require.Len(t, mt.Invited, 1)
	assert.Equal(t, "@carol:relay", mt.Invited[0].UserID)

	// The replacement standby room is provisioned asynchronously;
	// eventually a new (different) one appears in storage.
	require.Eventually(t, func() bool {
		_, err := kv.Get(context.Background(), storage.KeyStandbyRoom)
		return err == nil
	}, time.Second, 10*time.Millisecond)

	newStandby, err := kv.Get(context.Background(), storage.KeyStandbyRoom)
	require.NoError(t, err)
	assert.NotEqual(t, "!standby:relay", string(newStandby))
}

func TestRouter_CreatesTrustedPrivateRoomAsLastResort(t *testing.T) {
	kv := storage.NewMemoryKV()
	c, mt := startedMockClient(t)
	r := New(kv, c)

	roomID, err := r.GetRelevantRoom(context.Background(), "@dave:relay")
	require.NoError(t, err)
	assert.Equal(t, "!mock-room:relay", roomID)
	assert.Equal(t, [][]string{{"@dave:relay"}}, mt.Created)
}

func TestRouter_DeleteRoomIDFromRooms(t *testing.T) {
	kv := storage.NewMemoryKV()
	c, _ := startedMockClient(t)
	r := New(kv, c)

	require.NoError(t, kv.Set(context.Background(), storage.KeyPeerRoomIDs,
		[]byte(`{"@bob:relay":"!x:relay","@carol:relay":"!y:relay"}`)))

	require.NoError(t, r.DeleteRoomIDFromRooms(context.Background(), "!x:relay"))

	raw, err := kv.Get(context.Background(), storage.KeyPeerRoomIDs)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "!x:relay")
	assert.Contains(t, string(raw), "!y:relay")
}
