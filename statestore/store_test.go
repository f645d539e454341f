package statestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tzconnect/beacon-core/chat"
	"github.com/tzconnect/beacon-core/storage"
)

func strPtr(s string) *string { return &s }

func TestStore_HydrationBlocksUpdate(t *testing.T) {
	kv := storage.NewMemoryKV()
	seed := persisted{SyncToken: "tok-1", Rooms: map[string]Room{
		"!a:relay": {ID: "!a:relay", Status: chat.RoomStatusJoined},
	}}
	raw, err := json.Marshal(seed)
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), storage.KeyChatState, raw))

	s := New(context.Background(), kv)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := s.Update(ctx, Partial{})
	require.NoError(t, err)

	assert.Equal(t, "tok-1", state.SyncToken)
	room, ok := state.Rooms["!a:relay"]
	require.True(t, ok)
	assert.Equal(t, chat.RoomStatusJoined, room.Status)
}

func TestStore_OnlySyncTokenAndRoomsPersist(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := New(context.Background(), kv)

	ctx := context.Background()
	_, err := s.Update(ctx, Partial{
		IsRunning: boolPtr(true),
		UserID:    strPtr("@alice:relay"),
		SyncToken: strPtr("tok-2"),
		Rooms:     []Room{{ID: "!a:relay", Status: chat.RoomStatusJoined}},
	})
	require.NoError(t, err)

	raw, err := kv.Get(ctx, storage.KeyChatState)
	require.NoError(t, err)

	var onDisk map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &onDisk))

	assert.ElementsMatch(t, []string{"syncToken", "rooms"}, keys(onDisk))
}

func TestStore_MessagesNotPersisted(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := New(context.Background(), kv)
	ctx := context.Background()

	_, err := s.Update(ctx, Partial{
		SyncToken: strPtr("tok-3"),
		Rooms: []Room{{
			ID:       "!a:relay",
			Status:   chat.RoomStatusJoined,
			Messages: []chat.Message{{RoomID: "!a:relay", Body: "hi"}},
		}},
	})
	require.NoError(t, err)

	s2 := New(ctx, kv)
	<-s2.Ready()
	room, ok := s2.GetRoom("!a:relay")
	require.True(t, ok)
	assert.Empty(t, room.Messages)
}

func TestStore_MergeMonotonicity(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := New(context.Background(), kv)
	ctx := context.Background()

	_, err := s.Update(ctx, Partial{Rooms: []Room{{
		ID: "!a:relay", Status: chat.RoomStatusInvited, Members: []string{"@alice:relay"},
	}}})
	require.NoError(t, err)

	state, err := s.Update(ctx, Partial{Rooms: []Room{{
		ID: "!a:relay", Status: chat.RoomStatusJoined, Members: []string{"@bob:relay"},
	}}})
	require.NoError(t, err)

	room := state.Rooms["!a:relay"]
	assert.Equal(t, chat.RoomStatusJoined, room.Status)
	assert.ElementsMatch(t, []string{"@alice:relay", "@bob:relay"}, room.Members)
}

func TestStore_NotifiesPerKeyAndAllListeners(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := New(context.Background(), kv)
	ctx := context.Background()

	var perKeyCalls, allCalls int
	s.OnStateChanged(func(old, new State, delta Delta) { perKeyCalls++ }, fieldSyncToken)
	s.OnStateChanged(func(old, new State, delta Delta) { allCalls++ })

	_, err := s.Update(ctx, Partial{SyncToken: strPtr("tok")})
	require.NoError(t, err)
	_, err = s.Update(ctx, Partial{UserID: strPtr("@alice:relay")})
	require.NoError(t, err)

	assert.Equal(t, 1, perKeyCalls)
	assert.Equal(t, 2, allCalls)
}

func TestStore_Unsubscribe(t *testing.T) {
	kv := storage.NewMemoryKV()
	s := New(context.Background(), kv)
	ctx := context.Background()

	var calls int
	unsub := s.OnStateChanged(func(old, new State, delta Delta) { calls++ })
	unsub()

	_, err := s.Update(ctx, Partial{SyncToken: strPtr("tok")})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
}

func boolPtr(b bool) *bool { return &b }

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
