// Package statestore is the client-side reconciliation layer between the
// chat sync loop and persistent storage (spec §4.3). It holds the
// in-memory view of sync progress and room membership, hydrates that
// view once from storage.KV starting at construction, and persists only the
// {syncToken, rooms} subset back after every mutation.
package statestore

import (
	"time"

	"github.com/tzconnect/beacon-core/chat"
)

// Room is the state store's view of a chat room: persisted ID/Status,
// in-memory Members, and the transient Messages buffer that is always
// cleared before the room is written to storage.
type Room struct {
	ID       string          `json:"id"`
	Status   chat.RoomStatus `json:"status"`
	Members  []string        `json:"members"`
	Messages []chat.Message  `json:"messages,omitempty"`
}

// State is the full in-memory state. Only SyncToken and Rooms survive a
// persist/hydrate round-trip (spec invariant 2).
type State struct {
	IsRunning      bool
	UserID         string
	DeviceID       string
	TxnNo          uint64
	AccessToken    string
	SyncToken      string
	PollingTimeout time.Duration
	PollingRetries uint32
	Rooms          map[string]Room
}

func emptyState() State {
	return State{Rooms: make(map[string]Room)}
}

// persisted is the on-disk shape written under storage.KeyChatState.
type persisted struct {
	SyncToken string          `json:"syncToken"`
	Rooms     map[string]Room `json:"rooms"`
}

// Partial is an update(partial) call: every field is optional (nil ==
// "leave unchanged"), except Rooms, which is untyped because the spec
// allows callers to supply either a list or a map of rooms.
type Partial struct {
	IsRunning      *bool
	UserID         *string
	DeviceID       *string
	TxnNo          *uint64
	AccessToken    *string
	SyncToken      *string
	PollingTimeout *time.Duration
	PollingRetries *uint32
	// Rooms is nil (no change), []Room, or map[string]Room.
	Rooms interface{}
}

// Delta is what changed in one update call, passed to listeners
// alongside the old and new State snapshots.
type Delta struct {
	Changed map[string]bool
	Partial Partial
}

// Listener observes a state transition. The special key "all" matches
// every update regardless of which fields changed.
type Listener func(old, new State, delta Delta)
