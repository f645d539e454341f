// Package chat is the federated-room transport the pairing core runs over
// (spec §1: "tunneled through a Matrix-style federated chat substrate").
// It exposes joined/invited rooms, text message delivery and an
// event-subscription model; the actual wire protocol talking to a relay
// homeserver is swappable behind the transport interface (httpTransport,
// wsTransport, and a mock used by tests).
package chat

import (
	"context"
	"errors"
	"time"
)

// RoomStatus is the local view of a room's membership state.
type RoomStatus string

const (
	RoomStatusJoined  RoomStatus = "joined"
	RoomStatusInvited RoomStatus = "invited"
	RoomStatusLeft    RoomStatus = "left"
)

// Room is a federated chat room as seen by this client.
type Room struct {
	ID      string     `json:"id"`
	Status  RoomStatus `json:"status"`
	Members []string   `json:"members"`
}

// HasMember reports whether userID is among the room's known members.
func (r Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// EventType distinguishes the kinds of events a Client publishes to
// subscribers.
type EventType string

const (
	// EventMessage fires for every text message received in a joined room.
	EventMessage EventType = "message"
	// EventInvite fires when this identity is invited to a new room.
	EventInvite EventType = "invite"
)

// Message is a single text message delivered in a room.
type Message struct {
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is published to subscribers on the corresponding EventType.
type Event struct {
	Type    EventType
	RoomID  string
	Message *Message // set when Type == EventMessage
}

// Handler receives published events. Handlers run on the client's sync
// goroutine and must not block.
type Handler func(Event)

// StartOptions configures a Client's login to the relay server.
type StartOptions struct {
	ServerURL string
	UserID    string
	Password  string
	DeviceID  string
}

// ErrNotStarted is returned by operations that require a running Client.
var ErrNotStarted = errors.New("chat: client not started")

// ErrRoomNotFound is returned when a room ID has no known local state.
var ErrRoomNotFound = errors.New("chat: room not found")

// Client is the chat substrate surface the pairing core depends on
// (spec §4.2). Exactly one concrete Transport backs it.
type Client interface {
	// Start logs into the relay server and begins the background sync
	// loop. Start must be called before any other method.
	Start(ctx context.Context, opts StartOptions) error
	// Stop halts the sync loop and releases transport resources.
	Stop(ctx context.Context) error

	JoinRooms(ctx context.Context, roomIDs ...string) error
	CreateTrustedPrivateRoom(ctx context.Context, invitees ...string) (string, error)
	InviteToRooms(ctx context.Context, userID string, roomIDs ...string) error
	SendTextMessage(ctx context.Context, roomID, text string) error

	GetRoomByID(roomID string) (Room, bool)
	JoinedRooms() []string
	InvitedRooms() []string

	Subscribe(eventType EventType, handler Handler) (unsubscribe func())
}
