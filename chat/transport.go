package chat

import "context"

// SyncedRoom is one room's delta as returned by a Transport.Sync call.
type SyncedRoom struct {
	RoomID   string
	Status   RoomStatus
	Members  []string
	Messages []Message
}

// SyncResult is the incremental state a Transport.Sync call returns.
type SyncResult struct {
	NextToken string
	Rooms     []SyncedRoom
}

// transport is the wire-protocol boundary a Client drives. The federated
// chat substrate is a black box above this interface: Client only needs
// login, a long-poll-shaped incremental sync, and room/message mutation
// calls. httpTransport and wsTransport are the two real implementations;
// MockTransport backs tests.
type transport interface {
	Login(ctx context.Context, opts StartOptions) (accessToken string, err error)
	Sync(ctx context.Context, accessToken, since string) (SyncResult, error)
	JoinRoom(ctx context.Context, accessToken, roomID string) error
	CreateRoom(ctx context.Context, accessToken string, invitees []string) (roomID string, err error)
	Invite(ctx context.Context, accessToken, roomID, userID string) error
	SendText(ctx context.Context, accessToken, roomID, text string) error
	Close() error
}
