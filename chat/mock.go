package chat

import (
	"context"
	"sync"
)

// sentMessage records one SendText call observed by a MockTransport.
type sentMessage struct {
	RoomID string
	Body   string
}

// MockTransport is a test double for transport, grounded on the
// teacher's mock-transport pattern: it captures every call it receives
// and lets a test script responses (including forced errors) instead of
// talking to a real relay server. Tests drive Sync results by calling
// QueueSync; a Sync call with an empty queue blocks until one arrives
// or the context is cancelled.
type MockTransport struct {
	LoginFunc func(ctx context.Context, opts StartOptions) (string, error)
	JoinFunc  func(ctx context.Context, roomID string) error
	SendFunc  func(ctx context.Context, roomID, text string) error
	InviteErr error
	SendErr   error
	CreateErr error

	mu           sync.Mutex
	syncQueue    []SyncResult
	syncWake     chan struct{}
	SentMessages []sentMessage
	Joined       []string
	Invited      []struct{ RoomID, UserID string }
	Created      [][]string
	closed       bool
}

// NewMockClient returns a chat Client backed by a fresh MockTransport,
// for use in tests that exercise routing/statestore/pairing logic
// without a real relay server.
func NewMockClient(opts ...Option) (Client, *MockTransport) {
	mt := &MockTransport{syncWake: make(chan struct{}, 1)}
	return newClient(mt, opts...), mt
}

// QueueSync enqueues a SyncResult the next Sync call will return.
func (m *MockTransport) QueueSync(r SyncResult) {
	m.mu.Lock()
	m.syncQueue = append(m.syncQueue, r)
	m.mu.Unlock()
	select {
	case m.syncWake <- struct{}{}:
	default:
	}
}

func (m *MockTransport) Login(ctx context.Context, opts StartOptions) (string, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, opts)
	}
	return "mock-token", nil
}

func (m *MockTransport) Sync(ctx context.Context, token, since string) (SyncResult, error) {
	for {
		m.mu.Lock()
		if len(m.syncQueue) > 0 {
			r := m.syncQueue[0]
			m.syncQueue = m.syncQueue[1:]
			m.mu.Unlock()
			return r, nil
		}
		m.mu.Unlock()

		select {
		case <-m.syncWake:
			continue
		case <-ctx.Done():
			return SyncResult{}, ctx.Err()
		}
	}
}

func (m *MockTransport) JoinRoom(ctx context.Context, token, roomID string) error {
	if m.JoinFunc != nil {
		if err := m.JoinFunc(ctx, roomID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Joined = append(m.Joined, roomID)
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) CreateRoom(ctx context.Context, token string, invitees []string) (string, error) {
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = append(m.Created, invitees)
	return "!mock-room:relay", nil
}

func (m *MockTransport) Invite(ctx context.Context, token, roomID, userID string) error {
	if m.InviteErr != nil {
		return m.InviteErr
	}
	m.mu.Lock()
	m.Invited = append(m.Invited, struct{ RoomID, UserID string }{roomID, userID})
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) SendText(ctx context.Context, token, roomID, text string) error {
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, roomID, text); err != nil {
			return err
		}
	} else if m.SendErr != nil {
		return m.SendErr
	}
	m.mu.Lock()
	m.SentMessages = append(m.SentMessages, sentMessage{RoomID: roomID, Body: text})
	m.mu.Unlock()
	return nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
