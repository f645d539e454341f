package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsFrame is the envelope for every message exchanged over the
// persistent connection: a request frame carries Op+Payload, a response
// frame echoes ID and carries Data or Error.
type wsFrame struct {
	ID      string          `json:"id"`
	Op      string          `json:"op,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// wsTransport drives a relay server over one persistent WebSocket
// connection, matching the teacher's pattern of a background read loop
// that demultiplexes responses to pending, per-request channels keyed
// by request ID.
type wsTransport struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan wsFrame
	closed  bool
}

// NewWebSocketClient dials a relay server's WebSocket endpoint and
// returns a chat Client driven over that single connection.
func NewWebSocketClient(ctx context.Context, url string, opts ...Option) (Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("chat: dial %s: %w", url, err)
	}
	t := &wsTransport{conn: conn, pending: make(map[string]chan wsFrame)}
	go t.readLoop()
	return newClient(t, opts...), nil
}

func (t *wsTransport) readLoop() {
	for {
		var frame wsFrame
		if err := t.conn.ReadJSON(&frame); err != nil {
			t.mu.Lock()
			for id, ch := range t.pending {
				close(ch)
				delete(t.pending, id)
			}
			t.closed = true
			t.mu.Unlock()
			return
		}

		t.mu.Lock()
		ch, ok := t.pending[frame.ID]
		if ok {
			delete(t.pending, frame.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- frame
			close(ch)
		}
	}
}

func (t *wsTransport) call(ctx context.Context, op string, payload interface{}) (wsFrame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return wsFrame{}, err
	}

	req := wsFrame{ID: uuid.NewString(), Op: op, Payload: body}
	respCh := make(chan wsFrame, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return wsFrame{}, fmt.Errorf("chat: connection closed")
	}
	t.pending[req.ID] = respCh
	t.mu.Unlock()

	if err := t.conn.WriteJSON(req); err != nil {
		return wsFrame{}, err
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			return wsFrame{}, fmt.Errorf("chat: connection closed awaiting %s", op)
		}
		if !resp.OK {
			if resp.Error == errForbidden.Error() {
				return wsFrame{}, errForbidden
			}
			return wsFrame{}, fmt.Errorf("chat: %s failed: %s", op, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		return wsFrame{}, ctx.Err()
	}
}

func (t *wsTransport) Login(ctx context.Context, opts StartOptions) (string, error) {
	resp, err := t.call(ctx, "login", opts)
	if err != nil {
		return "", err
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return "", err
	}
	return out.AccessToken, nil
}

func (t *wsTransport) Sync(ctx context.Context, token, since string) (SyncResult, error) {
	resp, err := t.call(ctx, "sync", map[string]string{"token": token, "since": since})
	if err != nil {
		return SyncResult{}, err
	}
	var out struct {
		NextBatch string       `json:"next_batch"`
		Rooms     []SyncedRoom `json:"rooms"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return SyncResult{}, err
	}
	return SyncResult{NextToken: out.NextBatch, Rooms: out.Rooms}, nil
}

func (t *wsTransport) JoinRoom(ctx context.Context, token, roomID string) error {
	_, err := t.call(ctx, "join", map[string]string{"token": token, "room_id": roomID})
	return err
}

func (t *wsTransport) CreateRoom(ctx context.Context, token string, invitees []string) (string, error) {
	resp, err := t.call(ctx, "createRoom", map[string]interface{}{"token": token, "invite": invitees})
	if err != nil {
		return "", err
	}
	var out struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return "", err
	}
	return out.RoomID, nil
}

func (t *wsTransport) Invite(ctx context.Context, token, roomID, userID string) error {
	_, err := t.call(ctx, "invite", map[string]string{"token": token, "room_id": roomID, "user_id": userID})
	return err
}

func (t *wsTransport) SendText(ctx context.Context, token, roomID, text string) error {
	_, err := t.call(ctx, "send", map[string]string{"token": token, "room_id": roomID, "body": text})
	return err
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}
