package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const syncLongPollTimeout = 30 * time.Second

// httpTransport drives a relay server's REST sync API: a POST-based
// login/room/send surface plus a long-poll GET for incremental state,
// matching how the teacher's HTTP agent transport issues a request per
// operation with a shared *http.Client.
type httpTransport struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a chat Client backed by the relay server's HTTP
// sync API at baseURL.
func NewHTTPClient(baseURL string, opts ...Option) Client {
	return newClient(&httpTransport{
		baseURL: baseURL,
		http:    &http.Client{Timeout: syncLongPollTimeout + 10*time.Second},
	}, opts...)
}

func (t *httpTransport) do(ctx context.Context, method, path string, token string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return errForbidden
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chat: http %s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *httpTransport) Login(ctx context.Context, opts StartOptions) (string, error) {
	req := map[string]string{
		"user_id":   opts.UserID,
		"password":  opts.Password,
		"device_id": opts.DeviceID,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := t.do(ctx, http.MethodPost, "/login", "", req, &resp); err != nil {
		return "", err
	}
	return resp.AccessToken, nil
}

func (t *httpTransport) Sync(ctx context.Context, token, since string) (SyncResult, error) {
	path := fmt.Sprintf("/sync?since=%s&timeout=%d", since, syncLongPollTimeout.Milliseconds())
	var resp struct {
		NextBatch string       `json:"next_batch"`
		Rooms     []SyncedRoom `json:"rooms"`
	}
	if err := t.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return SyncResult{}, err
	}
	return SyncResult{NextToken: resp.NextBatch, Rooms: resp.Rooms}, nil
}

func (t *httpTransport) JoinRoom(ctx context.Context, token, roomID string) error {
	return t.do(ctx, http.MethodPost, "/rooms/"+roomID+"/join", token, nil, nil)
}

func (t *httpTransport) CreateRoom(ctx context.Context, token string, invitees []string) (string, error) {
	req := map[string]interface{}{"invite": invitees, "preset": "trusted_private_chat"}
	var resp struct {
		RoomID string `json:"room_id"`
	}
	if err := t.do(ctx, http.MethodPost, "/createRoom", token, req, &resp); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (t *httpTransport) Invite(ctx context.Context, token, roomID, userID string) error {
	req := map[string]string{"user_id": userID}
	return t.do(ctx, http.MethodPost, "/rooms/"+roomID+"/invite", token, req, nil)
}

func (t *httpTransport) SendText(ctx context.Context, token, roomID, text string) error {
	req := map[string]string{"msgtype": "m.text", "body": text}
	path := fmt.Sprintf("/rooms/%s/send/m.room.message/%s", roomID, uuid.NewString())
	return t.do(ctx, http.MethodPut, path, token, req, nil)
}

func (t *httpTransport) Close() error {
	t.http.CloseIdleConnections()
	return nil
}
