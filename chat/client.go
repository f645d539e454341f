package chat

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tzconnect/beacon-core/internal/logger"
	"github.com/tzconnect/beacon-core/internal/metrics"
)

const (
	backoffBase = 200 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// client is the Transport-agnostic sync engine shared by the HTTP and
// WebSocket clients. Both NewHTTPClient and NewWebSocketClient return a
// *client wired to a different transport implementation.
type client struct {
	tp transport

	mu          sync.RWMutex
	accessToken string
	selfID      string
	syncToken   string
	rooms       map[string]Room
	subscribers map[EventType][]Handler

	cancel context.CancelFunc
	done   chan struct{}

	metrics *metrics.Collectors
}

func newClient(tp transport, opts ...Option) *client {
	c := &client{
		tp:          tp,
		rooms:       make(map[string]Room),
		subscribers: make(map[EventType][]Handler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) Start(ctx context.Context, opts StartOptions) error {
	token, err := c.tp.Login(ctx, opts)
	if err != nil {
		return fmt.Errorf("chat: login: %w", err)
	}

	c.mu.Lock()
	c.accessToken = token
	c.selfID = opts.UserID
	c.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.syncLoop(loopCtx)
	return nil
}

func (c *client) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.tp.Close()
}

// syncLoop repeatedly long-polls the transport for incremental state,
// applying a bounded exponential backoff with full jitter across
// consecutive failures so a down relay server isn't hammered.
func (c *client) syncLoop(ctx context.Context) {
	defer close(c.done)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		token, since := c.accessToken, c.syncToken
		c.mu.RUnlock()

		result, err := c.tp.Sync(ctx, token, since)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			wait := backoffDelay(attempt)
			logger.Warn("chat: sync failed, backing off",
				logger.Error(err), logger.Duration("wait", wait))
			if c.metrics != nil {
				c.metrics.SyncFailures.Inc()
				c.metrics.SyncBackoff.Observe(wait.Seconds())
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			continue
		}

		attempt = 0
		c.applySync(result)
	}
}

func backoffDelay(attempt int) time.Duration {
	d := backoffBase * time.Duration(1<<uint(attempt-1))
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

func (c *client) applySync(result SyncResult) {
	c.mu.Lock()
	c.syncToken = result.NextToken
	var toPublish []Event
	for _, rm := range result.Rooms {
		prev, existed := c.rooms[rm.RoomID]
		room := Room{ID: rm.RoomID, Status: rm.Status, Members: rm.Members}
		c.rooms[rm.RoomID] = room

		if rm.Status == RoomStatusInvited && (!existed || prev.Status != RoomStatusInvited) {
			toPublish = append(toPublish, Event{Type: EventInvite, RoomID: rm.RoomID})
		}
		for i := range rm.Messages {
			msg := rm.Messages[i]
			toPublish = append(toPublish, Event{Type: EventMessage, RoomID: rm.RoomID, Message: &msg})
		}
	}
	if c.metrics != nil {
		var joined int
		for _, r := range c.rooms {
			if r.Status == RoomStatusJoined {
				joined++
			}
		}
		c.metrics.JoinedRoomsGauge.Set(float64(joined))
	}
	c.mu.Unlock()

	for _, ev := range toPublish {
		c.publish(ev)
	}
}

func (c *client) publish(ev Event) {
	c.mu.RLock()
	handlers := append([]Handler(nil), c.subscribers[ev.Type]...)
	c.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (c *client) Subscribe(eventType EventType, handler Handler) func() {
	c.mu.Lock()
	c.subscribers[eventType] = append(c.subscribers[eventType], handler)
	idx := len(c.subscribers[eventType]) - 1
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		handlers := c.subscribers[eventType]
		if idx < 0 || idx >= len(handlers) {
			return
		}
		c.subscribers[eventType] = append(handlers[:idx], handlers[idx+1:]...)
	}
}

func (c *client) JoinRooms(ctx context.Context, roomIDs ...string) error {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	for _, id := range roomIDs {
		if err := c.tp.JoinRoom(ctx, token, id); err != nil {
			return fmt.Errorf("chat: join room %s: %w", id, err)
		}
		c.mu.Lock()
		room := c.rooms[id]
		room.ID = id
		room.Status = RoomStatusJoined
		c.rooms[id] = room
		c.mu.Unlock()
	}
	return nil
}

func (c *client) CreateTrustedPrivateRoom(ctx context.Context, invitees ...string) (string, error) {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	roomID, err := c.tp.CreateRoom(ctx, token, invitees)
	if err != nil {
		return "", fmt.Errorf("chat: create room: %w", err)
	}

	c.mu.Lock()
	c.rooms[roomID] = Room{ID: roomID, Status: RoomStatusJoined, Members: append([]string{c.selfID}, invitees...)}
	c.mu.Unlock()
	return roomID, nil
}

func (c *client) InviteToRooms(ctx context.Context, userID string, roomIDs ...string) error {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	for _, id := range roomIDs {
		if err := c.tp.Invite(ctx, token, id, userID); err != nil {
			return fmt.Errorf("chat: invite %s to %s: %w", userID, id, err)
		}
	}
	return nil
}

func (c *client) SendTextMessage(ctx context.Context, roomID, text string) error {
	c.mu.RLock()
	token := c.accessToken
	c.mu.RUnlock()

	if err := c.tp.SendText(ctx, token, roomID, text); err != nil {
		return fmt.Errorf("chat: send to %s: %w", roomID, err)
	}
	return nil
}

func (c *client) GetRoomByID(roomID string) (Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.rooms[roomID]
	return r, ok
}

func (c *client) JoinedRooms() []string {
	return c.roomsWithStatus(RoomStatusJoined)
}

func (c *client) InvitedRooms() []string {
	return c.roomsWithStatus(RoomStatusInvited)
}

func (c *client) roomsWithStatus(status RoomStatus) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, r := range c.rooms {
		if r.Status == status {
			out = append(out, id)
		}
	}
	return out
}
