// Package routing maps a peer's recipient address to a chat room
// (spec §4.5), caching the binding in persistent storage and falling
// back through a joined-room member scan, a pre-provisioned standby
// room, and finally creating a fresh trusted private room.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tzconnect/beacon-core/chat"
	"github.com/tzconnect/beacon-core/internal/logger"
	"github.com/tzconnect/beacon-core/storage"
)

// Router resolves recipient -> roomID bindings. It is the single owner
// of the peer-room-ids and standby-room storage keys (spec §5
// "Shared-resource policy").
type Router struct {
	kv   storage.KV
	chat chat.Client

	mu sync.Mutex
}

// New builds a Router over kv and the given chat client.
func New(kv storage.KV, c chat.Client) *Router {
	return &Router{kv: kv, chat: c}
}

// GetRelevantRoom resolves recipient to a room ID, trying in order: the
// persisted cache, a scan of joined rooms' membership, the standby
// room, then creating a fresh trusted private room.
func (r *Router) GetRelevantRoom(ctx context.Context, recipient string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings, err := r.loadBindings(ctx)
	if err != nil {
		return "", err
	}

	if roomID, ok := bindings[recipient]; ok {
		return roomID, nil
	}

	if roomID, ok := r.scanJoinedRooms(recipient); ok {
		if err := r.saveBinding(ctx, bindings, recipient, roomID); err != nil {
			return "", err
		}
		return roomID, nil
	}

	if roomID, ok, err := r.consumeStandbyRoom(ctx, recipient); err != nil {
		return "", err
	} else if ok {
		if err := r.saveBinding(ctx, bindings, recipient, roomID); err != nil {
			return "", err
		}
		return roomID, nil
	}

	roomID, err := r.chat.CreateTrustedPrivateRoom(ctx, recipient)
	if err != nil {
		return "", fmt.Errorf("routing: create trusted private room for %s: %w", recipient, err)
	}
	if err := r.saveBinding(ctx, bindings, recipient, roomID); err != nil {
		return "", err
	}
	return roomID, nil
}

func (r *Router) scanJoinedRooms(recipient string) (string, bool) {
	for _, id := range r.chat.JoinedRooms() {
		room, ok := r.chat.GetRoomByID(id)
		if ok && room.HasMember(recipient) {
			return id, true
		}
	}
	return "", false
}

func (r *Router) consumeStandbyRoom(ctx context.Context, recipient string) (string, bool, error) {
	raw, err := r.kv.Get(ctx, storage.KeyStandbyRoom)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	roomID := string(raw)
	if roomID == "" {
		return "", false, nil
	}

	if err := r.kv.Delete(ctx, storage.KeyStandbyRoom); err != nil {
		return "", false, err
	}
	// Provisioning the replacement is not on this call's critical path;
	// failures are logged, not surfaced, since the consumed room is
	// already usable for this pairing.
	go func() {
		if err := r.EnsureStandbyRoom(context.Background()); err != nil {
			logger.Warn("routing: failed to provision replacement standby room", logger.Error(err))
		}
	}()

	if err := r.chat.InviteToRooms(ctx, recipient, roomID); err != nil {
		return "", false, fmt.Errorf("routing: invite %s to standby room %s: %w", recipient, roomID, err)
	}
	return roomID, true, nil
}

// EnsureStandbyRoom creates an empty trusted private room and stores it
// as the standby room, if none is already present (spec §4.4.1 step 8,
// §8 S4). Safe to call repeatedly; a no-op when a standby room exists.
func (r *Router) EnsureStandbyRoom(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.kv.Get(ctx, storage.KeyStandbyRoom); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	roomID, err := r.chat.CreateTrustedPrivateRoom(ctx)
	if err != nil {
		return fmt.Errorf("routing: create standby room: %w", err)
	}
	return r.kv.Set(ctx, storage.KeyStandbyRoom, []byte(roomID))
}

// DeleteRoomIDFromRooms removes every peer-room-ids entry pointing at
// roomID, triggered by a "forbidden" error on send (spec §4.5).
func (r *Router) DeleteRoomIDFromRooms(ctx context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bindings, err := r.loadBindings(ctx)
	if err != nil {
		return err
	}

	filtered := make(map[string]string, len(bindings))
	for recipient, id := range bindings {
		if id != roomID {
			filtered[recipient] = id
		}
	}
	return r.storeBindings(ctx, filtered)
}

func (r *Router) loadBindings(ctx context.Context) (map[string]string, error) {
	raw, err := r.kv.Get(ctx, storage.KeyPeerRoomIDs)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	var bindings map[string]string
	if err := json.Unmarshal(raw, &bindings); err != nil {
		return nil, fmt.Errorf("routing: decode peer-room-ids: %w", err)
	}
	if bindings == nil {
		bindings = make(map[string]string)
	}
	return bindings, nil
}

func (r *Router) storeBindings(ctx context.Context, bindings map[string]string) error {
	raw, err := json.Marshal(bindings)
	if err != nil {
		return fmt.Errorf("routing: encode peer-room-ids: %w", err)
	}
	return r.kv.Set(ctx, storage.KeyPeerRoomIDs, raw)
}

func (r *Router) saveBinding(ctx context.Context, bindings map[string]string, recipient, roomID string) error {
	bindings[recipient] = roomID
	return r.storeBindings(ctx, bindings)
}
