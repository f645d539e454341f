package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/tzconnect/beacon-core/storage"
)

// allListenersKey is the reserved key under which 'all' listeners are
// registered, matching the per-key listener map's other entries.
const allListenersKey = "all"

// Store is the client-side state store described in spec §4.3: created
// empty, hydrated once from storage, then mutated only through
// serialized Update calls.
type Store struct {
	kv storage.KV

	hydrated    chan struct{}
	hydrateOnce sync.Once

	mu        sync.Mutex // serializes Update calls after hydration
	state     State
	listeners map[string][]Listener
	nextID    int
}

// New creates an empty store and kicks off a one-shot hydration read
// from kv. Update calls block until hydration completes.
func New(ctx context.Context, kv storage.KV) *Store {
	s := &Store{
		kv:        kv,
		hydrated:  make(chan struct{}),
		state:     emptyState(),
		listeners: make(map[string][]Listener),
	}
	go s.hydrate(ctx)
	return s
}

func (s *Store) hydrate(ctx context.Context) {
	defer close(s.hydrated)

	raw, err := s.kv.Get(ctx, storage.KeyChatState)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return
		}
		return
	}

	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return
	}

	s.mu.Lock()
	s.state.SyncToken = p.SyncToken
	if p.Rooms != nil {
		s.state.Rooms = p.Rooms
	}
	s.mu.Unlock()
}

func (s *Store) awaitHydration(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a snapshot copy of the current state. It does not wait
// for hydration; callers that need the hydrated view should use Update
// (even a no-op Partial{}) first, or read after awaiting Ready().
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Ready returns a channel closed once hydration completes.
func (s *Store) Ready() <-chan struct{} {
	return s.hydrated
}

func (s *Store) snapshot() State {
	cp := s.state
	cp.Rooms = make(map[string]Room, len(s.state.Rooms))
	for id, r := range s.state.Rooms {
		cp.Rooms[id] = r
	}
	return cp
}

// GetRoom looks up a room by ID.
func (s *Store) GetRoom(id string) (Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.state.Rooms[id]
	return r, ok
}

// Update applies partial to the state, persists {syncToken, rooms} if
// either was part of the change and truthy, and notifies listeners.
// It awaits hydration first, so no update is ever lost to a startup
// race (spec §4.3 "Hydration").
func (s *Store) Update(ctx context.Context, partial Partial) (State, error) {
	if err := s.awaitHydration(ctx); err != nil {
		return State{}, err
	}

	s.mu.Lock()
	old := s.snapshot()
	changed := applyPartial(&s.state, partial)
	newState := s.snapshot()

	if changed[fieldSyncToken] || changed[fieldRooms] {
		if (partial.SyncToken != nil && *partial.SyncToken != "") || partial.Rooms != nil {
			if err := s.persist(ctx, newState); err != nil {
				s.mu.Unlock()
				return newState, err
			}
		}
	}
	s.mu.Unlock()

	s.notify(old, newState, Delta{Changed: changed, Partial: partial})
	return newState, nil
}

const (
	fieldIsRunning      = "isRunning"
	fieldUserID         = "userId"
	fieldDeviceID       = "deviceId"
	fieldTxnNo          = "txnNo"
	fieldAccessToken    = "accessToken"
	fieldSyncToken      = "syncToken"
	fieldPollingTimeout = "pollingTimeout"
	fieldPollingRetries = "pollingRetries"
	fieldRooms          = "rooms"
)

// applyPartial mutates state in place and returns the set of field keys
// actually changed, for notification routing.
func applyPartial(state *State, p Partial) map[string]bool {
	changed := make(map[string]bool)

	if p.IsRunning != nil {
		state.IsRunning = *p.IsRunning
		changed[fieldIsRunning] = true
	}
	if p.UserID != nil {
		state.UserID = *p.UserID
		changed[fieldUserID] = true
	}
	if p.DeviceID != nil {
		state.DeviceID = *p.DeviceID
		changed[fieldDeviceID] = true
	}
	if p.TxnNo != nil {
		state.TxnNo = *p.TxnNo
		changed[fieldTxnNo] = true
	}
	if p.AccessToken != nil {
		state.AccessToken = *p.AccessToken
		changed[fieldAccessToken] = true
	}
	if p.SyncToken != nil {
		state.SyncToken = *p.SyncToken
		changed[fieldSyncToken] = true
	}
	if p.PollingTimeout != nil {
		state.PollingTimeout = *p.PollingTimeout
		changed[fieldPollingTimeout] = true
	}
	if p.PollingRetries != nil {
		state.PollingRetries = *p.PollingRetries
		changed[fieldPollingRetries] = true
	}
	if incoming := normalizeRooms(p.Rooms); incoming != nil {
		state.Rooms = mergeRooms(state.Rooms, incoming)
		changed[fieldRooms] = true
	}

	return changed
}

// persist writes {syncToken, rooms} with each room's Messages and
// Members cleared (spec §4.3 "persistence policy", invariant 3).
func (s *Store) persist(ctx context.Context, state State) error {
	rooms := make(map[string]Room, len(state.Rooms))
	for id, r := range state.Rooms {
		r.Messages = nil
		r.Members = nil
		rooms[id] = r
	}

	raw, err := json.Marshal(persisted{SyncToken: state.SyncToken, Rooms: rooms})
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, storage.KeyChatState, raw)
}

// OnStateChanged registers listener for the given keys ("all" matches
// every update). It returns an unsubscribe function.
func (s *Store) OnStateChanged(listener Listener, keys ...string) func() {
	if len(keys) == 0 {
		keys = []string{allListenersKey}
	}

	s.mu.Lock()
	type handle struct {
		key string
		idx int
	}
	var handles []handle
	for _, k := range keys {
		s.listeners[k] = append(s.listeners[k], listener)
		handles = append(handles, handle{key: k, idx: len(s.listeners[k]) - 1})
	}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, h := range handles {
			list := s.listeners[h.key]
			if h.idx < 0 || h.idx >= len(list) {
				continue
			}
			s.listeners[h.key] = append(list[:h.idx], list[h.idx+1:]...)
		}
	}
}

func (s *Store) notify(old, new State, delta Delta) {
	s.mu.Lock()
	var toRun []Listener
	for key, changed := range delta.Changed {
		if !changed {
			continue
		}
		toRun = append(toRun, s.listeners[key]...)
	}
	toRun = append(toRun, s.listeners[allListenersKey]...)
	s.mu.Unlock()

	for _, l := range toRun {
		l(old, new, delta)
	}
}
