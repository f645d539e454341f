package statestore

import "github.com/tzconnect/beacon-core/chat"

// normalizeRooms accepts the interface{} a Partial.Rooms may hold
// ([]Room or map[string]Room) and returns a map keyed by room ID.
func normalizeRooms(v interface{}) map[string]Room {
	switch rooms := v.(type) {
	case nil:
		return nil
	case []Room:
		out := make(map[string]Room, len(rooms))
		for _, r := range rooms {
			out[r.ID] = r
		}
		return out
	case map[string]Room:
		return rooms
	default:
		return nil
	}
}

// mergeRooms applies incoming room updates onto the existing room map:
// new rooms are added, existing rooms merge per mergeRoom, and rooms
// absent from incoming retain their prior state untouched (spec §4.3
// "merge semantics for rooms").
func mergeRooms(existing map[string]Room, incoming map[string]Room) map[string]Room {
	merged := make(map[string]Room, len(existing)+len(incoming))
	for id, r := range existing {
		merged[id] = r
	}
	for id, next := range incoming {
		prev, ok := merged[id]
		if !ok {
			merged[id] = next
			continue
		}
		merged[id] = mergeRoom(prev, next)
	}
	return merged
}

// mergeRoom takes the newer status and unions members/messages,
// preserving history from the prior snapshot (spec invariant 4).
func mergeRoom(prev, next Room) Room {
	return Room{
		ID:       prev.ID,
		Status:   resolveStatus(prev.Status, next.Status),
		Members:  unionStrings(prev.Members, next.Members),
		Messages: append(append([]chat.Message{}, prev.Messages...), next.Messages...),
	}
}

// resolveStatus prefers next's status when it represents the room's
// current server-reported state; an empty/zero next.Status means "no
// change reported", so prev is kept.
func resolveStatus(prev, next chat.RoomStatus) chat.RoomStatus {
	if next == "" {
		return prev
	}
	return next
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
