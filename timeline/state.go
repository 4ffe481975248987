// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"sort"

	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
)

// stateKey identifies one slot in a room's state: event type plus
// state key (empty for singleton state like m.room.name).
type stateKey struct {
	Type ref.EventType
	Key  string
}

// RoomState is the current state of a room: the latest state event for
// each (type, state_key) pair, by arrival order. The server emits
// state in causal order within one sync stream, so arrival-order
// overwrite converges on the server's view.
type RoomState struct {
	entries map[stateKey]messaging.Event
}

// NewRoomState returns an empty state map.
func NewRoomState() *RoomState {
	return &RoomState{entries: map[stateKey]messaging.Event{}}
}

// Apply records a state event, unconditionally overwriting any earlier
// event for the same (type, state_key). Non-state events (no state
// key) are ignored.
func (s *RoomState) Apply(event messaging.Event) {
	if event.StateKey == nil {
		return
	}
	s.entries[stateKey{Type: event.Type, Key: *event.StateKey}] = event
}

// Get returns the latest state event for (eventType, key), if any.
func (s *RoomState) Get(eventType ref.EventType, key string) (messaging.Event, bool) {
	event, ok := s.entries[stateKey{Type: eventType, Key: key}]
	return event, ok
}

// Clone returns an independent copy of the state map. Events share
// content maps with the original; state events are never mutated after
// arrival, so the shallow copy is safe. Change notifications use Clone
// to capture the state as of the emitted position.
func (s *RoomState) Clone() *RoomState {
	entries := make(map[stateKey]messaging.Event, len(s.entries))
	for key, event := range s.entries {
		entries[key] = event
	}
	return &RoomState{entries: entries}
}

// Name returns the room's m.room.name, or "" if unset.
func (s *RoomState) Name() string {
	return s.contentString(ref.TypeRoomName, "name")
}

// Topic returns the room's m.room.topic, or "" if unset.
func (s *RoomState) Topic() string {
	return s.contentString(ref.TypeRoomTopic, "topic")
}

// CanonicalAlias returns the room's canonical alias, or "" if unset.
func (s *RoomState) CanonicalAlias() string {
	return s.contentString(ref.TypeRoomCanonical, "alias")
}

// Members returns the user IDs of all joined members, sorted.
func (s *RoomState) Members() []ref.UserID {
	var members []ref.UserID
	for key, event := range s.entries {
		if key.Type != ref.TypeRoomMember {
			continue
		}
		if membership, _ := event.Content["membership"].(string); membership != "join" {
			continue
		}
		userID, err := ref.ParseUserID(key.Key)
		if err != nil {
			continue
		}
		members = append(members, userID)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})
	return members
}

// Member returns the m.room.member event for userID, if present.
func (s *RoomState) Member(userID ref.UserID) (messaging.Event, bool) {
	return s.Get(ref.TypeRoomMember, userID.String())
}

// MemberDisplayName returns the display name for userID, falling back
// to the user ID string when the member has no displayname set or is
// not in the room.
func (s *RoomState) MemberDisplayName(userID ref.UserID) string {
	event, ok := s.Member(userID)
	if !ok {
		return userID.String()
	}
	if name, _ := event.Content["displayname"].(string); name != "" {
		return name
	}
	return userID.String()
}

// DisplayName computes a human-readable room name: the explicit
// m.room.name if set, else the canonical alias, else a summary built
// from the other members' display names, else "Empty Room". self is
// excluded from the member summary so a direct chat is named after the
// peer.
func (s *RoomState) DisplayName(self ref.UserID) string {
	if name := s.Name(); name != "" {
		return name
	}
	if alias := s.CanonicalAlias(); alias != "" {
		return alias
	}

	var others []string
	for _, member := range s.Members() {
		if member == self {
			continue
		}
		others = append(others, s.MemberDisplayName(member))
	}

	switch len(others) {
	case 0:
		return "Empty Room"
	case 1:
		return others[0]
	case 2:
		return others[0] + " and " + others[1]
	default:
		return fmt.Sprintf("%s and %d others", others[0], len(others)-1)
	}
}

func (s *RoomState) contentString(eventType ref.EventType, key string) string {
	event, ok := s.Get(eventType, "")
	if !ok {
		return ""
	}
	value, _ := event.Content[key].(string)
	return value
}
