// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package ref

// EventType identifies a Matrix state or timeline event type (e.g.,
// "m.room.message", "m.room.member").
//
// EventType is a named string type, not a struct wrapper: event types
// are opaque identifiers that need no parsing or validation. The type
// exists purely for compile-time safety — preventing accidental use of
// a state key where an event type is expected (or vice versa).
type EventType string

// Standard Matrix event types the engine itself inspects. Message
// bodies and other content-level constants belong to callers.
const (
	TypeRoomCreate      EventType = "m.room.create"
	TypeRoomMember      EventType = "m.room.member"
	TypeRoomName        EventType = "m.room.name"
	TypeRoomTopic       EventType = "m.room.topic"
	TypeRoomAliases     EventType = "m.room.aliases"
	TypeRoomCanonical   EventType = "m.room.canonical_alias"
	TypeRoomJoinRules   EventType = "m.room.join_rules"
	TypeRoomPowerLevels EventType = "m.room.power_levels"
	TypeRoomMessage     EventType = "m.room.message"
	TypeRoomRedaction   EventType = "m.room.redaction"
)

// String returns the event type string (e.g., "m.room.message").
func (t EventType) String() string { return string(t) }
