// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"github.com/hearth-im/hearth/lib/ref"
)

// LoginRequest is the request body for password login.
type LoginRequest struct {
	Type                     string          `json:"type"`
	Identifier               LoginIdentifier `json:"identifier"`
	Password                 string          `json:"password"`
	DeviceID                 string          `json:"device_id,omitempty"`
	InitialDeviceDisplayName string          `json:"initial_device_display_name,omitempty"`
}

// LoginIdentifier identifies the account being logged into.
type LoginIdentifier struct {
	Type string `json:"type"` // "m.id.user"
	User string `json:"user"`
}

// AuthResponse is returned by Login.
type AuthResponse struct {
	UserID      ref.UserID `json:"user_id"`
	AccessToken string     `json:"access_token"`
	DeviceID    string     `json:"device_id"`
}

// Event represents a Matrix event from the server.
//
// Content is kept as a generic map rather than a per-type struct: the
// timeline stores events of arbitrary types, redaction rewrites
// Content in place through a per-type allow-list, and unknown event
// types must round-trip through the cache unchanged.
type Event struct {
	EventID        ref.EventID    `json:"event_id"`
	Type           ref.EventType  `json:"type"`
	Sender         ref.UserID     `json:"sender"`
	OriginServerTS int64          `json:"origin_server_ts"`
	Content        map[string]any `json:"content"`
	RoomID         ref.RoomID     `json:"room_id,omitempty"`
	StateKey       *string        `json:"state_key,omitempty"`
	// Redacts is the target of an m.room.redaction event. Present at
	// the top level in room versions before 11; newer servers put it
	// in Content as well.
	Redacts  *ref.EventID   `json:"redacts,omitempty"`
	Unsigned *EventUnsigned `json:"unsigned,omitempty"`
}

// IsState reports whether the event is a state event. State events
// always carry a state key, possibly empty.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// RedactsTarget returns the event ID an m.room.redaction event points
// at, checking the top-level field first and falling back to Content
// for room version 11+. Returns a zero EventID for non-redaction
// events or malformed redactions.
func (e *Event) RedactsTarget() ref.EventID {
	if e.Type != ref.TypeRoomRedaction {
		return ref.EventID{}
	}
	if e.Redacts != nil && !e.Redacts.IsZero() {
		return *e.Redacts
	}
	if raw, ok := e.Content["redacts"].(string); ok {
		if target, err := ref.ParseEventID(raw); err == nil {
			return target
		}
	}
	return ref.EventID{}
}

// EventUnsigned holds optional unsigned data attached to events.
type EventUnsigned struct {
	Age           int64  `json:"age,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	// RedactedBecause carries the redaction event when the server
	// returns an already-redacted event.
	RedactedBecause *Event `json:"redacted_because,omitempty"`
}

// MessageContent is the content body of a Matrix message event
// (m.room.message).
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// NewTextMessage creates a plain text message.
func NewTextMessage(body string) MessageContent {
	return MessageContent{
		MsgType: "m.text",
		Body:    body,
	}
}

// NewEmote creates an emote ("/me") message.
func NewEmote(body string) MessageContent {
	return MessageContent{
		MsgType: "m.emote",
		Body:    body,
	}
}

// SyncOptions controls the behavior of the /sync endpoint.
type SyncOptions struct {
	Since      string // next_batch token from previous sync; empty for initial sync
	Timeout    int    // long-poll timeout in milliseconds; 0 for immediate return
	SetTimeout bool   // if true, send the timeout parameter (needed to distinguish "not set" from "0")
	Filter     string // filter ID or inline JSON filter
}

// SyncResponse is the top-level response from /sync.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection contains per-room sync data grouped by membership state.
// Map keys are room IDs; encoding/json uses ref.RoomID's TextUnmarshaler
// for automatic validation at deserialization.
type RoomsSection struct {
	Join   map[ref.RoomID]JoinedRoom  `json:"join,omitempty"`
	Invite map[ref.RoomID]InvitedRoom `json:"invite,omitempty"`
	Leave  map[ref.RoomID]LeftRoom    `json:"leave,omitempty"`
}

// JoinedRoom contains sync data for a room the user has joined.
type JoinedRoom struct {
	Timeline            TimelineSection     `json:"timeline"`
	State               StateSection        `json:"state"`
	UnreadNotifications UnreadNotifications `json:"unread_notifications"`
}

// InvitedRoom contains sync data for a room the user was invited to.
// InviteState is a partial state snapshot (stripped events) good
// enough to render the invite: room name, inviter, avatar.
type InvitedRoom struct {
	InviteState StateSection `json:"invite_state"`
}

// LeftRoom contains sync data for a room the user has left.
type LeftRoom struct {
	Timeline TimelineSection `json:"timeline"`
	State    StateSection    `json:"state"`
}

// TimelineSection contains timeline events from a sync response.
//
// Limited means the server truncated the timeline: events occurred
// between the previous sync position and the oldest event here, and
// they can only be recovered by paginating backward from PrevBatch.
type TimelineSection struct {
	Events    []Event `json:"events"`
	PrevBatch string  `json:"prev_batch"`
	Limited   bool    `json:"limited"`
}

// StateSection contains state events from a sync response.
type StateSection struct {
	Events []Event `json:"events"`
}

// UnreadNotifications carries the server-computed unread counters for
// a joined room.
type UnreadNotifications struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

// RoomMessagesOptions controls pagination for room message fetching.
type RoomMessagesOptions struct {
	From      string // pagination token; empty means "from now"
	Direction string // "b" (backward/older) or "f" (forward/newer)
	Limit     int    // max events to return; 0 uses server default
}

// RoomMessagesResponse is returned by RoomMessages. For dir=b, Chunk
// is ordered newest first, Start echoes the From token, and End is
// the cursor for fetching the next (older) page. A response with an
// empty Chunk and End equal to Start means the room's history is
// exhausted.
type RoomMessagesResponse struct {
	Start string  `json:"start"`
	End   string  `json:"end"`
	Chunk []Event `json:"chunk"`
	State []Event `json:"state,omitempty"`
}

// SendEventResponse is returned by SendEvent, SendMessage, and RedactEvent.
type SendEventResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// WhoAmIResponse is returned by WhoAmI.
type WhoAmIResponse struct {
	UserID   ref.UserID `json:"user_id"`
	DeviceID string     `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by ResolveAlias.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers"`
}

// JoinedRoomsResponse is returned by JoinedRooms.
type JoinedRoomsResponse struct {
	JoinedRooms []ref.RoomID `json:"joined_rooms"`
}

// RoomMember represents a member of a Matrix room.
type RoomMember struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Membership  string `json:"membership"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// RoomMembersResponse is returned by the /members endpoint.
type RoomMembersResponse struct {
	Chunk []RoomMemberEvent `json:"chunk"`
}

// RoomMemberEvent is a member state event from the /members endpoint.
type RoomMemberEvent struct {
	Type     string            `json:"type"`
	StateKey string            `json:"state_key"`
	Sender   ref.UserID        `json:"sender"`
	Content  RoomMemberContent `json:"content"`
}

// RoomMemberContent is the content of a m.room.member state event.
type RoomMemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ServerVersionsResponse is returned by Client.ServerVersions.
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}
