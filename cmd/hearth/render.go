// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
	"github.com/hearth-im/hearth/timeline"
)

// renderChange formats one timeline change as a terminal line. The
// second return is false for changes that produce no output (unread
// counter updates, state events with no rendering).
//
// The change's state snapshot is as of the event's position, so sender
// names render as they were at that point in the timeline.
func renderChange(change timeline.Change, self ref.UserID) (string, bool) {
	roomName := change.State.DisplayName(self)

	switch change.Kind {
	case timeline.ChangeAppend, timeline.ChangePrepend, timeline.ChangeEchoReconciled:
		return renderEvent(roomName, change.State, change.Event)

	case timeline.ChangeRedact:
		sender := change.State.MemberDisplayName(change.Event.Sender)
		return fmt.Sprintf("%s | message from %s was redacted", roomName, sender), true

	case timeline.ChangeEchoFailed:
		return fmt.Sprintf("%s | send failed, message kept for retry", roomName), true

	case timeline.ChangeDiscontinuity:
		return fmt.Sprintf("%s | — gap in history, /backfill to fetch older messages —", roomName), true
	}
	return "", false
}

func renderEvent(roomName string, state *timeline.RoomState, event *messaging.Event) (string, bool) {
	stamp := time.UnixMilli(event.OriginServerTS).Format("15:04")
	sender := state.MemberDisplayName(event.Sender)

	switch event.Type {
	case ref.TypeRoomMessage:
		if timeline.IsRedacted(event) {
			return fmt.Sprintf("%s | %s <%s> (redacted)", roomName, stamp, sender), true
		}
		body, _ := event.Content["body"].(string)
		if msgtype, _ := event.Content["msgtype"].(string); msgtype == "m.emote" {
			return fmt.Sprintf("%s | %s * %s %s", roomName, stamp, sender, body), true
		}
		return fmt.Sprintf("%s | %s <%s> %s", roomName, stamp, sender, body), true

	case ref.TypeRoomMember:
		membership, _ := event.Content["membership"].(string)
		switch membership {
		case "join":
			return fmt.Sprintf("%s | %s %s joined", roomName, stamp, sender), true
		case "leave":
			return fmt.Sprintf("%s | %s %s left", roomName, stamp, sender), true
		case "ban":
			return fmt.Sprintf("%s | %s %s was banned", roomName, stamp, sender), true
		}
		return "", false

	case ref.TypeRoomName:
		name, _ := event.Content["name"].(string)
		return fmt.Sprintf("%s | %s room renamed to %q", roomName, stamp, name), true

	case ref.TypeRoomTopic:
		topic, _ := event.Content["topic"].(string)
		return fmt.Sprintf("%s | %s topic: %s", roomName, stamp, topic), true
	}
	return "", false
}
