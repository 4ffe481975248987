// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"

	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
)

// redactionKeepKeys lists, per event type, the content keys that
// survive redaction. Types not listed here lose their entire content.
// This is the client-server API's redaction algorithm for the room
// versions Hearth targets.
var redactionKeepKeys = map[ref.EventType][]string{
	ref.TypeRoomMember:    {"membership"},
	ref.TypeRoomCreate:    {"creator"},
	ref.TypeRoomJoinRules: {"join_rule"},
	ref.TypeRoomPowerLevels: {
		"ban", "events", "events_default", "kick",
		"redact", "state_default", "users", "users_default",
	},
	ref.TypeRoomAliases: {"aliases"},
}

// ApplyRedaction returns a copy of event with its content stripped per
// the redaction algorithm and the redaction recorded under
// unsigned.redacted_because. The event is never deleted; it keeps its
// timeline position with empty (or allow-listed) content.
//
// Returns an error if redaction is not an m.room.redaction event or
// does not target event. Applying the same redaction twice is a no-op
// beyond the first application.
func ApplyRedaction(event, redaction messaging.Event) (messaging.Event, error) {
	if redaction.Type != ref.TypeRoomRedaction {
		return messaging.Event{}, fmt.Errorf("timeline: event %s is not a redaction (type %s)",
			redaction.EventID, redaction.Type)
	}
	target := redaction.RedactsTarget()
	if target.IsZero() || target != event.EventID {
		return messaging.Event{}, fmt.Errorf("timeline: redaction %s targets %s, not %s",
			redaction.EventID, target, event.EventID)
	}

	redacted := event
	redacted.Content = stripContent(event.Type, event.Content)

	unsigned := messaging.EventUnsigned{}
	if event.Unsigned != nil {
		unsigned = *event.Unsigned
	}
	unsigned.RedactedBecause = &redaction
	redacted.Unsigned = &unsigned

	return redacted, nil
}

// IsRedacted reports whether the event carries a redaction, either
// applied locally or delivered pre-redacted by the server.
func IsRedacted(event *messaging.Event) bool {
	return event.Unsigned != nil && event.Unsigned.RedactedBecause != nil
}

// EffectiveContent returns the content a consumer should render. For
// redacted events this is the allow-list survivor set regardless of
// what the stored content holds, so callers see consistent results
// whether the redaction was applied locally or by the server before
// delivery.
func EffectiveContent(event *messaging.Event) map[string]any {
	if IsRedacted(event) {
		return stripContent(event.Type, event.Content)
	}
	return event.Content
}

// stripContent applies the per-type allow-list to content. The result
// is always a fresh map; the input is not modified.
func stripContent(eventType ref.EventType, content map[string]any) map[string]any {
	stripped := map[string]any{}
	for _, key := range redactionKeepKeys[eventType] {
		if value, ok := content[key]; ok {
			stripped[key] = value
		}
	}
	return stripped
}
