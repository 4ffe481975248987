// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
)

var (
	testRoom = ref.MustParseRoomID("!lobby:example.org")
	testUser = ref.MustParseUserID("@alice:example.org")
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	store, err := Open(Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(id, body string) messaging.Event {
	return messaging.Event{
		EventID:        ref.MustParseEventID(id),
		Type:           ref.TypeRoomMessage,
		Sender:         testUser,
		OriginServerTS: 1000,
		Content:        map[string]any{"msgtype": "m.text", "body": body},
	}
}

func TestEmptyCache(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	token, err := store.SyncToken(ctx)
	if err != nil {
		t.Fatalf("SyncToken failed: %v", err)
	}
	if token != "" {
		t.Errorf("token = %q, want empty for fresh cache", token)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("rooms = %v, want none", rooms)
	}
}

func TestPutDeltaRoundTrip(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	err := store.PutDelta(ctx, "s1", []Delta{{
		Room:    testRoom,
		Start:   "p0",
		End:     "s1",
		Limited: true,
		Events:  []messaging.Event{testEvent("$e1", "one"), testEvent("$e2", "two")},
	}})
	if err != nil {
		t.Fatalf("PutDelta failed: %v", err)
	}

	token, err := store.SyncToken(ctx)
	if err != nil {
		t.Fatalf("SyncToken failed: %v", err)
	}
	if token != "s1" {
		t.Errorf("token = %q, want s1", token)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	deltas := rooms[testRoom]
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	delta := deltas[0]
	if delta.Start != "p0" || delta.End != "s1" || !delta.Limited {
		t.Errorf("delta = %+v", delta)
	}
	if delta.Direction != DirectionAppend {
		t.Errorf("direction = %v, want append", delta.Direction)
	}
	if len(delta.Events) != 2 {
		t.Fatalf("got %d events, want 2", len(delta.Events))
	}
	event := delta.Events[0]
	if event.EventID != ref.MustParseEventID("$e1") {
		t.Errorf("event ID = %v", event.EventID)
	}
	if event.Sender != testUser {
		t.Errorf("sender = %v", event.Sender)
	}
	if event.Content["body"] != "one" {
		t.Errorf("content = %v", event.Content)
	}
}

func TestSequenceOrderAcrossWrites(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	writes := []struct{ start, end, body string }{
		{"p0", "s1", "one"},
		{"s1", "s2", "two"},
		{"s2", "s3", "three"},
	}
	for i, write := range writes {
		err := store.PutDelta(ctx, write.end, []Delta{{
			Room:   testRoom,
			Start:  write.start,
			End:    write.end,
			Events: []messaging.Event{testEvent("$e"+write.end, write.body)},
		}})
		if err != nil {
			t.Fatalf("PutDelta %d failed: %v", i, err)
		}
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	deltas := rooms[testRoom]
	if len(deltas) != 3 {
		t.Fatalf("got %d deltas, want 3", len(deltas))
	}
	for i, write := range writes {
		if deltas[i].End != write.end {
			t.Errorf("delta %d end = %q, want %q", i, deltas[i].End, write.end)
		}
	}
}

func TestReplayIdempotence(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	delta := Delta{
		Room:   testRoom,
		Start:  "p0",
		End:    "s1",
		Events: []messaging.Event{testEvent("$e1", "one")},
	}
	if err := store.PutDelta(ctx, "s1", []Delta{delta}); err != nil {
		t.Fatalf("first PutDelta failed: %v", err)
	}
	// The server re-delivers the same delta after a resume.
	if err := store.PutDelta(ctx, "s1", []Delta{delta}); err != nil {
		t.Fatalf("replayed PutDelta failed: %v", err)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	if got := len(rooms[testRoom]); got != 1 {
		t.Errorf("got %d deltas after replay, want 1", got)
	}
}

func TestPrependDirectionRoundTrip(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	err := store.PutDelta(ctx, "s1", []Delta{
		{
			Room:   testRoom,
			Start:  "p1",
			End:    "s1",
			Events: []messaging.Event{testEvent("$e2", "two")},
		},
	})
	if err != nil {
		t.Fatalf("PutDelta failed: %v", err)
	}
	// A backfill page: same token, older events, prepend direction.
	err = store.PutDelta(ctx, "s1", []Delta{
		{
			Room:      testRoom,
			Direction: DirectionPrepend,
			Start:     "p1",
			End:       "p0",
			Events:    []messaging.Event{testEvent("$e1", "one")},
		},
	})
	if err != nil {
		t.Fatalf("backfill PutDelta failed: %v", err)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	deltas := rooms[testRoom]
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(deltas))
	}
	if deltas[0].Direction != DirectionAppend || deltas[1].Direction != DirectionPrepend {
		t.Errorf("directions = %v, %v", deltas[0].Direction, deltas[1].Direction)
	}
}

func TestMultipleRoomsOneTransaction(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()
	other := ref.MustParseRoomID("!other:example.org")

	err := store.PutDelta(ctx, "s1", []Delta{
		{Room: testRoom, Start: "p0", End: "s1", Events: []messaging.Event{testEvent("$a", "a")}},
		{Room: other, Start: "q0", End: "s1", Events: []messaging.Event{testEvent("$b", "b")}},
	})
	if err != nil {
		t.Fatalf("PutDelta failed: %v", err)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("got %d rooms, want 2", len(rooms))
	}
}

func TestForgetRoom(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	err := store.PutDelta(ctx, "s1", []Delta{{
		Room:   testRoom,
		Start:  "p0",
		End:    "s1",
		Events: []messaging.Event{testEvent("$e1", "one")},
	}})
	if err != nil {
		t.Fatalf("PutDelta failed: %v", err)
	}
	if err := store.ForgetRoom(ctx, testRoom); err != nil {
		t.Fatalf("ForgetRoom failed: %v", err)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("rooms = %v, want none after forget", rooms)
	}
	// The token survives; only the room's history is gone.
	token, err := store.SyncToken(ctx)
	if err != nil {
		t.Fatalf("SyncToken failed: %v", err)
	}
	if token != "s1" {
		t.Errorf("token = %q, want s1", token)
	}
}

func TestRedactedEventRoundTrip(t *testing.T) {
	store := openTestCache(t)
	ctx := context.Background()

	target := ref.MustParseEventID("$e1")
	redaction := messaging.Event{
		EventID: ref.MustParseEventID("$r1"),
		Type:    ref.TypeRoomRedaction,
		Sender:  testUser,
		Redacts: &target,
	}
	redacted := testEvent("$e1", "gone")
	redacted.Content = map[string]any{}
	redacted.Unsigned = &messaging.EventUnsigned{RedactedBecause: &redaction}

	err := store.PutDelta(ctx, "s1", []Delta{{
		Room:   testRoom,
		Start:  "p0",
		End:    "s1",
		Events: []messaging.Event{redacted},
	}})
	if err != nil {
		t.Fatalf("PutDelta failed: %v", err)
	}

	rooms, err := store.LoadRooms(ctx)
	if err != nil {
		t.Fatalf("LoadRooms failed: %v", err)
	}
	loaded := rooms[testRoom][0].Events[0]
	if loaded.Unsigned == nil || loaded.Unsigned.RedactedBecause == nil {
		t.Fatal("redacted_because lost in round trip")
	}
	if loaded.Unsigned.RedactedBecause.RedactsTarget() != target {
		t.Errorf("redaction target = %v", loaded.Unsigned.RedactedBecause.RedactsTarget())
	}
}
