// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hearth-im/hearth/lib/ref"
)

// testSession creates a Session backed by the given handler.
func testSession(t *testing.T, handler http.Handler) *Session {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client.SessionFromToken(ref.MustParseUserID("@alice:example.org"), "DEVICE1", "syt_test_token")
}

func TestSync(t *testing.T) {
	session := testSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/_matrix/client/v3/sync" {
			t.Errorf("unexpected path: %s", request.URL.Path)
			writer.WriteHeader(http.StatusNotFound)
			return
		}
		if got := request.Header.Get("Authorization"); got != "Bearer syt_test_token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := request.URL.Query().Get("since"); got != "s100" {
			t.Errorf("since = %q, want s100", got)
		}
		if got := request.URL.Query().Get("timeout"); got != "30000" {
			t.Errorf("timeout = %q, want 30000", got)
		}

		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{
			"next_batch": "s101",
			"rooms": {
				"join": {
					"!lobby:example.org": {
						"timeline": {
							"events": [
								{"event_id": "$e1", "type": "m.room.message", "sender": "@bob:example.org", "origin_server_ts": 1000, "content": {"msgtype": "m.text", "body": "hi"}}
							],
							"prev_batch": "p1",
							"limited": true
						},
						"state": {"events": []},
						"unread_notifications": {"highlight_count": 1, "notification_count": 3}
					}
				}
			}
		}`))
	}))

	response, err := session.Sync(context.Background(), SyncOptions{
		Since:      "s100",
		Timeout:    30000,
		SetTimeout: true,
	})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if response.NextBatch != "s101" {
		t.Errorf("NextBatch = %q, want s101", response.NextBatch)
	}

	lobby := ref.MustParseRoomID("!lobby:example.org")
	joined, ok := response.Rooms.Join[lobby]
	if !ok {
		t.Fatalf("lobby missing from join section: %+v", response.Rooms.Join)
	}
	if !joined.Timeline.Limited {
		t.Error("Limited should be true")
	}
	if joined.Timeline.PrevBatch != "p1" {
		t.Errorf("PrevBatch = %q, want p1", joined.Timeline.PrevBatch)
	}
	if len(joined.Timeline.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(joined.Timeline.Events))
	}
	event := joined.Timeline.Events[0]
	if event.EventID.String() != "$e1" {
		t.Errorf("EventID = %q", event.EventID)
	}
	if event.Content["body"] != "hi" {
		t.Errorf("body = %v", event.Content["body"])
	}
	if joined.UnreadNotifications.NotificationCount != 3 {
		t.Errorf("NotificationCount = %d, want 3", joined.UnreadNotifications.NotificationCount)
	}
}

func TestSendEventUsesTransactionID(t *testing.T) {
	var gotPath string
	session := testSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", request.Method)
		}
		gotPath = request.URL.Path
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{
			EventID: ref.MustParseEventID("$sent1"),
		})
	}))

	roomID := ref.MustParseRoomID("!lobby:example.org")
	eventID, err := session.SendMessage(context.Background(), roomID, "txn-42", NewTextMessage("hello"))
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if eventID.String() != "$sent1" {
		t.Errorf("EventID = %q, want $sent1", eventID)
	}
	if !strings.HasSuffix(gotPath, "/send/m.room.message/txn-42") {
		t.Errorf("path = %q, want .../send/m.room.message/txn-42", gotPath)
	}

	_, err = session.SendMessage(context.Background(), roomID, "", NewTextMessage("hello"))
	if err == nil {
		t.Fatal("empty transaction ID should be rejected")
	}
}

func TestRedactEvent(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	session := testSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotPath = request.URL.Path
		json.NewDecoder(request.Body).Decode(&gotBody)
		writer.Header().Set("Content-Type", "application/json")
		json.NewEncoder(writer).Encode(SendEventResponse{
			EventID: ref.MustParseEventID("$redaction1"),
		})
	}))

	roomID := ref.MustParseRoomID("!lobby:example.org")
	target := ref.MustParseEventID("$target1")
	redactionID, err := session.RedactEvent(context.Background(), roomID, target, "txn-7", "mistake")
	if err != nil {
		t.Fatalf("RedactEvent failed: %v", err)
	}
	if redactionID.String() != "$redaction1" {
		t.Errorf("redaction event ID = %q", redactionID)
	}
	if !strings.HasSuffix(gotPath, "/redact/$target1/txn-7") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["reason"] != "mistake" {
		t.Errorf("reason = %v", gotBody["reason"])
	}
}

func TestRoomMessagesPagination(t *testing.T) {
	session := testSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()
		if got := query.Get("dir"); got != "b" {
			t.Errorf("dir = %q, want b", got)
		}
		if got := query.Get("from"); got != "p1" {
			t.Errorf("from = %q, want p1", got)
		}
		if got := query.Get("limit"); got != "20" {
			t.Errorf("limit = %q, want 20", got)
		}

		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{
			"start": "p1",
			"end": "p0",
			"chunk": [
				{"event_id": "$old2", "type": "m.room.message", "sender": "@bob:example.org", "origin_server_ts": 900, "content": {"body": "older"}},
				{"event_id": "$old1", "type": "m.room.create", "sender": "@bob:example.org", "origin_server_ts": 800, "content": {"creator": "@bob:example.org"}, "state_key": ""}
			]
		}`))
	}))

	response, err := session.RoomMessages(context.Background(), ref.MustParseRoomID("!lobby:example.org"), RoomMessagesOptions{
		From:  "p1",
		Limit: 20,
	})
	if err != nil {
		t.Fatalf("RoomMessages failed: %v", err)
	}
	if response.End != "p0" {
		t.Errorf("End = %q, want p0", response.End)
	}
	if len(response.Chunk) != 2 {
		t.Fatalf("got %d events, want 2", len(response.Chunk))
	}
	// Chunk is newest first for dir=b.
	if response.Chunk[0].EventID.String() != "$old2" {
		t.Errorf("first event = %q, want $old2", response.Chunk[0].EventID)
	}
	if !response.Chunk[1].IsState() {
		t.Error("m.room.create should be a state event")
	}
}

func TestRedactsTarget(t *testing.T) {
	target := ref.MustParseEventID("$target1")

	t.Run("top-level field", func(t *testing.T) {
		event := Event{
			Type:    ref.TypeRoomRedaction,
			Redacts: &target,
		}
		if got := event.RedactsTarget(); got != target {
			t.Errorf("RedactsTarget = %q, want %q", got, target)
		}
	})

	t.Run("content field", func(t *testing.T) {
		event := Event{
			Type:    ref.TypeRoomRedaction,
			Content: map[string]any{"redacts": "$target1"},
		}
		if got := event.RedactsTarget(); got != target {
			t.Errorf("RedactsTarget = %q, want %q", got, target)
		}
	})

	t.Run("non-redaction", func(t *testing.T) {
		event := Event{
			Type:    ref.TypeRoomMessage,
			Redacts: &target,
		}
		if got := event.RedactsTarget(); !got.IsZero() {
			t.Errorf("RedactsTarget = %q, want zero", got)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		event := Event{
			Type:    ref.TypeRoomRedaction,
			Content: map[string]any{"redacts": 42},
		}
		if got := event.RedactsTarget(); !got.IsZero() {
			t.Errorf("RedactsTarget = %q, want zero", got)
		}
	})
}

func TestLeaveRoomAndJoinRoom(t *testing.T) {
	var paths []string
	session := testSession(t, http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		paths = append(paths, request.URL.Path)
		writer.Header().Set("Content-Type", "application/json")
		if strings.Contains(request.URL.Path, "/join/") {
			writer.Write([]byte(`{"room_id": "!lobby:example.org"}`))
			return
		}
		writer.Write([]byte(`{}`))
	}))

	roomID, err := session.JoinRoom(context.Background(), "#lobby:example.org")
	if err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if roomID.String() != "!lobby:example.org" {
		t.Errorf("room ID = %q", roomID)
	}

	if err := session.LeaveRoom(context.Background(), roomID); err != nil {
		t.Fatalf("LeaveRoom failed: %v", err)
	}
	if len(paths) != 2 || !strings.HasSuffix(paths[1], "/leave") {
		t.Errorf("paths = %v", paths)
	}
}

func TestNewTransactionIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := NewTransactionID()
		if seen[id] {
			t.Fatalf("duplicate transaction ID %q", id)
		}
		seen[id] = true
	}
}
