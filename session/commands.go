// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"

	"github.com/hearth-im/hearth/cache"
	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
	"github.com/hearth-im/hearth/timeline"
)

// Send queues an m.room.message for transmission and returns its
// transaction ID immediately. The pending echo is recorded before the
// request leaves the process, so the message is visible at the live
// edge right away and survives as a correlatable placeholder if the
// send is interrupted.
//
// Sends for one room transmit strictly in order, one at a time. A
// failed transmission marks the echo failed and retains it; success
// is only ever confirmed by the authoritative copy arriving through
// /sync, which reconciles the echo away.
func (s *Session) Send(ctx context.Context, roomID ref.RoomID, content messaging.MessageContent) (string, error) {
	transactionID := messaging.NewTransactionID()

	placeholder := messaging.Event{
		Type:           ref.TypeRoomMessage,
		Sender:         s.transport.UserID(),
		RoomID:         roomID,
		OriginServerTS: s.clk.Now().UnixMilli(),
		Content: map[string]any{
			"msgtype": content.MsgType,
			"body":    content.Body,
		},
	}
	if content.Format != "" {
		placeholder.Content["format"] = content.Format
		placeholder.Content["formatted_body"] = content.FormattedBody
	}

	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("session: unknown room %s", roomID)
	}
	room.AddPending(timeline.PendingEcho{
		TransactionID: transactionID,
		Event:         placeholder,
	})

	// Chain onto the room's previous send so transmissions stay in
	// order even when callers fire Sends concurrently.
	previous := s.sendTail[roomID]
	done := make(chan struct{})
	s.sendTail[roomID] = done
	s.mu.Unlock()

	go s.transmit(ctx, roomID, transactionID, content, previous, done)

	return transactionID, nil
}

// transmit performs one queued send. Runs on its own goroutine; waits
// for the room's previous send to finish first.
func (s *Session) transmit(ctx context.Context, roomID ref.RoomID, transactionID string, content messaging.MessageContent, previous, done chan struct{}) {
	defer close(done)
	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
		}
	}

	eventID, err := s.transport.SendMessage(ctx, roomID, transactionID, content)
	if err != nil {
		s.logger.Error("send failed",
			"room_id", roomID,
			"transaction_id", transactionID,
			"error", err,
		)
		s.mu.Lock()
		if room, ok := s.rooms[roomID]; ok {
			room.MarkPendingFailed(transactionID)
		}
		s.mu.Unlock()
		return
	}

	s.logger.Debug("send accepted",
		"room_id", roomID,
		"transaction_id", transactionID,
		"event_id", eventID,
	)
}

// RedactRequest asks the homeserver to redact eventID. The local
// timeline is not touched here: the redaction comes back through
// /sync like any other event and is applied then, exactly as it is
// for redactions issued by other users.
func (s *Session) RedactRequest(ctx context.Context, roomID ref.RoomID, eventID ref.EventID, reason string) error {
	transactionID := messaging.NewTransactionID()
	redactionID, err := s.transport.RedactEvent(ctx, roomID, eventID, transactionID, reason)
	if err != nil {
		return fmt.Errorf("session: redact %s: %w", eventID, err)
	}
	s.logger.Debug("redaction accepted",
		"room_id", roomID,
		"target", eventID,
		"redaction_id", redactionID,
	)
	return nil
}

// Join joins a room by ID or alias. The room replica appears when the
// join is observed in the next sync delta.
func (s *Session) Join(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	roomID, err := s.transport.JoinRoom(ctx, roomIDOrAlias)
	if err != nil {
		return ref.RoomID{}, fmt.Errorf("session: join %s: %w", roomIDOrAlias, err)
	}
	return roomID, nil
}

// Leave leaves a room. The replica and its cached history are removed
// when the leave is observed in the next sync delta.
func (s *Session) Leave(ctx context.Context, roomID ref.RoomID) error {
	if err := s.transport.LeaveRoom(ctx, roomID); err != nil {
		return fmt.Errorf("session: leave %s: %w", roomID, err)
	}
	return nil
}

// Backfill fetches one page of history (up to limit events) older
// than the room's oldest loaded event. Independent of the sync loop
// and never auto-retried: a failed or cancelled backfill leaves the
// room and cache unmodified, and the caller decides whether to try
// again.
//
// Returns timeline.ErrAtTop once the room's creation event is loaded.
func (s *Session) Backfill(ctx context.Context, roomID ref.RoomID, limit int) error {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("session: unknown room %s", roomID)
	}
	if room.AtTop() {
		s.mu.Unlock()
		return timeline.ErrAtTop
	}
	from := room.OldestCursor()
	s.mu.Unlock()

	response, err := s.transport.RoomMessages(ctx, roomID, messaging.RoomMessagesOptions{
		From:      from,
		Direction: "b",
		Limit:     limit,
	})
	if err != nil {
		return fmt.Errorf("session: backfill %s: %w", roomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A leave observed while the request was in flight removed the
	// replica and purged its cache rows; the late page is discarded so
	// the forgotten room is not written back.
	if s.rooms[roomID] != room {
		return fmt.Errorf("session: unknown room %s", roomID)
	}

	// The room may have changed while the request was in flight; the
	// contiguity check inside Prepend rejects a stale page.
	if err := room.Prepend(response.Start, response.End, response.Chunk); err != nil {
		return fmt.Errorf("session: backfill %s: %w", roomID, err)
	}

	if len(response.Chunk) > 0 {
		s.persistLocked(ctx, []cache.Delta{{
			Room:      roomID,
			Direction: cache.DirectionPrepend,
			Start:     response.Start,
			End:       response.End,
			Events:    response.Chunk,
		}})
	}
	return nil
}
