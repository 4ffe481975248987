// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"errors"
	"iter"
	"log/slog"

	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
)

// ErrNotContiguous is returned by Prepend when the fetched page does
// not chain onto the oldest loaded cursor. The caller fetched from a
// stale cursor; the room is left unmodified.
var ErrNotContiguous = errors.New("timeline: backfill page does not chain onto oldest cursor")

// ErrAtTop is returned by Prepend when the room's creation event is
// already loaded and no further history exists.
var ErrAtTop = errors.New("timeline: room history fully loaded")

// ChangeKind classifies a timeline change notification.
type ChangeKind int

const (
	// ChangeAppend: a confirmed event arrived at the live edge.
	ChangeAppend ChangeKind = iota
	// ChangePrepend: a backfilled event extended history at the top.
	ChangePrepend
	// ChangeRedact: an already-loaded event had its content redacted.
	ChangeRedact
	// ChangeEchoReconciled: the server's copy of a locally sent event
	// arrived; the pending echo was replaced by the confirmed event.
	ChangeEchoReconciled
	// ChangeEchoFailed: a send confirmed failure; the echo is retained
	// with its failed flag set.
	ChangeEchoFailed
	// ChangeDiscontinuity: a gap was recorded before the newest batch.
	ChangeDiscontinuity
	// ChangeStateChanged: room-level state outside the timeline moved
	// (unread counters).
	ChangeStateChanged
)

// String returns the change kind for logging.
func (k ChangeKind) String() string {
	switch k {
	case ChangeAppend:
		return "append"
	case ChangePrepend:
		return "prepend"
	case ChangeRedact:
		return "redact"
	case ChangeEchoReconciled:
		return "echo_reconciled"
	case ChangeEchoFailed:
		return "echo_failed"
	case ChangeDiscontinuity:
		return "discontinuity"
	case ChangeStateChanged:
		return "state_changed"
	}
	return "unknown"
}

// Change is one timeline change notification. State is a snapshot of
// the room state as of the emitted position, so a consumer rendering
// the change sees the sender's display name as it was at that point,
// not as it later became.
type Change struct {
	Kind ChangeKind
	Room ref.RoomID

	// Event is the event the change concerns. Nil for Discontinuity
	// and StateChanged.
	Event *messaging.Event

	// TransactionID is set for EchoReconciled and EchoFailed.
	TransactionID string

	// Live is true for changes at the live (newest) edge, false for
	// historical changes from backfill.
	Live bool

	// State is the room state snapshot as of this change.
	State *RoomState
}

// RoomConfig holds the parameters for creating a Room.
type RoomConfig struct {
	// ID is the room's Matrix room ID. Required.
	ID ref.RoomID
	// OwnUserID is the local user, used to verify echo reconciliation:
	// only events sent by this user may claim a pending transaction ID.
	OwnUserID ref.UserID
	// Logger receives reconciliation mismatches and unknown redaction
	// targets. If nil, a discard logger is used.
	Logger *slog.Logger
	// OnChange, if set, receives a notification for every timeline
	// change. Called synchronously from the mutating operation.
	OnChange func(Change)
}

// Room is the in-memory replica of one room: current state, the
// timeline as cursor-chained batches (oldest first), and pending
// echoes. Not safe for concurrent use; the session serializes access.
type Room struct {
	id        ref.RoomID
	ownUserID ref.UserID
	logger    *slog.Logger
	onChange  func(Change)

	state   *RoomState
	batches []*Batch
	pending []*PendingEcho
	atTop   bool

	highlightCount    int
	notificationCount int
}

// NewRoom creates an empty room replica.
func NewRoom(config RoomConfig) *Room {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Room{
		id:        config.ID,
		ownUserID: config.OwnUserID,
		logger:    logger.With("room_id", config.ID),
		onChange:  config.OnChange,
		state:     NewRoomState(),
	}
}

// ID returns the room's Matrix room ID.
func (r *Room) ID() ref.RoomID { return r.id }

// SetOnChange installs or replaces the change listener. The session
// replays cached history into a listener-less room, then installs the
// listener before live traffic starts.
func (r *Room) SetOnChange(onChange func(Change)) {
	r.onChange = onChange
}

// State returns the room's current state. The returned value is live;
// callers that need a stable snapshot use Clone (change notifications
// already carry one).
func (r *Room) State() *RoomState { return r.state }

// AtTop reports whether the room's full history is loaded: the oldest
// loaded event is the room's m.room.create. Backfill past this point
// is pointless and the session rejects it.
func (r *Room) AtTop() bool { return r.atTop }

// HighlightCount returns the server-computed highlight count.
func (r *Room) HighlightCount() int { return r.highlightCount }

// NotificationCount returns the server-computed unread count.
func (r *Room) NotificationCount() int { return r.notificationCount }

// OldestCursor returns the cursor at the old edge of loaded history,
// the "from" token for the next backfill page. Empty when no batches
// are loaded.
func (r *Room) OldestCursor() string {
	if len(r.batches) == 0 {
		return ""
	}
	return r.batches[0].Start
}

// ApplyState records a state event in the room's current state,
// overwriting any earlier event for the same (type, state_key).
func (r *Room) ApplyState(event messaging.Event) {
	r.state.Apply(event)
}

// Append ingests one sync delta's timeline section: events between
// cursors start (the delta's prev_batch, old edge) and end (the sync
// position after the delta, new edge), ordered oldest first.
//
// If the newest loaded batch's end cursor equals start and the server
// did not flag the delta as limited, the events merge into that batch.
// Otherwise a new batch is opened with a gap recorded before it and a
// Discontinuity change is emitted; the skipped events remain
// recoverable by backfilling from start.
//
// Per event: state events update the room state; redaction events are
// applied to their loaded target (if any) and appended like any other
// event; events carrying the local user's transaction ID reconcile the
// matching pending echo.
func (r *Room) Append(start, end string, events []messaging.Event, limited bool) {
	var target *Batch
	if n := len(r.batches); n > 0 {
		last := r.batches[n-1]
		if last.End == start && !limited {
			target = last
			target.End = end
		}
	}
	if target == nil {
		gap := len(r.batches) > 0
		target = &Batch{Start: start, End: end, GapBefore: gap}
		r.batches = append(r.batches, target)
		if gap {
			r.logger.Debug("timeline discontinuity",
				"prev_batch", start,
				"limited", limited,
			)
			r.emit(Change{Kind: ChangeDiscontinuity, Live: true})
		}
	}

	for _, event := range events {
		if event.IsState() {
			r.state.Apply(event)
		}
		if event.Type == ref.TypeRoomRedaction {
			r.applyRedaction(event)
		}

		if txn := eventTransactionID(&event); txn != "" {
			if r.reconcile(txn, &event) {
				target.Events = append(target.Events, event)
				r.emit(Change{
					Kind:          ChangeEchoReconciled,
					Event:         &event,
					TransactionID: txn,
					Live:          true,
				})
				continue
			}
		}

		target.Events = append(target.Events, event)
		r.emit(Change{Kind: ChangeAppend, Event: &event, Live: true})
	}

	// The creation event can arrive through the live stream rather
	// than backfill (freshly created and small rooms). History tops
	// out when it is the oldest loaded event.
	if first := r.batches[0]; len(first.Events) > 0 && first.Events[0].Type == ref.TypeRoomCreate {
		r.atTop = true
	}
}

// Prepend ingests one backfill page fetched backward from the oldest
// loaded cursor: start is the cursor the page was fetched from, end is
// the next older cursor, and chunk is in wire order (newest first).
//
// The page must chain: start must equal the oldest loaded cursor, or
// ErrNotContiguous is returned and the room is unmodified. Backfilled
// events do not touch the room's current state — they are older than
// everything already applied.
func (r *Room) Prepend(start, end string, chunk []messaging.Event) error {
	if r.atTop {
		return ErrAtTop
	}
	if len(r.batches) > 0 && r.batches[0].Start != start {
		return ErrNotContiguous
	}

	if len(chunk) == 0 {
		// History exhausted without an explicit creation event. The
		// server has nothing older; stop backfilling.
		r.atTop = true
		return nil
	}

	// Reverse into chronological order.
	events := make([]messaging.Event, len(chunk))
	for i, event := range chunk {
		events[len(chunk)-1-i] = event
	}

	batch := &Batch{Start: end, End: start, Events: events}
	r.batches = append([]*Batch{batch}, r.batches...)

	for i := range events {
		if events[i].Type == ref.TypeRoomCreate {
			r.atTop = true
		}
		r.emit(Change{Kind: ChangePrepend, Event: &events[i], Live: false})
	}
	return nil
}

// Redact applies a redaction to its target event if the target is
// loaded, scanning newest batches first (redactions overwhelmingly
// target recent events). Returns true if the target was found.
//
// An unknown target is a soft no-op: the target may live in an
// unloaded part of history, and if it is ever backfilled the server
// delivers it already redacted.
func (r *Room) Redact(redaction messaging.Event) bool {
	return r.applyRedaction(redaction)
}

func (r *Room) applyRedaction(redaction messaging.Event) bool {
	target := redaction.RedactsTarget()
	if target.IsZero() {
		r.logger.Warn("redaction without target",
			"event_id", redaction.EventID,
		)
		return false
	}

	for batchIndex := len(r.batches) - 1; batchIndex >= 0; batchIndex-- {
		batch := r.batches[batchIndex]
		for eventIndex := len(batch.Events) - 1; eventIndex >= 0; eventIndex-- {
			if batch.Events[eventIndex].EventID != target {
				continue
			}
			redacted, err := ApplyRedaction(batch.Events[eventIndex], redaction)
			if err != nil {
				r.logger.Warn("redaction failed",
					"event_id", redaction.EventID,
					"target", target,
					"error", err,
				)
				return false
			}
			batch.Events[eventIndex] = redacted
			r.emit(Change{Kind: ChangeRedact, Event: &redacted, Live: true})
			return true
		}
	}

	r.logger.Debug("redaction target not loaded",
		"event_id", redaction.EventID,
		"target", target,
	)
	return false
}

// AddPending records a pending echo for an outgoing send. The
// placeholder carries the local user as sender and a local timestamp;
// it has no event ID until the server's copy arrives.
func (r *Room) AddPending(echo PendingEcho) {
	stored := echo
	r.pending = append(r.pending, &stored)
}

// MarkPendingFailed flags the echo for transactionID as failed,
// retaining it for retry. Returns false if no such echo exists (it may
// have been reconciled while the error was in flight — the send
// actually succeeded).
func (r *Room) MarkPendingFailed(transactionID string) bool {
	for _, echo := range r.pending {
		if echo.TransactionID != transactionID {
			continue
		}
		echo.Failed = true
		r.emit(Change{
			Kind:          ChangeEchoFailed,
			Event:         &echo.Event,
			TransactionID: transactionID,
			Live:          true,
		})
		return true
	}
	return false
}

// PendingEchoes returns the outstanding echoes in send order. The
// returned slice is a copy; the echoes themselves are live.
func (r *Room) PendingEchoes() []*PendingEcho {
	echoes := make([]*PendingEcho, len(r.pending))
	copy(echoes, r.pending)
	return echoes
}

// reconcile removes the pending echo for transactionID after
// verifying the server copy matches what was sent. A transaction ID
// claimed by a different sender or room is a reconciliation mismatch:
// the echo stays and the event is treated as a normal append.
func (r *Room) reconcile(transactionID string, event *messaging.Event) bool {
	for i, echo := range r.pending {
		if echo.TransactionID != transactionID {
			continue
		}
		if echo.Event.Sender != event.Sender {
			r.logger.Warn("echo reconciliation mismatch",
				"transaction_id", transactionID,
				"echo_sender", echo.Event.Sender,
				"event_sender", event.Sender,
			)
			return false
		}
		if !event.RoomID.IsZero() && event.RoomID != r.id {
			r.logger.Warn("echo reconciliation mismatch",
				"transaction_id", transactionID,
				"event_room", event.RoomID,
			)
			return false
		}
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
		return true
	}
	return false
}

// SetUnreadCounts updates the server-computed unread counters from a
// sync delta. Emits StateChanged when either value moves.
func (r *Room) SetUnreadCounts(highlight, notification int) {
	if highlight == r.highlightCount && notification == r.notificationCount {
		return
	}
	r.highlightCount = highlight
	r.notificationCount = notification
	r.emit(Change{Kind: ChangeStateChanged, Live: true})
}

// Events iterates the loaded timeline oldest to newest, then the
// pending echoes in send order. The iteration is over live storage:
// do not mutate the room while iterating.
func (r *Room) Events() iter.Seq[TimelineEntry] {
	return func(yield func(TimelineEntry) bool) {
		for _, batch := range r.batches {
			for i, event := range batch.Events {
				entry := TimelineEntry{
					Event:     event,
					GapBefore: i == 0 && batch.GapBefore,
				}
				if !yield(entry) {
					return
				}
			}
		}
		for _, echo := range r.pending {
			if !yield(TimelineEntry{Pending: echo}) {
				return
			}
		}
	}
}

// EventsBackward iterates newest to oldest: pending echoes in reverse
// send order first, then confirmed events.
func (r *Room) EventsBackward() iter.Seq[TimelineEntry] {
	return func(yield func(TimelineEntry) bool) {
		for i := len(r.pending) - 1; i >= 0; i-- {
			if !yield(TimelineEntry{Pending: r.pending[i]}) {
				return
			}
		}
		for batchIndex := len(r.batches) - 1; batchIndex >= 0; batchIndex-- {
			batch := r.batches[batchIndex]
			for i := len(batch.Events) - 1; i >= 0; i-- {
				entry := TimelineEntry{
					Event:     batch.Events[i],
					GapBefore: i == 0 && batch.GapBefore,
				}
				if !yield(entry) {
					return
				}
			}
		}
	}
}

// emit delivers a change notification with the room ID and an as-of
// state snapshot filled in.
func (r *Room) emit(change Change) {
	if r.onChange == nil {
		return
	}
	change.Room = r.id
	change.State = r.state.Clone()
	r.onChange(change)
}

// eventTransactionID extracts unsigned.transaction_id, the echo
// reconciliation key. The server includes it only on the sender's own
// sync stream.
func eventTransactionID(event *messaging.Event) string {
	if event.Unsigned == nil {
		return ""
	}
	return event.Unsigned.TransactionID
}
