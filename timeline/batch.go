// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"github.com/hearth-im/hearth/messaging"
)

// Batch is a contiguous run of timeline events bounded by two cursors.
// Start is the cursor at the older edge, End at the newer edge. Events
// are ordered oldest to newest. Two batches chain when the older
// batch's End equals the newer batch's Start; GapBefore records that
// the server reported (or cursor mismatch implied) missing events
// between this batch and the one before it.
type Batch struct {
	Start     string
	End       string
	Events    []messaging.Event
	GapBefore bool
}

// PendingEcho is a locally originated event awaiting its authoritative
// copy from the server. Exactly one exists per outstanding transaction
// ID. It is removed when the server's copy arrives through /sync
// (reconciliation) or kept with Failed set when the send confirms
// failure, so the caller can offer retry.
type PendingEcho struct {
	// TransactionID is the idempotency key the send was issued under;
	// reconciliation matches the server copy's unsigned.transaction_id
	// against it.
	TransactionID string

	// Event is the placeholder: sender, type, content, and a local
	// timestamp. It has no event ID until the server assigns one.
	Event messaging.Event

	// Failed is set when the send confirmed failure. The echo is
	// retained for retry; it never clears back to in-flight on its own.
	Failed bool
}

// TimelineEntry is one item yielded by the room's timeline iteration:
// either a confirmed event or a pending echo after the live edge.
type TimelineEntry struct {
	// Event is the confirmed event. Zero-valued when Pending is set.
	Event messaging.Event

	// Pending is non-nil for unconfirmed local echoes, which sort
	// after all confirmed events.
	Pending *PendingEcho

	// GapBefore is true when known-missing events precede this entry.
	GapBefore bool
}
