// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline holds the in-memory model of a room: current state,
// the event timeline as a list of cursor-chained batches, and the
// pending echoes for messages the user has sent but the server has not
// yet returned through /sync.
//
// The model is deliberately append-only. Events are never removed:
// redaction rewrites an event's content in place through a per-type
// allow-list and records the redaction under unsigned.redacted_because,
// so a redacted message still occupies its timeline position.
//
// Contiguity between batches is cursor equality. When a sync response
// arrives whose previous-batch cursor does not chain onto the newest
// batch (or the server flags the timeline as limited), the new batch is
// recorded with a gap before it and a Discontinuity change is emitted;
// the gap can later be filled by backfill. Nothing is ever silently
// glued together.
//
// Room is not safe for concurrent use. The session serializes all
// access through its dispatch path; tests drive a Room directly from a
// single goroutine.
package timeline
