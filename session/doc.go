// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package session drives the engine: it owns the room replicas, runs
// the /sync long-poll loop, persists each delta through the cache,
// and executes user commands (send, redact, join, leave, backfill).
//
// # Connection state machine
//
// Disconnected → Syncing → {Syncing, Backoff, Disconnected}.
//
// Syncing long-polls /sync with the current token, routes each room's
// delta into its timeline, commits the delta and the advanced token in
// one cache transaction, and immediately re-polls. Transient failures
// (network errors, 429, 5xx, malformed responses) move to Backoff:
// exponential delay from 1s capped at 30s, token unchanged, then back
// to Syncing. An authentication failure (M_UNKNOWN_TOKEN) or explicit
// logout is terminal: Disconnected, no further requests.
//
// # Dispatch
//
// All room mutation happens under one mutex, the session's single
// logical dispatch path. The sync loop, command methods, and send
// completions all take it, so timeline.Room never needs its own
// locking and change notifications observe a consistent room.
//
// # Sends
//
// Send records a pending echo before the request leaves the process,
// so the message is visible (and correlatable by transaction ID) even
// if the process crashes mid-send. Sends for one room transmit
// strictly in order; a failed send marks its echo failed and retains
// it. Confirmation arrives only through /sync, where the echo's
// transaction ID reconciles it against the authoritative event.
package session
