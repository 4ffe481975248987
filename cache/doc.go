// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache persists the sync stream so a restarting client
// resumes from its last durable position instead of performing a full
// initial sync.
//
// The cache is an append log: each sync delta's per-room timeline
// section is stored as one row (cursors, direction, compressed event
// payload) under a monotonically increasing per-room sequence number,
// and the sync token is a single durable value. [Cache.PutDelta]
// writes the batches and advances the token in one IMMEDIATE
// transaction, so a crash can never leave a token pointing at an
// unwritten batch. Recovery loads the stored batches in sequence
// order and replays them through the same timeline code path that
// handled them live.
//
// Replay is idempotent: a batch whose end cursor equals the room's
// last stored end cursor is skipped. The transaction already makes
// token and batches move together; the cursor check additionally
// absorbs the server re-delivering a delta after the client resumes
// from an old token.
//
// Payloads are deterministic CBOR (lib/codec) compressed with zstd.
// Event content is opaque JSON on the wire and stays opaque here;
// unknown event types round-trip unchanged.
package cache
