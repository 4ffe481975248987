// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool used by the
// persistent cache.
//
// It wraps zombiezen.com/go/sqlite with the pragma set the cache's
// durability contract depends on: WAL journal mode, NORMAL synchronous,
// and a busy timeout. Callers [Pool.Take] a connection, perform work,
// and [Pool.Put] it back. Connections are NOT safe for concurrent use —
// each goroutine must hold its own connection for the duration of its
// work.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging. The cache's readers (a
//     restarting session loading rooms) never block its single writer
//     (the sync dispatch path).
//   - synchronous=NORMAL: transactions survive process crashes, which
//     is exactly the crash-atomicity the cache promises — a killed
//     client never observes a sync token pointing at an unwritten
//     batch. Durability across OS crashes or power loss is not
//     promised; the homeserver remains the source of truth and a full
//     initial sync rebuilds the cache.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - foreign_keys=OFF: the cache's two tables are independent append
//     logs with integrity managed by the write transaction, not by FK
//     cascades.
//   - temp_store=MEMORY: temporary indexes in memory.
//
// # Design
//
// This package is intentionally thin: it applies the pragmas and
// exposes the underlying zombiezen types directly. The cache writes
// SQL, uses sqlitex.Execute for cached statements, and manages its
// write transaction with sqlitex.ImmediateTransaction. There is no
// abstraction layer between the cache and SQLite.
package sqlitepool
