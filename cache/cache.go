// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/klauspost/compress/zstd"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/hearth-im/hearth/lib/codec"
	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/lib/sqlitepool"
	"github.com/hearth-im/hearth/messaging"
)

// Direction records which edge of the timeline a stored batch extends.
type Direction int

const (
	// DirectionAppend: a sync delta at the live edge.
	DirectionAppend Direction = 0
	// DirectionPrepend: a backfill page at the history edge.
	DirectionPrepend Direction = 1
)

// Delta is one room's timeline contribution from a single sync
// response or backfill page. Events are stored in wire order: oldest
// first for appends, newest first for prepends. Replay feeds them
// back through the same Room methods that consumed them live, so the
// order convention never needs translating.
type Delta struct {
	Room      ref.RoomID
	Direction Direction
	// Start and End are the cursor pair in the orientation the Room
	// method expects: for appends, Start is prev_batch and End is the
	// sync position; for prepends, Start is the cursor the page was
	// fetched from and End the next older cursor.
	Start   string
	End     string
	Limited bool
	Events  []messaging.Event
}

// Config holds the parameters for opening a Cache.
type Config struct {
	// Path is the SQLite database file path. Required.
	Path string
	// Logger receives operational messages. If nil, a discard logger
	// is used.
	Logger *slog.Logger
}

// Cache is the persistent sync store. Safe for concurrent use; each
// operation takes its own pooled connection.
type Cache struct {
	pool       *sqlitepool.Pool
	logger     *slog.Logger
	compressor *zstd.Encoder
	expander   *zstd.Decoder
}

const schema = `
CREATE TABLE IF NOT EXISTS batches (
    room_id      TEXT    NOT NULL,
    seq          INTEGER NOT NULL,
    direction    INTEGER NOT NULL,
    start_cursor TEXT    NOT NULL,
    end_cursor   TEXT    NOT NULL,
    limited      INTEGER NOT NULL,
    payload      BLOB    NOT NULL,
    PRIMARY KEY (room_id, seq)
);

CREATE TABLE IF NOT EXISTS sync_state (
    id    INTEGER PRIMARY KEY CHECK (id = 1),
    token TEXT NOT NULL
);
`

// Open opens (creating if necessary) the cache database at
// config.Path. The caller must call Close when done.
func Open(config Config) (*Cache, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   config.Path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("cache: opening store: %w", err)
	}

	compressor, err := zstd.NewWriter(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: creating zstd encoder: %w", err)
	}
	expander, err := zstd.NewReader(nil)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("cache: creating zstd decoder: %w", err)
	}

	return &Cache{
		pool:       pool,
		logger:     logger,
		compressor: compressor,
		expander:   expander,
	}, nil
}

// Close releases the connection pool and codec resources.
func (c *Cache) Close() error {
	c.compressor.Close()
	c.expander.Close()
	return c.pool.Close()
}

// PutDelta durably records one sync position: every room batch in
// deltas plus the new sync token, in a single IMMEDIATE transaction.
// Either all of it lands or none of it does.
//
// A delta whose end cursor equals the room's last stored end cursor is
// skipped: it is a replay of the newest stored batch.
func (c *Cache) PutDelta(ctx context.Context, token string, deltas []Delta) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache: put delta: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("cache: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for _, delta := range deltas {
		lastEnd, lastSeq, found, lookupErr := lastBatch(conn, delta.Room)
		if lookupErr != nil {
			return fmt.Errorf("cache: looking up last batch for %s: %w", delta.Room, lookupErr)
		}
		if found && lastEnd == delta.End {
			c.logger.Debug("skipping replayed batch",
				"room_id", delta.Room,
				"end_cursor", delta.End,
			)
			continue
		}

		payload, encodeErr := c.encodeEvents(delta.Events)
		if encodeErr != nil {
			return fmt.Errorf("cache: encoding batch for %s: %w", delta.Room, encodeErr)
		}

		limited := 0
		if delta.Limited {
			limited = 1
		}
		insertErr := sqlitex.Execute(conn, `
			INSERT INTO batches (room_id, seq, direction, start_cursor, end_cursor, limited, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					delta.Room.String(), lastSeq + 1, int(delta.Direction),
					delta.Start, delta.End, limited, payload,
				},
			})
		if insertErr != nil {
			return fmt.Errorf("cache: inserting batch for %s: %w", delta.Room, insertErr)
		}
	}

	tokenErr := sqlitex.Execute(conn, `
		INSERT INTO sync_state (id, token) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET token = excluded.token`,
		&sqlitex.ExecOptions{Args: []any{token}})
	if tokenErr != nil {
		return fmt.Errorf("cache: advancing sync token: %w", tokenErr)
	}

	return nil
}

// SyncToken returns the last durable sync token, or "" when the cache
// is empty (a fresh client performs an initial sync).
func (c *Cache) SyncToken(ctx context.Context) (string, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("cache: sync token: %w", err)
	}
	defer c.pool.Put(conn)

	var token string
	err = sqlitex.Execute(conn, `SELECT token FROM sync_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				token = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("cache: reading sync token: %w", err)
	}
	return token, nil
}

// LoadRooms returns every room's stored batches in sequence order,
// ready for replay through the timeline.
func (c *Cache) LoadRooms(ctx context.Context) (map[ref.RoomID][]Delta, error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache: load rooms: %w", err)
	}
	defer c.pool.Put(conn)

	rooms := map[ref.RoomID][]Delta{}
	err = sqlitex.Execute(conn, `
		SELECT room_id, direction, start_cursor, end_cursor, limited, payload
		FROM batches ORDER BY room_id, seq`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				roomID, parseErr := ref.ParseRoomID(stmt.ColumnText(0))
				if parseErr != nil {
					return fmt.Errorf("corrupt room ID %q: %w", stmt.ColumnText(0), parseErr)
				}

				payload := make([]byte, stmt.ColumnLen(5))
				stmt.ColumnBytes(5, payload)
				events, decodeErr := c.decodeEvents(payload)
				if decodeErr != nil {
					return fmt.Errorf("corrupt batch payload for %s: %w", roomID, decodeErr)
				}

				rooms[roomID] = append(rooms[roomID], Delta{
					Room:      roomID,
					Direction: Direction(stmt.ColumnInt(1)),
					Start:     stmt.ColumnText(2),
					End:       stmt.ColumnText(3),
					Limited:   stmt.ColumnInt(4) != 0,
					Events:    events,
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("cache: loading rooms: %w", err)
	}
	return rooms, nil
}

// ForgetRoom removes all stored batches for a room, used when the
// user leaves it.
func (c *Cache) ForgetRoom(ctx context.Context, roomID ref.RoomID) error {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("cache: forget room: %w", err)
	}
	defer c.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM batches WHERE room_id = ?`,
		&sqlitex.ExecOptions{Args: []any{roomID.String()}})
	if err != nil {
		return fmt.Errorf("cache: forgetting room %s: %w", roomID, err)
	}
	return nil
}

// lastBatch returns the end cursor and sequence number of the room's
// newest stored batch.
func lastBatch(conn *sqlite.Conn, roomID ref.RoomID) (endCursor string, seq int64, found bool, err error) {
	err = sqlitex.Execute(conn, `
		SELECT seq, end_cursor FROM batches WHERE room_id = ? ORDER BY seq DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{roomID.String()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				seq = stmt.ColumnInt64(0)
				endCursor = stmt.ColumnText(1)
				found = true
				return nil
			},
		})
	return endCursor, seq, found, err
}

func (c *Cache) encodeEvents(events []messaging.Event) ([]byte, error) {
	encoded, err := codec.Marshal(events)
	if err != nil {
		return nil, err
	}
	return c.compressor.EncodeAll(encoded, nil), nil
}

func (c *Cache) decodeEvents(payload []byte) ([]messaging.Event, error) {
	encoded, err := c.expander.DecodeAll(payload, nil)
	if err != nil {
		return nil, err
	}
	var events []messaging.Event
	if err := codec.Unmarshal(encoded, &events); err != nil {
		return nil, err
	}
	return events, nil
}
