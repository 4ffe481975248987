// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hearth-im/hearth/cache"
	"github.com/hearth-im/hearth/lib/clock"
	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
	"github.com/hearth-im/hearth/timeline"
)

// State is the engine's connection state.
type State int

const (
	// StateDisconnected: not syncing. Initial state, and terminal
	// after an auth failure or logout.
	StateDisconnected State = iota
	// StateSyncing: the long-poll loop is running normally.
	StateSyncing
	// StateBackoff: a transient failure occurred; the loop is waiting
	// before retrying with the same token.
	StateBackoff
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateSyncing:
		return "syncing"
	case StateBackoff:
		return "backoff"
	}
	return "unknown"
}

// Config holds the parameters for creating an engine Session.
type Config struct {
	// Transport is the authenticated homeserver session. Required.
	Transport *messaging.Session

	// Cache is the persistent store. Optional; nil runs the engine
	// memory-only (every start is an initial sync).
	Cache *cache.Cache

	// Clock drives backoff waits and pending-echo timestamps. If nil,
	// the real clock is used; tests inject a fake.
	Clock clock.Clock

	// Logger receives structured operational logging. If nil,
	// slog.Default() is used.
	Logger *slog.Logger

	// OnChange receives every timeline change across all rooms,
	// called synchronously under the dispatch lock. Keep it fast;
	// hand off to a channel for heavy work.
	OnChange func(timeline.Change)

	// OnState receives connection state transitions.
	OnState func(State)

	// OnInvite is called when an invite surfaces a new room. Joining
	// is a caller decision, via Join.
	OnInvite func(roomID ref.RoomID, room *timeline.Room)

	// BackoffBase and BackoffMax bound the retry delay. Defaults:
	// 1s and 30s.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// SyncTimeout is the server-side long-poll window. Default 30s.
	SyncTimeout time.Duration

	// Filter is an optional /sync filter (ID or inline JSON).
	Filter string
}

// Session is the engine: room replicas, sync driver, cache writer,
// and command surface. All exported methods are safe for concurrent
// use.
type Session struct {
	transport *messaging.Session
	store     *cache.Cache
	clk       clock.Clock
	logger    *slog.Logger

	onChange func(timeline.Change)
	onState  func(State)
	onInvite func(roomID ref.RoomID, room *timeline.Room)

	backoffBase time.Duration
	backoffMax  time.Duration
	syncTimeout time.Duration
	filter      string

	mu       sync.Mutex
	state    State
	token    string
	rooms    map[ref.RoomID]*timeline.Room
	invited  map[ref.RoomID]bool
	degraded bool
	sendTail map[ref.RoomID]chan struct{}

	startOnce  sync.Once
	syncCancel context.CancelFunc
	syncDone   chan struct{}
}

// New creates a Session and, when a cache is configured, restores the
// durable sync token and replays the stored room history. The session
// does not contact the homeserver until Start.
func New(config Config) (*Session, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("session: Transport is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	s := &Session{
		transport:   config.Transport,
		store:       config.Cache,
		clk:         clk,
		logger:      logger,
		onChange:    config.OnChange,
		onState:     config.OnState,
		onInvite:    config.OnInvite,
		backoffBase: config.BackoffBase,
		backoffMax:  config.BackoffMax,
		syncTimeout: config.SyncTimeout,
		filter:      config.Filter,
		rooms:       map[ref.RoomID]*timeline.Room{},
		invited:     map[ref.RoomID]bool{},
		sendTail:    map[ref.RoomID]chan struct{}{},
		syncDone:    make(chan struct{}),
	}
	if s.backoffBase <= 0 {
		s.backoffBase = time.Second
	}
	if s.backoffMax <= 0 {
		s.backoffMax = 30 * time.Second
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = 30 * time.Second
	}

	if s.store != nil {
		if err := s.restore(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// restore loads the durable token and replays cached batches through
// the same timeline code path that consumed them live. Rooms replay
// without a change listener; the listener is installed afterward so
// history restoration is silent.
func (s *Session) restore() error {
	ctx := context.Background()

	token, err := s.store.SyncToken(ctx)
	if err != nil {
		return fmt.Errorf("session: restoring sync token: %w", err)
	}
	s.token = token

	cached, err := s.store.LoadRooms(ctx)
	if err != nil {
		return fmt.Errorf("session: restoring rooms: %w", err)
	}

	for roomID, deltas := range cached {
		room := timeline.NewRoom(timeline.RoomConfig{
			ID:        roomID,
			OwnUserID: s.transport.UserID(),
			Logger:    s.logger,
		})
		for _, delta := range deltas {
			switch delta.Direction {
			case cache.DirectionPrepend:
				if err := room.Prepend(delta.Start, delta.End, delta.Events); err != nil {
					s.logger.Warn("cached backfill no longer chains, skipping",
						"room_id", roomID,
						"error", err,
					)
				}
			default:
				room.Append(delta.Start, delta.End, delta.Events, delta.Limited)
			}
		}
		room.SetOnChange(s.onChange)
		s.rooms[roomID] = room
	}

	s.logger.Info("restored from cache",
		"rooms", len(s.rooms),
		"sync_token", s.token != "",
	)
	return nil
}

// Start launches the sync loop. Subsequent calls are no-ops. The loop
// runs until ctx is cancelled, Logout or Stop is called, or an auth
// failure occurs.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		s.syncCancel = cancel
		go s.syncLoop(loopCtx)
	})
}

// Stop cancels the sync loop and waits for the in-flight poll to
// finish or be abandoned. It does not invalidate the server-side
// token; use Logout for that.
func (s *Session) Stop() {
	if s.syncCancel == nil {
		return
	}
	s.syncCancel()
	<-s.syncDone
}

// Logout stops the sync loop, waiting for the in-flight poll (bounded
// by ctx), then invalidates the access token on the homeserver. The
// session is Disconnected afterward regardless of the server call's
// outcome.
func (s *Session) Logout(ctx context.Context) error {
	if s.syncCancel != nil {
		s.syncCancel()
		select {
		case <-s.syncDone:
		case <-ctx.Done():
			s.logger.Warn("abandoning in-flight sync", "error", ctx.Err())
		}
	}

	err := s.transport.Logout(ctx)
	s.setState(StateDisconnected)
	if err != nil {
		return fmt.Errorf("session: logout: %w", err)
	}
	return nil
}

// CurrentState returns the connection state.
func (s *Session) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Token returns the current sync token ("" before the initial sync).
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Room returns the replica for roomID, if the session has observed
// it. The returned Room must only be used from change callbacks or
// while no sync dispatch is running; it is not internally locked.
func (s *Session) Room(roomID ref.RoomID) (*timeline.Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

// RoomIDs returns the IDs of all rooms the session holds, joined and
// invited.
func (s *Session) RoomIDs() []ref.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]ref.RoomID, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Invited reports whether roomID is a pending invite (not yet joined).
func (s *Session) Invited(roomID ref.RoomID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invited[roomID]
}

// syncLoop is the driver: long-poll, dispatch, persist, repeat.
// Transient failures back off exponentially with the token unchanged;
// auth failures terminate the loop.
func (s *Session) syncLoop(ctx context.Context) {
	defer close(s.syncDone)
	defer s.setState(StateDisconnected)

	backoff := s.backoffBase

	for {
		if ctx.Err() != nil {
			return
		}

		options := messaging.SyncOptions{
			Since:      s.Token(),
			Timeout:    int(s.syncTimeout.Milliseconds()),
			SetTimeout: true,
			Filter:     s.filter,
		}
		s.setState(StateSyncing)

		response, err := s.transport.Sync(ctx, options)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if messaging.IsAuthError(err) {
				s.logger.Error("authentication failed, disconnecting", "error", err)
				return
			}

			// Everything else — network failures, 5xx, 429, and
			// malformed response bodies — retries with the token
			// unchanged. The server re-delivers the missed delta.
			s.setState(StateBackoff)
			s.logger.Error("sync failed, retrying",
				"error", err,
				"backoff", backoff,
			)
			select {
			case <-ctx.Done():
				return
			case <-s.clk.After(backoff):
			}
			backoff *= 2
			if backoff > s.backoffMax {
				backoff = s.backoffMax
			}
			continue
		}

		backoff = s.backoffBase
		s.dispatch(ctx, response)
	}
}

// dispatch routes one sync response into the room replicas and
// persists it. Called only from the sync loop; takes the session
// mutex for the whole response so commands never interleave with a
// half-applied delta.
func (s *Session) dispatch(ctx context.Context, response *messaging.SyncResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deltas []cache.Delta

	for roomID, joined := range response.Rooms.Join {
		room := s.roomLocked(roomID)
		delete(s.invited, roomID)

		// State section first: events known before the timeline
		// window opens.
		for _, event := range joined.State.Events {
			room.ApplyState(event)
		}

		// A room can appear with state or counter changes and no
		// timeline events; appending an empty batch would only record
		// spurious cursors.
		if len(joined.Timeline.Events) > 0 || joined.Timeline.Limited {
			room.Append(
				joined.Timeline.PrevBatch,
				response.NextBatch,
				joined.Timeline.Events,
				joined.Timeline.Limited,
			)
		}
		room.SetUnreadCounts(
			joined.UnreadNotifications.HighlightCount,
			joined.UnreadNotifications.NotificationCount,
		)

		if len(joined.Timeline.Events) > 0 {
			deltas = append(deltas, cache.Delta{
				Room:      roomID,
				Direction: cache.DirectionAppend,
				Start:     joined.Timeline.PrevBatch,
				End:       response.NextBatch,
				Limited:   joined.Timeline.Limited,
				Events:    joined.Timeline.Events,
			})
		}
	}

	for roomID, invite := range response.Rooms.Invite {
		if _, known := s.rooms[roomID]; known {
			continue
		}
		room := s.roomLocked(roomID)
		s.invited[roomID] = true
		for _, event := range invite.InviteState.Events {
			room.ApplyState(event)
		}
		s.logger.Info("invited to room", "room_id", roomID)
		if s.onInvite != nil {
			s.onInvite(roomID, room)
		}
	}

	for roomID := range response.Rooms.Leave {
		if _, known := s.rooms[roomID]; !known {
			continue
		}
		delete(s.rooms, roomID)
		delete(s.invited, roomID)
		s.logger.Info("left room", "room_id", roomID)
		if s.store != nil {
			if err := s.store.ForgetRoom(ctx, roomID); err != nil {
				s.logger.Error("forgetting room in cache failed",
					"room_id", roomID,
					"error", err,
				)
			}
		}
	}

	s.token = response.NextBatch
	s.persistLocked(ctx, deltas)
}

// persistLocked commits deltas plus the current token. A cache write
// failure degrades the session to non-durable operation for this
// write: in-memory state is already updated and syncing continues;
// the next restart replays from the older durable token.
func (s *Session) persistLocked(ctx context.Context, deltas []cache.Delta) {
	if s.store == nil {
		return
	}
	if err := s.store.PutDelta(ctx, s.token, deltas); err != nil {
		if !s.degraded {
			s.degraded = true
			s.logger.Error("cache write failed, continuing non-durable", "error", err)
		} else {
			s.logger.Debug("cache write failed", "error", err)
		}
		return
	}
	s.degraded = false
}

// roomLocked returns the replica for roomID, creating it on first
// observation. Caller holds s.mu.
func (s *Session) roomLocked(roomID ref.RoomID) *timeline.Room {
	if room, ok := s.rooms[roomID]; ok {
		return room
	}
	room := timeline.NewRoom(timeline.RoomConfig{
		ID:        roomID,
		OwnUserID: s.transport.UserID(),
		Logger:    s.logger,
		OnChange:  s.onChange,
	})
	s.rooms[roomID] = room
	s.logger.Debug("room created", "room_id", roomID)
	return room
}

// setState records a connection state transition and notifies the
// listener.
func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	s.logger.Debug("connection state", "state", state)
	if s.onState != nil {
		s.onState(state)
	}
}
