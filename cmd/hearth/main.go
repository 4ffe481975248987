// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Hearth is a terminal Matrix client built on the hearth sync engine.
// It logs in (or resumes a saved session), restores cached room history,
// and streams the live timeline to stdout while reading commands from
// stdin:
//
//	/rooms                      list joined and invited rooms
//	/send <room> <text>         send a message
//	/join <room-or-alias>       join a room
//	/leave <room>               leave a room and forget its history
//	/backfill <room>            fetch one page of older history
//	/redact <room> <event> [r]  ask the server to redact an event
//	/quit                       log out and exit
//
// On first run the password comes from HEARTH_PASSWORD or the
// configured password_file; the resulting access token is saved under
// the state directory and reused on later runs.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/hearth-im/hearth/cache"
	"github.com/hearth-im/hearth/lib/ref"
	"github.com/hearth-im/hearth/messaging"
	"github.com/hearth-im/hearth/session"
	"github.com/hearth-im/hearth/timeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		homeserver  string
		username    string
		stateDir    string
		logLevel    string
		logFormat   string
		syncTimeout time.Duration
	)

	flagSet := pflag.NewFlagSet("hearth", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("HEARTH_CONFIG"), "path to the YAML config file")
	flagSet.StringVar(&homeserver, "homeserver", "", "Matrix homeserver base URL")
	flagSet.StringVar(&username, "user", "", "account localpart or full user ID for password login")
	flagSet.StringVar(&stateDir, "state-dir", "", "directory for the saved session and timeline cache")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn, or error")
	flagSet.StringVar(&logFormat, "log-format", "", "text or json")
	flagSet.DurationVar(&syncTimeout, "sync-timeout", 0, "server-side long-poll window")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Flags override file values.
	if homeserver != "" {
		config.Homeserver = homeserver
	}
	if username != "" {
		config.Username = username
	}
	if stateDir != "" {
		config.StateDir = stateDir
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}
	if logFormat != "" {
		config.LogFormat = logFormat
	}
	if syncTimeout > 0 {
		config.SyncTimeout = syncTimeout
	}
	if config.Homeserver == "" {
		return fmt.Errorf("--homeserver (or homeserver in the config file) is required")
	}

	level, err := config.slogLevel()
	if err != nil {
		return err
	}
	var handler slog.Handler
	switch config.LogFormat {
	case "", "text":
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		return fmt.Errorf("unknown log format %q", config.LogFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: config.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	transport, err := authenticate(ctx, client, config, logger)
	if err != nil {
		return err
	}

	store, err := cache.Open(cache.Config{
		Path:   config.cachePath(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer store.Close()

	// OnState feeds a channel so a terminal disconnect (revoked token)
	// unblocks the command loop.
	disconnected := make(chan struct{}, 1)
	started := false

	engine, err := session.New(session.Config{
		Transport:   transport,
		Cache:       store,
		Logger:      logger,
		SyncTimeout: config.SyncTimeout,
		Filter:      config.Filter,
		OnChange: func(change timeline.Change) {
			if line, ok := renderChange(change, transport.UserID()); ok {
				fmt.Println(line)
			}
		},
		OnState: func(state session.State) {
			if state == session.StateDisconnected && started {
				select {
				case disconnected <- struct{}{}:
				default:
				}
			}
		},
		OnInvite: func(roomID ref.RoomID, room *timeline.Room) {
			fmt.Printf("invited to %s (%s) — /join %s to accept\n",
				room.State().DisplayName(transport.UserID()), roomID, roomID)
		},
	})
	if err != nil {
		return err
	}

	started = true
	engine.Start(ctx)
	logger.Info("syncing", "homeserver", config.Homeserver, "user_id", transport.UserID())

	commands := make(chan string)
	go readCommands(ctx, commands)

	for {
		select {
		case <-ctx.Done():
			engine.Stop()
			return nil
		case <-disconnected:
			return fmt.Errorf("disconnected: session is no longer valid, remove %s and log in again", config.sessionPath())
		case line, ok := <-commands:
			if !ok {
				engine.Stop()
				return nil
			}
			quit, err := dispatchCommand(ctx, engine, transport.UserID(), line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				continue
			}
			if quit {
				logoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := engine.Logout(logoutCtx); err != nil {
					logger.Warn("logout failed", "error", err)
				}
				if err := os.Remove(config.sessionPath()); err != nil {
					logger.Warn("removing saved session failed", "error", err)
				}
				return nil
			}
		}
	}
}

// authenticate resumes the saved session when one exists, otherwise
// performs a password login and saves the resulting token.
func authenticate(ctx context.Context, client *messaging.Client, config Config, logger *slog.Logger) (*messaging.Session, error) {
	saved, err := loadSavedSession(config.sessionPath())
	if err != nil {
		return nil, err
	}
	if saved != nil {
		userID, err := ref.ParseUserID(saved.UserID)
		if err != nil {
			return nil, fmt.Errorf("saved session: %w", err)
		}
		logger.Debug("resuming saved session", "user_id", userID, "device_id", saved.DeviceID)
		return client.SessionFromToken(userID, saved.DeviceID, saved.AccessToken), nil
	}

	if config.Username == "" {
		return nil, fmt.Errorf("no saved session: --user (or username in the config file) is required for login")
	}
	password, err := readPassword(config)
	if err != nil {
		return nil, err
	}

	transport, err := client.Login(ctx, config.Username, password)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if err := saveSession(config.sessionPath(), savedSession{
		UserID:      transport.UserID().String(),
		DeviceID:    transport.DeviceID(),
		AccessToken: transport.AccessToken(),
	}); err != nil {
		return nil, err
	}
	logger.Info("logged in", "user_id", transport.UserID(), "device_id", transport.DeviceID())
	return transport, nil
}

// readCommands forwards stdin lines to the command channel, closing it
// on EOF.
func readCommands(ctx context.Context, commands chan<- string) {
	defer close(commands)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case commands <- line:
		case <-ctx.Done():
			return
		}
	}
}

// dispatchCommand executes one stdin command. Returns quit=true for
// /quit.
func dispatchCommand(ctx context.Context, engine *session.Session, self ref.UserID, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	command := fields[0]
	args := fields[1:]

	switch command {
	case "/quit":
		return true, nil

	case "/rooms":
		for _, roomID := range engine.RoomIDs() {
			room, ok := engine.Room(roomID)
			if !ok {
				continue
			}
			marker := ""
			if engine.Invited(roomID) {
				marker = " (invited)"
			}
			fmt.Printf("%s  %s%s\n", roomID, room.State().DisplayName(self), marker)
		}
		return false, nil

	case "/send":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: /send <room> <text>")
		}
		roomID, err := ref.ParseRoomID(args[0])
		if err != nil {
			return false, err
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, command))
		text = strings.TrimSpace(strings.TrimPrefix(text, args[0]))
		_, err = engine.Send(ctx, roomID, messaging.NewTextMessage(text))
		return false, err

	case "/join":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /join <room-or-alias>")
		}
		roomID, err := engine.Join(ctx, args[0])
		if err != nil {
			return false, err
		}
		fmt.Printf("joined %s\n", roomID)
		return false, nil

	case "/leave":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /leave <room>")
		}
		roomID, err := ref.ParseRoomID(args[0])
		if err != nil {
			return false, err
		}
		return false, engine.Leave(ctx, roomID)

	case "/backfill":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /backfill <room>")
		}
		roomID, err := ref.ParseRoomID(args[0])
		if err != nil {
			return false, err
		}
		if err := engine.Backfill(ctx, roomID, 50); err == timeline.ErrAtTop {
			fmt.Println("full history already loaded")
			return false, nil
		} else if err != nil {
			return false, err
		}
		return false, nil

	case "/redact":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: /redact <room> <event-id> [reason]")
		}
		roomID, err := ref.ParseRoomID(args[0])
		if err != nil {
			return false, err
		}
		eventID, err := ref.ParseEventID(args[1])
		if err != nil {
			return false, err
		}
		reason := strings.Join(args[2:], " ")
		return false, engine.RedactRequest(ctx, roomID, eventID, reason)
	}
	return false, fmt.Errorf("unknown command %q (try /rooms, /send, /join, /leave, /backfill, /redact, /quit)", command)
}
