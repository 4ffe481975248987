// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the hearth client configuration, loaded from the file given
// by --config (or HEARTH_CONFIG). Flags override file values.
type Config struct {
	// Homeserver is the Matrix homeserver base URL.
	Homeserver string `yaml:"homeserver"`

	// Username is the account localpart or full user ID used for
	// password login. Ignored once a saved session exists.
	Username string `yaml:"username"`

	// PasswordFile is a file containing the account password, read
	// only when no saved session exists. The HEARTH_PASSWORD
	// environment variable takes precedence.
	PasswordFile string `yaml:"password_file"`

	// StateDir holds the saved session and the timeline cache.
	StateDir string `yaml:"state_dir"`

	// LogLevel is one of debug, info, warn, error. Default info.
	LogLevel string `yaml:"log_level"`

	// LogFormat is "text" or "json". Default text.
	LogFormat string `yaml:"log_format"`

	// SyncTimeout is the server-side long-poll window.
	SyncTimeout time.Duration `yaml:"sync_timeout"`

	// Filter is an optional /sync filter ID or inline JSON filter.
	Filter string `yaml:"filter"`
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "hearth")
	}
	return ".hearth"
}

func loadConfig(path string) (Config, error) {
	config := Config{
		StateDir:  defaultStateDir(),
		LogLevel:  "info",
		LogFormat: "text",
	}
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) cachePath() string {
	return filepath.Join(c.StateDir, "cache.db")
}

func (c *Config) sessionPath() string {
	return filepath.Join(c.StateDir, "session.yaml")
}

func (c *Config) slogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", c.LogLevel)
}

// savedSession is the on-disk record of an authenticated session,
// written after a successful password login so later runs resume
// without credentials.
type savedSession struct {
	UserID      string `yaml:"user_id"`
	DeviceID    string `yaml:"device_id"`
	AccessToken string `yaml:"access_token"`
}

// loadSavedSession returns nil without error when no session file
// exists yet.
func loadSavedSession(path string) (*savedSession, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading saved session: %w", err)
	}
	var saved savedSession
	if err := yaml.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("parsing saved session %s: %w", path, err)
	}
	if saved.AccessToken == "" {
		return nil, fmt.Errorf("saved session %s has no access token", path)
	}
	return &saved, nil
}

// saveSession writes the session record with owner-only permissions:
// the access token is a bearer credential.
func saveSession(path string, saved savedSession) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := yaml.Marshal(saved)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// readPassword resolves the login password: HEARTH_PASSWORD wins, then
// the configured password file.
func readPassword(config Config) (string, error) {
	if password := os.Getenv("HEARTH_PASSWORD"); password != "" {
		return password, nil
	}
	if config.PasswordFile == "" {
		return "", fmt.Errorf("no saved session and no password source: set HEARTH_PASSWORD or password_file in the config")
	}
	data, err := os.ReadFile(config.PasswordFile)
	if err != nil {
		return "", fmt.Errorf("reading password file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
