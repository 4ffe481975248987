// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if config.LogLevel != "info" || config.LogFormat != "text" {
		t.Errorf("defaults = %q/%q, want info/text", config.LogLevel, config.LogFormat)
	}
	if config.StateDir == "" {
		t.Error("default state dir should not be empty")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hearth.yaml")
	content := `
homeserver: https://matrix.example.org
username: alice
state_dir: /tmp/hearth-test
log_level: debug
sync_timeout: 45s
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	config, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if config.Homeserver != "https://matrix.example.org" {
		t.Errorf("homeserver = %q", config.Homeserver)
	}
	if config.Username != "alice" {
		t.Errorf("username = %q", config.Username)
	}
	if config.SyncTimeout != 45*time.Second {
		t.Errorf("sync timeout = %v", config.SyncTimeout)
	}
	if config.cachePath() != "/tmp/hearth-test/cache.db" {
		t.Errorf("cache path = %q", config.cachePath())
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestSlogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		config := Config{LogLevel: level}
		if _, err := config.slogLevel(); err != nil {
			t.Errorf("slogLevel(%q) failed: %v", level, err)
		}
	}
	config := Config{LogLevel: "verbose"}
	if _, err := config.slogLevel(); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestSavedSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "session.yaml")

	if err := saveSession(path, savedSession{
		UserID:      "@alice:example.org",
		DeviceID:    "HEARTH1",
		AccessToken: "syt_secret",
	}); err != nil {
		t.Fatalf("saveSession failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("session file mode = %v, want 0600", info.Mode().Perm())
	}

	saved, err := loadSavedSession(path)
	if err != nil {
		t.Fatalf("loadSavedSession failed: %v", err)
	}
	if saved.UserID != "@alice:example.org" || saved.DeviceID != "HEARTH1" || saved.AccessToken != "syt_secret" {
		t.Errorf("round trip = %+v", saved)
	}
}

func TestLoadSavedSessionMissing(t *testing.T) {
	saved, err := loadSavedSession(filepath.Join(t.TempDir(), "session.yaml"))
	if err != nil {
		t.Fatalf("missing session file should not error: %v", err)
	}
	if saved != nil {
		t.Errorf("saved = %+v, want nil", saved)
	}
}

func TestLoadSavedSessionWithoutToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte("user_id: '@alice:example.org'\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadSavedSession(path); err == nil {
		t.Error("expected error for session file without a token")
	}
}

func TestReadPassword(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv("HEARTH_PASSWORD", "from-env")
		password, err := readPassword(Config{PasswordFile: "/nonexistent"})
		if err != nil {
			t.Fatalf("readPassword failed: %v", err)
		}
		if password != "from-env" {
			t.Errorf("password = %q", password)
		}
	})

	t.Run("password file", func(t *testing.T) {
		t.Setenv("HEARTH_PASSWORD", "")
		path := filepath.Join(t.TempDir(), "password")
		if err := os.WriteFile(path, []byte("hunter2\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		password, err := readPassword(Config{PasswordFile: path})
		if err != nil {
			t.Fatalf("readPassword failed: %v", err)
		}
		if password != "hunter2" {
			t.Errorf("password = %q, want trailing newline trimmed", password)
		}
	})

	t.Run("no source", func(t *testing.T) {
		t.Setenv("HEARTH_PASSWORD", "")
		if _, err := readPassword(Config{}); err == nil {
			t.Error("expected error with no password source")
		}
	})
}
