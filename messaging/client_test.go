// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hearth-im/hearth/lib/ref"
)

func TestNewClient(t *testing.T) {
	t.Run("valid URL", func(t *testing.T) {
		client, err := NewClient(ClientConfig{HomeserverURL: "http://localhost:8008"})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		if client == nil {
			t.Fatal("NewClient returned nil")
		}
	})

	t.Run("empty URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{})
		if err == nil {
			t.Fatal("expected error for empty URL")
		}
	})

	t.Run("invalid URL", func(t *testing.T) {
		_, err := NewClient(ClientConfig{HomeserverURL: "://invalid"})
		if err == nil {
			t.Fatal("expected error for invalid URL")
		}
	})
}

func TestLogin(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/_matrix/client/v3/login" {
				t.Errorf("unexpected path: %s", request.URL.Path)
				writer.WriteHeader(http.StatusNotFound)
				return
			}
			var body LoginRequest
			if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode login request: %v", err)
			}
			if body.Type != "m.login.password" {
				t.Errorf("unexpected login type: %q", body.Type)
			}
			if body.Identifier.User != "alice" {
				t.Errorf("unexpected user: %q", body.Identifier.User)
			}
			if body.Password != "password123" {
				t.Errorf("unexpected password: %q", body.Password)
			}

			writer.Header().Set("Content-Type", "application/json")
			json.NewEncoder(writer).Encode(AuthResponse{
				UserID:      ref.MustParseUserID("@alice:example.org"),
				AccessToken: "syt_alice_token",
				DeviceID:    "DEVICE1",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		session, err := client.Login(context.Background(), "alice", "password123")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if got, want := session.UserID().String(), "@alice:example.org"; got != want {
			t.Errorf("UserID = %q, want %q", got, want)
		}
		if session.DeviceID() != "DEVICE1" {
			t.Errorf("DeviceID = %q, want DEVICE1", session.DeviceID())
		}
		if session.AccessToken() != "syt_alice_token" {
			t.Errorf("AccessToken = %q", session.AccessToken())
		}
	})

	t.Run("bad credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			writer.Header().Set("Content-Type", "application/json")
			writer.WriteHeader(http.StatusForbidden)
			json.NewEncoder(writer).Encode(map[string]string{
				"errcode": ErrCodeForbidden,
				"error":   "Invalid password",
			})
		}))
		defer server.Close()

		client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}

		_, err = client.Login(context.Background(), "alice", "wrong")
		if err == nil {
			t.Fatal("expected login error")
		}
		if !IsMatrixError(err, ErrCodeForbidden) {
			t.Errorf("expected M_FORBIDDEN, got %v", err)
		}
	})
}

func TestMatrixErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(writer).Encode(map[string]any{
			"errcode":        ErrCodeLimitExceeded,
			"error":          "Too many requests",
			"retry_after_ms": 2000,
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.ServerVersions(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		t.Fatalf("expected *MatrixError, got %T: %v", err, err)
	}
	if matrixErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", matrixErr.StatusCode)
	}
	if matrixErr.RetryAfterMS != 2000 {
		t.Errorf("RetryAfterMS = %d, want 2000", matrixErr.RetryAfterMS)
	}
	if !IsTransientError(err) {
		t.Error("rate limit should be transient")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		auth      bool
	}{
		{
			name:      "unknown token",
			err:       &MatrixError{Code: ErrCodeUnknownToken, StatusCode: 401},
			transient: false,
			auth:      true,
		},
		{
			name:      "missing token",
			err:       &MatrixError{Code: ErrCodeMissingToken, StatusCode: 401},
			transient: false,
			auth:      true,
		},
		{
			name:      "server error",
			err:       &MatrixError{Code: ErrCodeUnknown, StatusCode: 502},
			transient: true,
			auth:      false,
		},
		{
			name:      "rate limited",
			err:       &MatrixError{Code: ErrCodeLimitExceeded, StatusCode: 429},
			transient: true,
			auth:      false,
		},
		{
			name:      "not found",
			err:       &MatrixError{Code: ErrCodeNotFound, StatusCode: 404},
			transient: false,
			auth:      false,
		},
		{
			name:      "network failure",
			err:       context.DeadlineExceeded,
			transient: true,
			auth:      false,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsTransientError(test.err); got != test.transient {
				t.Errorf("IsTransientError = %v, want %v", got, test.transient)
			}
			if got := IsAuthError(test.err); got != test.auth {
				t.Errorf("IsAuthError = %v, want %v", got, test.auth)
			}
		})
	}
}
