// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities shared by Hearth's
// network code.
//
// ReadResponse bounds body reads at MaxResponseSize to prevent
// unbounded memory allocation from a misbehaving or malicious
// homeserver. It is for JSON API responses (the Matrix client-server
// API) — not for media downloads, which should be read incrementally.
package netutil

import (
	"io"
)

// MaxResponseSize is the bound on JSON API response body reads: 256 MB.
// This exists solely to prevent a pathological response from exhausting
// system memory. Legitimate /sync responses are orders of magnitude
// smaller; the limit is intentionally generous so that it never
// interferes with normal operation.
const MaxResponseSize int64 = 256 << 20

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}
