// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging implements the Matrix client-server HTTP transport.
//
// It is the only package in Hearth that talks to the homeserver. The
// split mirrors the protocol's own: [Client] is the unauthenticated
// half (homeserver URL, HTTP transport, login), and [Session] is the
// authenticated half (everything that needs an access token). Sessions
// are lightweight wrappers over a shared Client.
//
// The package is deliberately policy-free. It performs requests,
// decodes responses into wire types, and converts homeserver error
// bodies into [MatrixError] values. Retry, backoff, timeline
// reconciliation, and caching all live above it (package session and
// package timeline). The one classification it does provide is
// [IsTransientError] and [IsAuthError], because the mapping from HTTP
// status and Matrix error code to "retry or give up" is a property of
// the protocol, not of any particular caller.
package messaging
