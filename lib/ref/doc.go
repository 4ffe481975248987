// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated value types for Matrix protocol
// identifiers: event IDs, room IDs, room aliases, user IDs, and event
// types.
//
// Raw identifier strings enter the program at exactly one kind of
// place — a protocol boundary (JSON from the homeserver, a config
// file, a command-line argument) — and are parsed into these types
// there. Everything past the boundary works with the typed values, so
// a function that accepts a ref.RoomID can never receive a user ID by
// accident, and a zero value is always detectable with IsZero.
//
// All types are immutable and comparable, usable as map keys. They
// implement encoding.TextMarshaler and TextUnmarshaler, so identifiers
// embedded in JSON (including JSON map keys, as in the /sync rooms
// section) validate automatically during deserialization.
package ref
