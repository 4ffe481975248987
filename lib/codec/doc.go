// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR serialization used by the persistent
// cache.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical batch always produces identical bytes, which is what lets the
// cache detect an already-stored batch by comparing stored payloads and
// keeps replay idempotence checkable at the byte level.
//
// Decoding accepts standard CBOR and silently ignores unknown fields,
// so a cache written by a newer build remains readable by an older one
// as long as the known fields keep their meaning.
package codec
