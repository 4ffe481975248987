// Copyright 2026 The Hearth Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability.
//
// Production code injects [Real]; tests inject [Fake] and advance it
// explicitly. Every function in the engine that would call time.Now,
// time.After, or time.Sleep accepts a Clock (or is a method on a
// struct with a Clock field) instead of reaching for the time package
// directly. This is what makes the sync driver's backoff schedule and
// the pending-echo timestamps deterministic under test: a test can
// drive three transient failures through the full exponential backoff
// in microseconds of wall time.
package clock
