// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the wall clock so session durations and
// uptime can be tested deterministically. Production code uses [Real];
// tests use [Fake] and move time with [FakeClock.Advance].
package clock
