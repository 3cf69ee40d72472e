// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every anchormesh timer: quality
// probe sampling, the state sync tick, heartbeats, and handshake and
// lobby timeouts.
//
// Components hold a Clock field instead of calling the time package.
// Binaries inject Real(); tests inject Fake() and move time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	session := newSession(fake)
//	fake.WaitForTimers(1)              // the session armed its ticker
//	fake.Advance(33 * time.Millisecond) // exactly one sync tick
//
// AfterFunc callbacks on the fake clock run synchronously inside
// Advance, in deadline order. They must not call Advance themselves.
package clock
