// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the wall-clock safety valves used by
// anchormesh tests.
//
// Protocol time in tests is driven by lib/clock.Fake. Real timeouts
// exist only to stop a broken test from hanging forever, and they live
// here: [RequireReceive] and [RequireClosed] wrap the select-with-
// timeout pattern, and [RequireEventually] polls a condition that
// settles asynchronously (a multi-session mesh converging, a pion
// connection coming up over loopback).
//
// All helpers fail the test with t.Fatalf.
package testutil
