// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mesh forms and runs the peer mesh of one match.
//
// Anchor election ([Elect]) is a pure function: quality reports are
// ordered by descending score with ties broken by ascending
// participant id, and the first K become the anchors, the first of
// those the primary. Only the host runs it; everyone else applies the
// broadcast result, whose [Digest] lets receivers reject corrupted
// copies.
//
// Role assignment ([AssignRole]) makes every anchor a member of the
// backbone and gives every other participant a squad anchor through a
// [SquadPolicy]. Between two anchors only the one with the smaller id
// sends the offer ([ShouldInitiate]); players always offer to their
// anchor. Anchors forward game traffic so that every participant sees
// every other participant's state and events.
//
// The [Coordinator] owns the peer registry of one match attempt. It
// dispatches signaling messages, drives links, forwards sync traffic,
// and reports to an [Observer]. It is single-threaded: every method,
// and every callback it schedules through its post function, must run
// on the same event loop.
package mesh
