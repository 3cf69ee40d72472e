// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package match runs the lifecycle of one participant in one match.
//
// A Session owns an event loop (lib/eventloop) on which every state
// change happens: application calls, signaling messages, link
// callbacks, timer ticks, and the quality probe result. The session
// walks
//
//	idle → joining → quality-test → waiting-for-players →
//	electing-anchors → connecting-mesh → ready → in-progress
//
// and ends in finished or error. Leave returns to idle from anywhere.
// Each join attempt builds a fresh mesh.Coordinator, so a session that
// left or failed can join again without leftovers.
//
// Notifications are delivered as typed values on Events in emission
// order. The queue between the loop and the consumer is unbounded so
// the loop never waits on the application; under backlog, queued game
// state snapshots from the same source are superseded by newer ones.
// Dispatch adapts the stream to per-kind callbacks.
package match
