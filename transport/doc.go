// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries anchormesh traffic between participants.
//
// Two contracts are defined here and consumed by the mesh coordinator:
//
// A [PeerLink] is one point-to-point connection to a remote participant.
// It exposes the handshake steps (offer, answer, trickled candidates)
// as opaque blobs the coordinator passes through signaling, plus an
// unreliable send for state snapshots and a reliable send for events.
// Candidates that arrive before the remote description are buffered
// and applied once it is set. State transitions are reported exactly
// once each through [LinkCallbacks]. [WebRTCLink] is the production
// implementation over pion/webrtc data channels: "state" is unordered
// with no retransmission, "event" is ordered and reliable.
// [MemoryNetwork] links participants in one process for tests and the
// simulator.
//
// A [Relay] is the best-effort publish/subscribe path for
// [schema.ControlMessage] values scoped to a match id, used before any
// link exists. Delivery is unordered and may drop or duplicate
// messages. [MemoryRelay] is in-process; [RedisRelay] uses Redis pub/sub
// channels; [WebSocketRelay] talks to a [RelayServer], which can fan out
// across several relay instances through Redis.
//
// Sync messages travel on data channels as CBOR frames (see
// [FrameCodec]) with payload compression above a size threshold.
//
// Implementations never block the caller on the network: Send on a
// relay enqueues, and link operations are local to the WebRTC stack.
// Callbacks run on transport goroutines and must not call back into
// the link or relay synchronously.
package transport
