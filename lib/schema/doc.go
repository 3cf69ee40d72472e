// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the wire types shared by every anchormesh
// component: participant identities, quality reports, signaling control
// messages, data-channel sync messages, and election results.
//
// Two serialization formats are in play, following lib/codec:
//
//   - JSON for signaling. [ControlMessage] is the record published on
//     the signaling relay; its payload is one of [QualityPayload],
//     [AnchorResultPayload], or an opaque handshake blob.
//   - CBOR for peer links. [SyncMessage] is encoded with lib/codec
//     before it is written to a data channel.
//
// Types carrying `json` tags are used on both surfaces; types carrying
// `cbor` tags only ever travel over peer links.
//
// [ConnectionState] encodes the per-peer link state machine (disconnected,
// negotiating, connected, failed) and [ConnectionState.CanTransition]
// enforces its allowed edges.
//
// This package depends on no other anchormesh packages.
package schema
