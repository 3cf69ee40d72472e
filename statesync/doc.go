// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package statesync sequences and filters the game traffic carried on
// mesh links.
//
// Two delivery classes exist. State messages carry the full local
// snapshot, broadcast on every sync tick over the unreliable channel;
// a receiver applies one only if its sequence is higher than the last
// applied from that source. Event messages carry a single occurrence
// over the reliable channel and are counted separately, so a receiver
// drops only exact replays (which anchors forwarding through several
// paths can produce).
//
// [Delta], [ApplyDelta], [Interpolate], and [InterpolateAt] are
// stateless helpers for consumers that smooth numeric snapshots
// between ticks.
package statesync
