// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import "github.com/bureau-foundation/anchormesh/lib/schema"

// Observer receives coordinator notifications on the coordinator's
// loop. Implementations must not block.
type Observer interface {
	// PeerCountChanged reports the mesh size, the local participant
	// included, after a peer is added or removed.
	PeerCountChanged(count int)

	// ElectionReceived reports the first valid election result
	// published by another participant.
	ElectionReceived(result schema.ElectionResult)

	// LinkStateChanged reports a link transition to a known peer.
	LinkStateChanged(peer schema.ParticipantID, state schema.ConnectionState)

	// ConnectionFailed reports that a peer was removed because its
	// link failed, its handshake timed out, or it went stale.
	ConnectionFailed(peer schema.ParticipantID, err error)

	// GameState delivers an accepted state snapshot.
	GameState(message schema.SyncMessage)

	// GameEvent delivers an accepted event.
	GameEvent(message schema.SyncMessage)
}

// NopObserver ignores every notification. Embed it to implement only
// part of Observer.
type NopObserver struct{}

var _ Observer = NopObserver{}

func (NopObserver) PeerCountChanged(int) {}
func (NopObserver) ElectionReceived(schema.ElectionResult) {}
func (NopObserver) LinkStateChanged(schema.ParticipantID, schema.ConnectionState) {}
func (NopObserver) ConnectionFailed(schema.ParticipantID, error) {}
func (NopObserver) GameState(schema.SyncMessage) {}
func (NopObserver) GameEvent(schema.SyncMessage) {}
