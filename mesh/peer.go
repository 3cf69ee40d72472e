// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"maps"
	"slices"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/clock"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/transport"
)

// Peer is the registry's view of one remote participant.
type Peer struct {
	ID          schema.ParticipantID
	DisplayName string

	// Squad is schema.NoSquad until an election is applied.
	Squad int
	Role  schema.Role
	State schema.ConnectionState

	// Quality is nil until the peer's report arrives.
	Quality *schema.QualityReport

	LastHeartbeat time.Time
}

// peerEntry is a registry slot. The coordinator's loop owns it.
type peerEntry struct {
	peer Peer

	link transport.PeerLink

	// initiated is set when the local side created the offer on link.
	initiated bool

	// answered is the remote offer link last answered.
	answered schema.Blob

	// handshake fails link if it has not connected in time.
	handshake *clock.Timer

	// staleReported suppresses repeated staleness warnings until the
	// peer is heard from again.
	staleReported bool
}

func (e *peerEntry) snapshot() Peer {
	peer := e.peer
	if e.peer.Quality != nil {
		quality := *e.peer.Quality
		peer.Quality = &quality
	}
	return peer
}

func (e *peerEntry) stopHandshakeTimer() {
	if e.handshake != nil {
		e.handshake.Stop()
		e.handshake = nil
	}
}

// registry holds the peers of one match attempt.
type registry struct {
	peers map[schema.ParticipantID]*peerEntry
}

func newRegistry() *registry {
	return &registry{peers: make(map[schema.ParticipantID]*peerEntry)}
}

func (r *registry) get(id schema.ParticipantID) (*peerEntry, bool) {
	entry, ok := r.peers[id]
	return entry, ok
}

func (r *registry) add(id schema.ParticipantID, now time.Time) *peerEntry {
	entry := &peerEntry{peer: Peer{
		ID:            id,
		DisplayName:   string(id),
		Squad:         schema.NoSquad,
		Role:          schema.RolePlayer,
		State:         schema.StateDisconnected,
		LastHeartbeat: now,
	}}
	r.peers[id] = entry
	return entry
}

func (r *registry) remove(id schema.ParticipantID) {
	delete(r.peers, id)
}

func (r *registry) len() int { return len(r.peers) }

// ids returns the peer ids in ascending order.
func (r *registry) ids() []schema.ParticipantID {
	return slices.Sorted(maps.Keys(r.peers))
}
