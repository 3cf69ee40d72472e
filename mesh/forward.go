// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/transport"
)

// handleSync delivers a message received on link from remote and, on
// an anchor, relays it onward.
func (c *Coordinator) handleSync(remote schema.ParticipantID, link transport.PeerLink, message schema.SyncMessage) {
	if c.closed {
		return
	}
	entry, ok := c.registry.get(remote)
	if !ok || entry.link != link {
		return
	}
	if !c.protocol.Accept(message) {
		return
	}
	switch message.Kind {
	case schema.SyncState:
		c.observer.GameState(message)
	case schema.SyncEvent:
		c.observer.GameEvent(message)
	}
	c.forward(remote, message)
}

// forward relays an accepted message one hop. A message a player sent
// directly goes to every other link; anything an anchor originated or
// relayed goes only to local players. Each message therefore crosses
// the backbone at most once.
func (c *Coordinator) forward(from schema.ParticipantID, message schema.SyncMessage) {
	if c.election == nil || c.assignment.Role != schema.RoleAnchor {
		return
	}
	toEveryone := message.Source == from && !c.election.IsAnchor(message.Source)
	for _, id := range c.registry.ids() {
		if id == from || id == message.Source {
			continue
		}
		if !toEveryone && c.election.IsAnchor(id) {
			continue
		}
		entry, _ := c.registry.get(id)
		c.sendSync(entry, message)
	}
}
