// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"bytes"
	"fmt"

	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/transport"
)

// HandleControl applies one signaling message. Delivery is best
// effort, so every branch tolerates duplicates and reordering.
func (c *Coordinator) HandleControl(message schema.ControlMessage) {
	if c.closed || message.From == c.local {
		return
	}
	if message.MatchID != c.matchID || !message.AddressedTo(c.local) {
		c.logger.Debug("ignoring control message for someone else",
			"type", message.Type,
			"from", string(message.From),
			"to", string(message.To),
			"message_match_id", message.MatchID,
		)
		return
	}
	if err := message.Validate(); err != nil {
		c.logger.Debug("dropping malformed control message", "from", string(message.From), "error", err)
		return
	}

	entry, created, ok := c.admit(message.From)
	if !ok {
		return
	}

	switch message.Type {
	case schema.ControlQualityReport:
		c.handleQuality(entry, message)
	case schema.ControlAnchorResult:
		c.handleAnchorResult(message)
	case schema.ControlOffer:
		c.handleOffer(entry, message)
	case schema.ControlAnswer:
		c.handleAnswer(entry, message)
	case schema.ControlICECandidate:
		c.handleCandidate(entry, message)
	case schema.ControlHeartbeat:
	}

	// The entry may have been removed by a failed handshake above.
	if current, exists := c.registry.get(message.From); created && exists && current == entry {
		c.peerAdded(entry)
	}
}

func (c *Coordinator) handleQuality(entry *peerEntry, message schema.ControlMessage) {
	var payload qualityMessage
	if err := message.DecodePayload(&payload); err != nil {
		c.logger.Debug("dropping quality report", "error", err)
		return
	}
	if !validQuality(payload.QualityPayload) {
		c.logger.Warn("dropping quality report with non-finite score", "peer", string(message.From))
		return
	}
	report := payload.Report(message.From)
	entry.peer.Quality = &report
	if payload.DisplayName != "" {
		entry.peer.DisplayName = payload.DisplayName
	}
	c.logger.Debug("quality report received", "peer", string(message.From), "score", report.Score)
}

func (c *Coordinator) handleAnchorResult(message schema.ControlMessage) {
	var payload schema.AnchorResultPayload
	if err := message.DecodePayload(&payload); err != nil {
		c.logger.Debug("dropping anchor result", "error", err)
		return
	}
	result := payload.Result()
	if err := result.Validate(); err != nil {
		c.logger.Warn("dropping invalid anchor result", "from", string(message.From), "error", err)
		return
	}
	if payload.Digest != "" && !VerifyDigest(result, payload.Digest) {
		c.logger.Warn("dropping anchor result with mismatched digest", "from", string(message.From))
		return
	}

	known := c.received
	if c.election != nil {
		known = c.election
	}
	if known != nil {
		if !known.Equal(result) {
			c.logger.Warn("ignoring conflicting anchor result",
				"from", string(message.From),
				"primary", result.Primary,
				"held_primary", known.Primary,
			)
		}
		return
	}
	c.received = &result
	c.logger.Info("anchor result received", "from", string(message.From), "anchors", result.Anchors)
	c.observer.ElectionReceived(result)
}

func (c *Coordinator) handleOffer(entry *peerEntry, message schema.ControlMessage) {
	if link := entry.link; link != nil {
		switch {
		case entry.initiated && ShouldInitiate(c.local, message.From):
			// Both sides offered; the lower id's offer stands.
			c.logger.Debug("ignoring offer, local side initiates", "peer", string(message.From))
			return
		case !entry.initiated && link.State() != schema.StateDisconnected && bytes.Equal(entry.answered, message.Payload):
			c.logger.Debug("ignoring duplicate offer", "peer", string(message.From))
			return
		case entry.initiated || link.State() != schema.StateDisconnected:
			c.logger.Debug("replacing link for new offer", "peer", string(message.From))
			c.dropLink(entry)
		}
	}
	if entry.link == nil {
		if err := c.createLink(entry); err != nil {
			c.logger.Warn("creating link failed", "peer", string(message.From), "error", err)
			return
		}
	}
	answer, err := entry.link.HandleOffer(message.Payload)
	if err != nil {
		c.removePeer(entry, fmt.Errorf("applying offer from %s: %w", message.From, err))
		return
	}
	entry.answered = append(schema.Blob(nil), message.Payload...)
	c.armHandshake(entry)
	c.send(schema.ControlAnswer, message.From, answer)
}

func (c *Coordinator) handleAnswer(entry *peerEntry, message schema.ControlMessage) {
	if entry.link == nil || !entry.initiated {
		c.logger.Debug("ignoring answer without a pending offer", "peer", string(message.From))
		return
	}
	if entry.link.State() == schema.StateConnected {
		return
	}
	if err := entry.link.HandleAnswer(message.Payload); err != nil {
		c.removePeer(entry, fmt.Errorf("applying answer from %s: %w", message.From, err))
	}
}

func (c *Coordinator) handleCandidate(entry *peerEntry, message schema.ControlMessage) {
	if entry.link == nil {
		// Candidates can outrun the offer. The link created here is
		// reused when the offer arrives.
		if err := c.createLink(entry); err != nil {
			c.logger.Warn("creating link failed", "peer", string(message.From), "error", err)
			return
		}
	}
	if err := entry.link.AddCandidate(message.Payload); err != nil {
		c.logger.Debug("ignoring candidate", "peer", string(message.From), "error", err)
	}
}

// offer initiates a link to remote unless one is already under way.
func (c *Coordinator) offer(remote schema.ParticipantID) {
	entry, created, ok := c.admit(remote)
	if !ok {
		return
	}
	if created {
		c.peerAdded(entry)
	}
	if entry.link != nil {
		if entry.initiated || entry.link.State() != schema.StateDisconnected {
			return
		}
	} else if err := c.createLink(entry); err != nil {
		c.logger.Warn("creating link failed", "peer", string(remote), "error", err)
		return
	}
	offer, err := entry.link.CreateOffer()
	if err != nil {
		c.removePeer(entry, fmt.Errorf("creating offer for %s: %w", remote, err))
		return
	}
	entry.initiated = true
	entry.peer.State = entry.link.State()
	c.armHandshake(entry)
	c.logger.Info("offering link", "peer", string(remote))
	c.send(schema.ControlOffer, remote, offer)
}

// createLink opens a fresh link for entry. Callbacks are posted to the
// loop and ignored once entry holds a different link.
func (c *Coordinator) createLink(entry *peerEntry) error {
	remote := entry.peer.ID
	var link transport.PeerLink
	callbacks := transport.LinkCallbacks{
		OnState: func(state schema.ConnectionState, err error) {
			c.post(func() { c.handleLinkState(remote, link, state, err) })
		},
		OnCandidate: func(candidate schema.Blob) {
			c.post(func() {
				if c.closed {
					return
				}
				c.send(schema.ControlICECandidate, remote, candidate)
			})
		},
		OnMessage: func(message schema.SyncMessage) {
			c.post(func() { c.handleSync(remote, link, message) })
		},
	}
	created, err := c.links.NewLink(c.local, remote, callbacks)
	if err != nil {
		return err
	}
	link = created
	entry.link = created
	entry.initiated = false
	entry.answered = nil
	return nil
}

// dropLink closes entry's link without removing the peer.
func (c *Coordinator) dropLink(entry *peerEntry) {
	entry.stopHandshakeTimer()
	if entry.link != nil {
		entry.link.Close()
	}
	entry.link = nil
	entry.initiated = false
	entry.answered = nil
	entry.peer.State = schema.StateDisconnected
}

func (c *Coordinator) handleLinkState(remote schema.ParticipantID, link transport.PeerLink, state schema.ConnectionState, cause error) {
	if c.closed {
		return
	}
	entry, ok := c.registry.get(remote)
	if !ok || entry.link != link {
		return
	}
	previous := entry.peer.State
	entry.peer.State = state
	switch state {
	case schema.StateConnected:
		entry.stopHandshakeTimer()
		c.logger.Info("link connected", "peer", string(remote))
	case schema.StateFailed:
		c.removePeer(entry, fmt.Errorf("link to %s failed: %w", remote, cause))
		return
	case schema.StateDisconnected:
		if previous == schema.StateConnected {
			c.removePeer(entry, fmt.Errorf("%w: %s", ErrPeerDisconnected, remote))
			return
		}
		c.logger.Info("link disconnected", "peer", string(remote))
		c.dropLink(entry)
	}
	c.observer.LinkStateChanged(remote, state)
}

// armHandshake (re)starts entry's handshake timeout for its current
// link.
func (c *Coordinator) armHandshake(entry *peerEntry) {
	entry.stopHandshakeTimer()
	if c.handshakeTimeout <= 0 || entry.link == nil {
		return
	}
	remote := entry.peer.ID
	link := entry.link
	timeout := c.handshakeTimeout
	entry.handshake = c.clock.AfterFunc(timeout, func() {
		c.post(func() {
			if c.closed {
				return
			}
			current, ok := c.registry.get(remote)
			if !ok || current.link != link || link.State() == schema.StateConnected {
				return
			}
			c.removePeer(current, fmt.Errorf("%w after %s", ErrHandshakeTimeout, timeout))
		})
	})
}
