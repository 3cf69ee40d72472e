// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"slices"

	"github.com/bureau-foundation/anchormesh/lib/clock"
	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Protocol produces sequenced messages for the local participant and
// filters inbound messages. It is not safe for concurrent use; the mesh
// coordinator owns it on its event loop.
type Protocol struct {
	local schema.ParticipantID
	clock clock.Clock

	stateSequence uint64
	eventSequence uint64
	localState    []byte
	hasLocalState bool

	lastState map[schema.ParticipantID]uint64
	lastEvent map[schema.ParticipantID]uint64
}

// NewProtocol creates a protocol for local.
func NewProtocol(local schema.ParticipantID, clk clock.Clock) *Protocol {
	return &Protocol{
		local:     local,
		clock:     clk,
		lastState: make(map[schema.ParticipantID]uint64),
		lastEvent: make(map[schema.ParticipantID]uint64),
	}
}

// SetLocal caches payload as the snapshot for the next tick.
func (p *Protocol) SetLocal(payload []byte) {
	p.localState = slices.Clone(payload)
	p.hasLocalState = true
}

// NextState returns the state message for this tick. It reports false
// until SetLocal has been called; after that every tick carries the
// latest snapshot with a new sequence.
func (p *Protocol) NextState() (schema.SyncMessage, bool) {
	if !p.hasLocalState {
		return schema.SyncMessage{}, false
	}
	p.stateSequence++
	return schema.SyncMessage{
		Kind:      schema.SyncState,
		Source:    p.local,
		Sequence:  p.stateSequence,
		Timestamp: p.clock.Now().UnixMilli(),
		Payload:   p.localState,
	}, true
}

// NewEvent returns the next event message carrying payload.
func (p *Protocol) NewEvent(payload []byte) schema.SyncMessage {
	p.eventSequence++
	return schema.SyncMessage{
		Kind:      schema.SyncEvent,
		Source:    p.local,
		Sequence:  p.eventSequence,
		Timestamp: p.clock.Now().UnixMilli(),
		Payload:   slices.Clone(payload),
	}
}

// Accept reports whether message should be applied and records it if
// so. Messages from the local participant, stale or duplicate state,
// and replayed events are rejected.
func (p *Protocol) Accept(message schema.SyncMessage) bool {
	if message.Source == p.local || message.Source == "" || message.Sequence == 0 {
		return false
	}
	var last map[schema.ParticipantID]uint64
	switch message.Kind {
	case schema.SyncState:
		last = p.lastState
	case schema.SyncEvent:
		last = p.lastEvent
	default:
		return false
	}
	if message.Sequence <= last[message.Source] {
		return false
	}
	last[message.Source] = message.Sequence
	return true
}

// LastApplied returns the highest sequence accepted from source for
// kind, or zero.
func (p *Protocol) LastApplied(source schema.ParticipantID, kind schema.SyncKind) uint64 {
	switch kind {
	case schema.SyncState:
		return p.lastState[source]
	case schema.SyncEvent:
		return p.lastEvent[source]
	}
	return 0
}
