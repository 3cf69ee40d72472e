// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// ErrLinkClosed is reported when an operation is attempted on a link
// that has been closed or has failed.
var ErrLinkClosed = errors.New("transport: link closed")

// LinkCallbacks receive asynchronous link notifications. Any field may
// be nil. Callbacks may run on any goroutine; for a single link they
// are never invoked concurrently.
type LinkCallbacks struct {
	// OnState is called exactly once per connection state transition.
	// err is non-nil when the new state is StateFailed.
	OnState func(state schema.ConnectionState, err error)

	// OnCandidate is called for each local candidate to trickle to the
	// remote participant.
	OnCandidate func(candidate schema.Blob)

	// OnMessage is called for each sync message received.
	OnMessage func(message schema.SyncMessage)
}

// PeerLink is a single connection to one remote participant.
//
// A link starts disconnected. The initiating side calls CreateOffer and
// later HandleAnswer; the other side calls HandleOffer. Both sides feed
// remote candidates through AddCandidate in any order relative to the
// descriptions.
type PeerLink interface {
	// Remote returns the participant this link connects to.
	Remote() schema.ParticipantID

	// CreateOffer starts negotiation and returns the offer blob.
	CreateOffer() (schema.Blob, error)

	// HandleOffer applies a remote offer and returns the answer blob.
	HandleOffer(offer schema.Blob) (schema.Blob, error)

	// HandleAnswer applies the remote answer to an offer created by
	// CreateOffer.
	HandleAnswer(answer schema.Blob) error

	// AddCandidate applies a remote candidate, buffering it until the
	// remote description is known.
	AddCandidate(candidate schema.Blob) error

	// SendUnreliable sends a message that may be lost or reordered. It
	// reports whether the message was handed to the transport.
	SendUnreliable(message schema.SyncMessage) bool

	// SendReliable sends a message that is delivered in order or the
	// link fails. It reports whether the message was accepted.
	SendReliable(message schema.SyncMessage) bool

	// State returns the current connection state.
	State() schema.ConnectionState

	// Close tears the link down. Closing a connected or negotiating link
	// reports StateDisconnected. Close is idempotent.
	Close() error
}

// LinkFactory creates links owned by a local participant.
type LinkFactory interface {
	NewLink(local, remote schema.ParticipantID, callbacks LinkCallbacks) (PeerLink, error)
}

// linkState tracks a connection state and reports each transition
// once. Callers serialize access.
type linkState struct {
	current  schema.ConnectionState
	callback func(schema.ConnectionState, error)
}

func newLinkState(callback func(schema.ConnectionState, error)) linkState {
	return linkState{current: schema.StateDisconnected, callback: callback}
}

// advance moves to next if the state machine allows it and reports
// whether it did.
func (s *linkState) advance(next schema.ConnectionState, err error) bool {
	if !s.current.CanTransition(next) {
		return false
	}
	s.current = next
	if next != schema.StateFailed {
		err = nil
	} else if err == nil {
		err = ErrLinkClosed
	}
	if s.callback != nil {
		s.callback(next, err)
	}
	return true
}
