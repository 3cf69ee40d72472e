// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// ConnectionState is the state of the link to one remote participant.
//
//	disconnected → negotiating → connected → disconnected
//	      any non-failed state → failed
//
// A connected link never goes straight back to negotiating; it must
// pass through disconnected first. Failed is terminal: the peer is
// removed from the registry.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateNegotiating  ConnectionState = "negotiating"
	StateConnected    ConnectionState = "connected"
	StateFailed       ConnectionState = "failed"
)

// CanTransition reports whether moving from s to next is an allowed
// edge of the link state machine. Staying in the same state is not a
// transition.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	if s == next || s == StateFailed {
		return false
	}
	switch next {
	case StateFailed:
		return true
	case StateNegotiating:
		return s == StateDisconnected
	case StateConnected:
		return s == StateNegotiating || s == StateDisconnected
	case StateDisconnected:
		return s == StateNegotiating || s == StateConnected
	}
	return false
}
