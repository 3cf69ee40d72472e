// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import "github.com/bureau-foundation/anchormesh/lib/schema"

// Event is a notification on Session.Events. The concrete types are
// the structs in this file.
type Event interface {
	event()
}

// StateChanged reports a lifecycle transition.
type StateChanged struct {
	From State
	To   State
}

// PeerCountChanged reports the mesh size, local participant included.
type PeerCountChanged struct {
	Count int
	Max   int
}

// RoleAssigned reports the local role once the election is applied.
type RoleAssigned struct {
	Role      schema.Role
	IsPrimary bool
	Squad     int
}

// MatchReady reports that every connection the local role needs has
// been initiated.
type MatchReady struct {
	Anchors []schema.ParticipantID
	Primary schema.ParticipantID
}

// GameState carries an accepted state snapshot.
type GameState struct {
	Source   schema.ParticipantID
	Sequence uint64
	Payload  []byte
}

// GameEvent carries an accepted game event.
type GameEvent struct {
	Source   schema.ParticipantID
	Sequence uint64
	Payload  []byte
}

// SessionFailed reports a fatal failure. Err is a *SessionError.
type SessionFailed struct {
	Err error
}

// ConnectionFailed reports that one peer was dropped. The session
// carries on.
type ConnectionFailed struct {
	Peer schema.ParticipantID
	Err  error
}

func (StateChanged) event()     {}
func (PeerCountChanged) event() {}
func (RoleAssigned) event()     {}
func (MatchReady) event()       {}
func (GameState) event()        {}
func (GameEvent) event()        {}
func (SessionFailed) event()    {}
func (ConnectionFailed) event() {}
