// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "strings"

// ParticipantID identifies one match participant. It doubles as a
// routing address on the signaling relay and as the ordering key for
// every deterministic tie-break (election order, glare avoidance).
type ParticipantID string

// Broadcast is the "to" address of a control message meant for every
// participant in the match.
const Broadcast ParticipantID = "*"

// String returns the raw identifier.
func (id ParticipantID) String() string { return string(id) }

// IsBroadcast reports whether id is the broadcast address.
func (id ParticipantID) IsBroadcast() bool { return id == Broadcast }

// Less is the fixed total order used for tie-breaks: plain byte-wise
// lexicographic comparison, identical on every platform.
func (id ParticipantID) Less(other ParticipantID) bool {
	return strings.Compare(string(id), string(other)) < 0
}

// Role is a participant's position in the mesh after election.
type Role string

const (
	// RolePlayer is every participant not elected as an anchor. A player
	// connects only to its squad anchor.
	RolePlayer Role = "player"

	// RoleAnchor is a participant in the anchor backbone. Anchors connect
	// to every other anchor and accept connections from their squad.
	RoleAnchor Role = "anchor"
)

// NoSquad is the squad id of a participant that has not been assigned.
const NoSquad = -1
