// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"encoding/binary"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Assignment is a participant's place in the mesh.
type Assignment struct {
	Role      schema.Role
	IsPrimary bool

	// Squad is the anchor's rank for anchors and the squad anchor's
	// rank for players.
	Squad int

	// Anchor is the participant itself for anchors and the squad
	// anchor for players.
	Anchor schema.ParticipantID
}

// SquadPolicy places players into squads. It must be deterministic so
// that the player and its anchor agree without coordination.
type SquadPolicy interface {
	// SquadFor returns an index into result.Anchors.
	SquadFor(player schema.ParticipantID, result schema.ElectionResult) int
}

// HashSquadPolicy spreads players across anchors by a hash of their id.
type HashSquadPolicy struct{}

var _ SquadPolicy = HashSquadPolicy{}

var squadDomainKey = [32]byte{
	'a', 'n', 'c', 'h', 'o', 'r', 'm', 'e', 's', 'h', '.', 's', 'q', 'u', 'a', 'd',
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SquadFor maps player to blake3(player) mod len(anchors).
func (HashSquadPolicy) SquadFor(player schema.ParticipantID, result schema.ElectionResult) int {
	if len(result.Anchors) == 0 {
		return schema.NoSquad
	}
	hasher, err := blake3.NewKeyed(squadDomainKey[:])
	if err != nil {
		panic("mesh: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write([]byte(player))
	sum := hasher.Sum(nil)
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(len(result.Anchors)))
}

// AssignRole places participant according to result. Anchors take
// their rank as squad; everyone else is a player in the squad chosen
// by policy.
func AssignRole(participant schema.ParticipantID, result schema.ElectionResult, policy SquadPolicy) Assignment {
	if rank := result.Rank(participant); rank >= 0 {
		return Assignment{
			Role:      schema.RoleAnchor,
			IsPrimary: participant == result.Primary,
			Squad:     rank,
			Anchor:    participant,
		}
	}
	squad := policy.SquadFor(participant, result)
	assignment := Assignment{Role: schema.RolePlayer, Squad: squad}
	if squad >= 0 && squad < len(result.Anchors) {
		assignment.Anchor = result.Anchors[squad]
	}
	return assignment
}

// ShouldInitiate is the glare rule between two anchors: the smaller id
// sends the offer.
func ShouldInitiate(local, remote schema.ParticipantID) bool {
	return local.Less(remote)
}

// RequiredConnections lists the participants local must be linked to:
// every other anchor for an anchor, the squad anchor for a player.
// Links from players to an anchor are initiated by the players and are
// not listed for the anchor.
func RequiredConnections(local schema.ParticipantID, assignment Assignment, result schema.ElectionResult) []schema.ParticipantID {
	if assignment.Role == schema.RolePlayer {
		if assignment.Anchor == "" {
			return nil
		}
		return []schema.ParticipantID{assignment.Anchor}
	}
	required := make([]schema.ParticipantID, 0, len(result.Anchors)-1)
	for _, anchor := range result.Anchors {
		if anchor != local {
			required = append(required, anchor)
		}
	}
	return required
}

// Initiates reports whether local sends the offer on its required
// connection to remote.
func Initiates(local schema.ParticipantID, assignment Assignment, remote schema.ParticipantID) bool {
	if assignment.Role == schema.RolePlayer {
		return true
	}
	return ShouldInitiate(local, remote)
}
