// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// SyncKind distinguishes the two delivery classes of the state sync
// protocol.
type SyncKind uint8

const (
	// SyncState is a full game-state snapshot. Latest wins: a snapshot
	// with a higher sequence from the same source supersedes all older
	// ones, and older ones arriving late are dropped.
	SyncState SyncKind = 1

	// SyncEvent is a discrete occurrence that must be delivered exactly
	// once.
	SyncEvent SyncKind = 2
)

func (k SyncKind) String() string {
	switch k {
	case SyncState:
		return "state"
	case SyncEvent:
		return "event"
	default:
		return "unknown"
	}
}

// SyncMessage is an application message carried over peer links.
// Sequence is strictly increasing per (Source, Kind): state and event
// streams are numbered independently.
type SyncMessage struct {
	Kind     SyncKind      `cbor:"kind"`
	Source   ParticipantID `cbor:"source"`
	Sequence uint64        `cbor:"seq"`

	// Timestamp is the source's wall clock in Unix milliseconds.
	Timestamp int64  `cbor:"ts"`
	Payload   []byte `cbor:"payload"`
}
