// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
	"slices"
)

// ElectionResult is the outcome of anchor election. Primary is always
// Anchors[0]. Every participant must hold an identical ElectionResult:
// it is computed once by the host and broadcast, never re-derived.
type ElectionResult struct {
	Anchors []ParticipantID `json:"anchors"`
	Primary ParticipantID   `json:"primary"`
}

// AnchorResultPayload is the payload of an anchor-result control
// message. Digest is optional; when present receivers verify it
// against Anchors before applying the result.
type AnchorResultPayload struct {
	Anchors []ParticipantID `json:"anchors"`
	Primary ParticipantID   `json:"primary"`
	Digest  string          `json:"digest,omitempty"`
}

// Result drops the digest.
func (p AnchorResultPayload) Result() ElectionResult {
	return ElectionResult{Anchors: slices.Clone(p.Anchors), Primary: p.Primary}
}

// IsAnchor reports whether id is one of the elected anchors.
func (r ElectionResult) IsAnchor(id ParticipantID) bool {
	return slices.Contains(r.Anchors, id)
}

// Rank returns id's position in the anchor list, or -1 if id is not an
// anchor. An anchor's squad id is its rank.
func (r ElectionResult) Rank(id ParticipantID) int {
	return slices.Index(r.Anchors, id)
}

// Equal reports whether two results name the same anchors in the same
// order with the same primary.
func (r ElectionResult) Equal(other ElectionResult) bool {
	return r.Primary == other.Primary && slices.Equal(r.Anchors, other.Anchors)
}

// Validate checks the structural invariants: at least one anchor, no
// anchor listed twice, no empty id, and Primary == Anchors[0].
func (r ElectionResult) Validate() error {
	if len(r.Anchors) == 0 {
		return errors.New("election result has no anchors")
	}
	seen := make(map[ParticipantID]struct{}, len(r.Anchors))
	for _, anchor := range r.Anchors {
		if anchor == "" || anchor.IsBroadcast() {
			return fmt.Errorf("invalid anchor id %q", anchor)
		}
		if _, duplicate := seen[anchor]; duplicate {
			return fmt.Errorf("anchor %q listed twice", anchor)
		}
		seen[anchor] = struct{}{}
	}
	if r.Primary != r.Anchors[0] {
		return fmt.Errorf("primary %q is not the first anchor %q", r.Primary, r.Anchors[0])
	}
	return nil
}
