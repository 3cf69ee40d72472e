// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// ErrNoReports is returned by Elect when there is nothing to elect from.
var ErrNoReports = errors.New("mesh: no quality reports to elect from")

// Elect orders reports by descending score, ties broken by ascending
// participant id, and returns the first squadCount as anchors. With
// fewer reports than squadCount every reported participant becomes an
// anchor. Reports with an empty or broadcast id are ignored; when a
// participant appears more than once its best report counts. NaN
// scores sort last.
func Elect(reports []schema.QualityReport, squadCount int) (schema.ElectionResult, error) {
	if squadCount < 1 {
		return schema.ElectionResult{}, fmt.Errorf("mesh: squad count must be at least 1, got %d", squadCount)
	}

	best := make(map[schema.ParticipantID]float64, len(reports))
	for _, report := range reports {
		id := report.ParticipantID
		if id == "" || id.IsBroadcast() {
			continue
		}
		score := report.Score
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}
		if existing, seen := best[id]; !seen || score > existing {
			best[id] = score
		}
	}
	if len(best) == 0 {
		return schema.ElectionResult{}, ErrNoReports
	}

	candidates := make([]schema.ParticipantID, 0, len(best))
	for id := range best {
		candidates = append(candidates, id)
	}
	slices.SortFunc(candidates, func(a, b schema.ParticipantID) int {
		if byScore := cmp.Compare(best[b], best[a]); byScore != 0 {
			return byScore
		}
		return cmp.Compare(a, b)
	})

	anchors := candidates[:min(squadCount, len(candidates))]
	return schema.ElectionResult{Anchors: slices.Clone(anchors), Primary: anchors[0]}, nil
}

// electionDomainKey separates election digests from every other BLAKE3
// use. Changing it breaks digest checks between versions.
var electionDomainKey = [32]byte{
	'a', 'n', 'c', 'h', 'o', 'r', 'm', 'e', 's', 'h', '.', 'e', 'l', 'e', 'c', 't',
	'i', 'o', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Digest returns the hex BLAKE3 keyed hash of the result's canonical
// form: each anchor id followed by a zero byte, in order, then the
// primary.
func Digest(result schema.ElectionResult) string {
	hasher, err := blake3.NewKeyed(electionDomainKey[:])
	if err != nil {
		panic("mesh: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, anchor := range result.Anchors {
		hasher.Write([]byte(anchor))
		hasher.Write([]byte{0})
	}
	hasher.Write([]byte(result.Primary))
	return hex.EncodeToString(hasher.Sum(nil))
}

// VerifyDigest reports whether digest matches result.
func VerifyDigest(result schema.ElectionResult, digest string) bool {
	return Digest(result) == digest
}
