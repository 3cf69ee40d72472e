// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"maps"
	"math"
	"slices"
	"time"
)

// Snapshot is a flat numeric view of game state, such as positions and
// health keyed by "entity.field".
type Snapshot map[string]float64

// Changes is the difference between two snapshots.
type Changes struct {
	// Changed holds keys that were added or whose value differs.
	Changed Snapshot `json:"changed,omitempty"`

	// Removed lists keys present before and absent now, sorted.
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether the snapshots were identical.
func (c Changes) Empty() bool { return len(c.Changed) == 0 && len(c.Removed) == 0 }

// Delta computes the changes that turn previous into current.
func Delta(previous, current Snapshot) Changes {
	var changes Changes
	for key, value := range current {
		if old, ok := previous[key]; ok && old == value {
			continue
		}
		if changes.Changed == nil {
			changes.Changed = make(Snapshot)
		}
		changes.Changed[key] = value
	}
	for key := range previous {
		if _, ok := current[key]; !ok {
			changes.Removed = append(changes.Removed, key)
		}
	}
	slices.Sort(changes.Removed)
	return changes
}

// ApplyDelta returns base with changes applied. base is not modified.
func ApplyDelta(base Snapshot, changes Changes) Snapshot {
	result := maps.Clone(base)
	if result == nil {
		result = make(Snapshot)
	}
	for _, key := range changes.Removed {
		delete(result, key)
	}
	maps.Copy(result, changes.Changed)
	return result
}

// Interpolate blends from toward to. alpha is clamped to [0, 1] and a
// NaN alpha is treated as 0. Keys
// present only in to take its value; keys present only in from are
// dropped, since to is the newer state.
func Interpolate(from, to Snapshot, alpha float64) Snapshot {
	if math.IsNaN(alpha) {
		alpha = 0
	}
	alpha = min(max(alpha, 0), 1)
	result := make(Snapshot, len(to))
	for key, target := range to {
		if start, ok := from[key]; ok {
			result[key] = start + (target-start)*alpha
		} else {
			result[key] = target
		}
	}
	return result
}

// TimedSnapshot is a snapshot with the time it describes.
type TimedSnapshot struct {
	At     time.Time
	Values Snapshot
}

// InterpolateAt estimates the state at a point in time between two
// timed snapshots. Times outside the pair clamp to the nearer one.
func InterpolateAt(from, to TimedSnapshot, at time.Time) Snapshot {
	span := to.At.Sub(from.At)
	if span <= 0 {
		return Interpolate(from.Values, to.Values, 1)
	}
	alpha := float64(at.Sub(from.At)) / float64(span)
	return Interpolate(from.Values, to.Values, alpha)
}
