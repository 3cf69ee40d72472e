// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quality

import (
	"context"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// StaticProbe returns a fixed report without touching the network.
// The simulator and tests use it to script elections.
type StaticProbe struct {
	Report schema.QualityReport

	// Err, when set, is returned instead of the report.
	Err error
}

var _ Probe = StaticProbe{}

// Measure returns the configured report or error.
func (p StaticProbe) Measure(ctx context.Context, duration time.Duration) (schema.QualityReport, error) {
	if err := ctx.Err(); err != nil {
		return schema.QualityReport{}, err
	}
	if p.Err != nil {
		return schema.QualityReport{}, p.Err
	}
	return p.Report, nil
}

// ScoredReport builds a report with the given score and no raw
// metrics.
func ScoredReport(participant schema.ParticipantID, score float64) schema.QualityReport {
	return schema.QualityReport{ParticipantID: participant, Score: score, RawSampleCount: 1}
}
