// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// QualityReport summarizes one participant's measured network quality.
// Higher Score is better. A report is immutable once produced: copies
// are stored in every registry that learns of it, never mutated.
type QualityReport struct {
	ParticipantID   ParticipantID `json:"participantId"`
	Score           float64       `json:"score"`
	LatencyMs       float64       `json:"latencyMs"`
	JitterMs        float64       `json:"jitterMs"`
	PacketLossRatio float64       `json:"packetLossRatio"`
	RawSampleCount  int           `json:"rawSampleCount"`
}

// QualityPayload is the payload of a quality-report control message:
// the report minus the participant id, which is implied by the
// message's From field.
type QualityPayload struct {
	Score           float64 `json:"score"`
	LatencyMs       float64 `json:"latencyMs"`
	JitterMs        float64 `json:"jitterMs"`
	PacketLossRatio float64 `json:"packetLossRatio"`
	RawSampleCount  int     `json:"rawSampleCount"`
}

// Payload strips the participant id for transmission.
func (r QualityReport) Payload() QualityPayload {
	return QualityPayload{
		Score:           r.Score,
		LatencyMs:       r.LatencyMs,
		JitterMs:        r.JitterMs,
		PacketLossRatio: r.PacketLossRatio,
		RawSampleCount:  r.RawSampleCount,
	}
}

// Report reattaches the sender's id to a received payload.
func (p QualityPayload) Report(from ParticipantID) QualityReport {
	return QualityReport{
		ParticipantID:   from,
		Score:           p.Score,
		LatencyMs:       p.LatencyMs,
		JitterMs:        p.JitterMs,
		PacketLossRatio: p.PacketLossRatio,
		RawSampleCount:  p.RawSampleCount,
	}
}
