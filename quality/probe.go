// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/clock"
	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// ErrNoUsableNetwork is returned when every sample in the probe window
// failed.
var ErrNoUsableNetwork = errors.New("quality: no usable network path")

// Probe measures the local participant's network quality.
type Probe interface {
	// Measure probes for at most duration and returns the local
	// report. It returns early if ctx is cancelled.
	Measure(ctx context.Context, duration time.Duration) (schema.QualityReport, error)
}

// Sampler takes one round-trip measurement. A non-nil error counts the
// sample as lost.
type Sampler interface {
	Sample(ctx context.Context) (time.Duration, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (time.Duration, error)

// Sample calls f.
func (f SamplerFunc) Sample(ctx context.Context) (time.Duration, error) { return f(ctx) }

// SamplingProbe is a Probe that takes evenly spaced samples across the
// probe window.
type SamplingProbe struct {
	participant schema.ParticipantID
	sampler     Sampler
	interval    time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

// ProbeConfig configures a SamplingProbe.
type ProbeConfig struct {
	Participant schema.ParticipantID
	Sampler     Sampler

	// Interval is the spacing between samples. Zero means 100ms.
	Interval time.Duration

	// Clock defaults to the wall clock.
	Clock  clock.Clock
	Logger *slog.Logger
}

var _ Probe = (*SamplingProbe)(nil)

// NewSamplingProbe creates a probe.
func NewSamplingProbe(config ProbeConfig) (*SamplingProbe, error) {
	if config.Participant == "" {
		return nil, errors.New("quality: participant id is required")
	}
	if config.Sampler == nil {
		return nil, errors.New("quality: sampler is required")
	}
	probe := &SamplingProbe{
		participant: config.Participant,
		sampler:     config.Sampler,
		interval:    config.Interval,
		clock:       config.Clock,
		logger:      config.Logger,
	}
	if probe.interval <= 0 {
		probe.interval = 100 * time.Millisecond
	}
	if probe.clock == nil {
		probe.clock = clock.Real()
	}
	if probe.logger == nil {
		probe.logger = slog.Default()
	}
	return probe, nil
}

// Measure takes duration/interval samples, one immediately and then one
// per interval, stopping early when the window closes.
func (p *SamplingProbe) Measure(ctx context.Context, duration time.Duration) (schema.QualityReport, error) {
	if duration <= 0 {
		return schema.QualityReport{}, fmt.Errorf("quality: probe duration must be positive, got %s", duration)
	}

	window, cancel := context.WithCancel(ctx)
	defer cancel()
	deadline := p.clock.AfterFunc(duration, cancel)
	defer deadline.Stop()

	planned := max(1, int(duration/p.interval))
	var samples []time.Duration
	attempted := 0
	for attempted < planned {
		if window.Err() != nil {
			break
		}
		rtt, err := p.sampler.Sample(window)
		if window.Err() != nil && err != nil {
			// Cut off by the window, not a loss.
			break
		}
		attempted++
		if err != nil {
			p.logger.Debug("quality sample lost", "participant", p.participant, "error", err)
		} else {
			samples = append(samples, rtt)
		}
		if attempted < planned && !p.sleep(window, p.interval) {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return schema.QualityReport{}, err
	}

	metrics, err := Summarize(samples, attempted)
	if err != nil {
		return schema.QualityReport{}, err
	}
	report := metrics.Report(p.participant)
	p.logger.Info("network quality measured",
		"participant", p.participant,
		"score", report.Score,
		"latency_ms", report.LatencyMs,
		"jitter_ms", report.JitterMs,
		"packet_loss", report.PacketLossRatio,
		"samples", report.RawSampleCount,
	)
	return report, nil
}

// sleep waits d on the probe clock. It reports false if ctx ended first.
func (p *SamplingProbe) sleep(ctx context.Context, d time.Duration) bool {
	elapsed := make(chan struct{})
	timer := p.clock.AfterFunc(d, func() { close(elapsed) })
	defer timer.Stop()
	select {
	case <-elapsed:
		return true
	case <-ctx.Done():
		return false
	}
}

// Metrics are the raw measurements of a probe window.
type Metrics struct {
	LatencyMs       float64
	JitterMs        float64
	PacketLossRatio float64
	SampleCount     int
}

// Summarize reduces successful round trips out of attempted samples.
// Jitter is the mean absolute difference between consecutive round
// trips.
func Summarize(samples []time.Duration, attempted int) (Metrics, error) {
	if len(samples) == 0 {
		return Metrics{}, ErrNoUsableNetwork
	}
	attempted = max(attempted, len(samples))

	var total float64
	for _, sample := range samples {
		total += milliseconds(sample)
	}
	var jitter float64
	for index := 1; index < len(samples); index++ {
		jitter += math.Abs(milliseconds(samples[index]) - milliseconds(samples[index-1]))
	}
	if len(samples) > 1 {
		jitter /= float64(len(samples) - 1)
	}

	return Metrics{
		LatencyMs:       total / float64(len(samples)),
		JitterMs:        jitter,
		PacketLossRatio: float64(attempted-len(samples)) / float64(attempted),
		SampleCount:     attempted,
	}, nil
}

// Report converts metrics to a scored report for participant.
func (m Metrics) Report(participant schema.ParticipantID) schema.QualityReport {
	return schema.QualityReport{
		ParticipantID:   participant,
		Score:           Score(m.LatencyMs, m.JitterMs, m.PacketLossRatio),
		LatencyMs:       m.LatencyMs,
		JitterMs:        m.JitterMs,
		PacketLossRatio: m.PacketLossRatio,
		RawSampleCount:  m.SampleCount,
	}
}

// Score maps raw metrics to a single number, higher is better. A
// perfect path scores 1000; every millisecond of latency costs one
// point, jitter costs double, and each percent of loss costs ten.
// The result is never negative.
func Score(latencyMs, jitterMs, packetLossRatio float64) float64 {
	return max(0, 1000-latencyMs-2*jitterMs-1000*packetLossRatio)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
