// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package quality measures a participant's network quality.
//
// A [Probe] produces one [schema.QualityReport] per join attempt. The
// standard implementation, [SamplingProbe], takes a series of
// round-trip samples through a [Sampler] (normally a [STUNSampler]
// sending binding requests to public STUN servers), then reduces mean
// latency, jitter, and loss to a single comparable [Score].
//
// A probe always finishes within the requested duration. Samples that
// do not complete in time count as lost; a window with no successful
// sample at all fails with [ErrNoUsableNetwork].
package quality
