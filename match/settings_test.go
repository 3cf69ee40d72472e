// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"testing"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/config"
)

func TestConfigFromSettings(t *testing.T) {
	settings := config.Default()
	settings.Session.SquadCount = 3
	settings.Sync.RateHz = 20

	got := ConfigFromSettings(settings)
	if got.SquadCount != 3 || got.MaxParticipants != settings.Session.MaxParticipants {
		t.Errorf("squad/max = %d/%d", got.SquadCount, got.MaxParticipants)
	}
	if got.SyncInterval != 50*time.Millisecond {
		t.Errorf("SyncInterval = %v, want 50ms", got.SyncInterval)
	}
	if got.QualityTestDuration != 3*time.Second || got.HandshakeTimeout != 20*time.Second {
		t.Errorf("durations = %v / %v", got.QualityTestDuration, got.HandshakeTimeout)
	}
	if got.Local != "" || got.Probe != nil {
		t.Error("identity or collaborators filled from settings")
	}
}
