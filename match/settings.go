// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import "github.com/bureau-foundation/anchormesh/lib/config"

// ConfigFromSettings fills the tunables of a session Config from a
// loaded configuration. Identity, collaborators, clock, and logger
// are left for the caller.
func ConfigFromSettings(settings *config.Config) Config {
	return Config{
		MaxParticipants:       settings.Session.MaxParticipants,
		SquadCount:            settings.Session.SquadCount,
		QualityTestDuration:   settings.Quality.TestDuration.Std(),
		SyncInterval:          settings.Sync.SyncInterval(),
		WaitForPlayersTimeout: settings.Session.WaitForPlayersTimeout.Std(),
		HandshakeTimeout:      settings.Session.HandshakeTimeout.Std(),
		HeartbeatInterval:     settings.Session.HeartbeatInterval.Std(),
		StalePeerTimeout:      settings.Session.StalePeerTimeout.Std(),
		EvictStalePeers:       settings.Session.EvictStalePeers,
		EventQueueLimit:       settings.Session.EventQueueLimit,
	}
}
