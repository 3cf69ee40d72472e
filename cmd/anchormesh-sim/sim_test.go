// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"cmp"
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/config"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/match"
)

func TestSimulate(t *testing.T) {
	cfg := simConfig{players: 5, squads: 2, seed: 7, timeout: 10 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	outcome, err := simulate(context.Background(), config.Default(), cfg, logger)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if len(outcome.Participants) != 5 {
		t.Fatalf("got %d participants, want 5", len(outcome.Participants))
	}

	// The anchors are the two best scores, best first.
	ranked := slices.Clone(outcome.Participants)
	slices.SortFunc(ranked, func(a, b participantOutcome) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	wantAnchors := []schema.ParticipantID{ranked[0].ID, ranked[1].ID}
	if !slices.Equal(outcome.Election.Anchors, wantAnchors) {
		t.Errorf("anchors = %v, want %v", outcome.Election.Anchors, wantAnchors)
	}
	if outcome.Election.Primary != wantAnchors[0] {
		t.Errorf("primary = %s, want %s", outcome.Election.Primary, wantAnchors[0])
	}

	primaries := 0
	for _, participant := range outcome.Participants {
		if participant.IsPrimary {
			primaries++
		}
		wantRole := schema.RolePlayer
		if outcome.Election.IsAnchor(participant.ID) {
			wantRole = schema.RoleAnchor
		}
		if participant.Role != wantRole {
			t.Errorf("%s: role = %s, want %s", participant.ID, participant.Role, wantRole)
		}
		if participant.Squad < 0 || participant.Squad >= 2 {
			t.Errorf("%s: squad = %d, want 0 or 1", participant.ID, participant.Squad)
		}
		if len(participant.States) == 0 || participant.States[len(participant.States)-1] != match.StateInProgress {
			t.Errorf("%s: states = %v, want to end in-progress", participant.ID, participant.States)
		}
		if len(participant.Failures) != 0 {
			t.Errorf("%s: unexpected failures: %v", participant.ID, participant.Failures)
		}
		for _, other := range outcome.Participants {
			if other.ID != participant.ID && participant.GameEvents[other.ID] != 1 {
				t.Errorf("%s received %d events from %s, want 1", participant.ID, participant.GameEvents[other.ID], other.ID)
			}
		}
		if participant.GameEvents[participant.ID] != 0 {
			t.Errorf("%s received its own event", participant.ID)
		}
	}
	if primaries != 1 {
		t.Errorf("got %d primaries, want 1", primaries)
	}
}

func TestSimulate_SeedReproducesScores(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := simConfig{players: 3, squads: 1, seed: 42, timeout: 10 * time.Second}

	first, err := simulate(context.Background(), config.Default(), cfg, logger)
	if err != nil {
		t.Fatalf("first simulate: %v", err)
	}
	second, err := simulate(context.Background(), config.Default(), cfg, logger)
	if err != nil {
		t.Fatalf("second simulate: %v", err)
	}
	for index := range first.Participants {
		if first.Participants[index].Score != second.Participants[index].Score {
			t.Errorf("participant %d: scores %.1f and %.1f differ for the same seed",
				index, first.Participants[index].Score, second.Participants[index].Score)
		}
	}
	if !first.Election.Equal(second.Election) {
		t.Errorf("elections differ for the same seed: %v vs %v", first.Election, second.Election)
	}
}

func TestSimConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  simConfig
	}{
		{"one player", simConfig{players: 1, squads: 1, timeout: time.Second}},
		{"no squads", simConfig{players: 4, squads: 0, timeout: time.Second}},
		{"more squads than players", simConfig{players: 2, squads: 3, timeout: time.Second}},
		{"no timeout", simConfig{players: 2, squads: 1}},
		{"negative hold", simConfig{players: 2, squads: 1, timeout: time.Second, hold: -time.Second}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := test.cfg.validate(); err == nil {
				t.Errorf("validate(%+v) returned nil, want error", test.cfg)
			}
		})
	}
}

func TestPrintOutcome(t *testing.T) {
	outcome := &simOutcome{
		Election: schema.ElectionResult{Anchors: []schema.ParticipantID{"p01", "p00"}, Primary: "p01"},
		Participants: []participantOutcome{
			{ID: "p00", Score: 70, Role: schema.RoleAnchor, Squad: 1, GameEvents: map[schema.ParticipantID]int{"p01": 1, "p02": 1}},
			{ID: "p01", Score: 90, Role: schema.RoleAnchor, IsPrimary: true, Squad: 0, GameEvents: map[schema.ParticipantID]int{"p00": 1, "p02": 1}},
			{ID: "p02", Score: 10, Role: schema.RolePlayer, Squad: 0, GameEvents: map[schema.ParticipantID]int{"p00": 1, "p01": 1}},
		},
	}
	var buffer bytes.Buffer
	if err := printOutcome(&buffer, outcome, 1500*time.Millisecond); err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	output := buffer.String()
	for _, want := range []string{"anchors: p01, p00 (primary p01)", "elapsed: 1.5s", "anchor (primary)", "PARTICIPANT"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}
