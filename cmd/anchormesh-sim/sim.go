// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/config"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/match"
	"github.com/bureau-foundation/anchormesh/mesh"
	"github.com/bureau-foundation/anchormesh/quality"
	"github.com/bureau-foundation/anchormesh/transport"
)

const simMatchID = "simulation"

type simConfig struct {
	players int
	squads  int
	seed    uint64

	// hold is how long the match stays in progress after every event
	// has been delivered, so state snapshots accumulate.
	hold time.Duration

	// timeout bounds each phase.
	timeout time.Duration
}

func (c simConfig) validate() error {
	var errs []error
	if c.players < 2 {
		errs = append(errs, fmt.Errorf("--players must be at least 2, got %d", c.players))
	}
	if c.squads < 1 || c.squads > c.players {
		errs = append(errs, fmt.Errorf("--squads must be between 1 and --players, got %d", c.squads))
	}
	if c.timeout <= 0 {
		errs = append(errs, errors.New("--timeout must be positive"))
	}
	if c.hold < 0 {
		errs = append(errs, errors.New("--hold must not be negative"))
	}
	return errors.Join(errs...)
}

// participantOutcome is what one simulated participant observed.
type participantOutcome struct {
	ID        schema.ParticipantID
	Score     float64
	Role      schema.Role
	IsPrimary bool
	Squad     int
	States    []match.State

	// By source.
	GameEvents map[schema.ParticipantID]int
	GameStates map[schema.ParticipantID]int

	Failures []error
}

// simOutcome is the result of one simulated match.
type simOutcome struct {
	Election     schema.ElectionResult
	Participants []participantOutcome
}

// observer accumulates one participant's events. Its goroutine is the
// only writer; readers take the lock.
type observer struct {
	mu      sync.Mutex
	outcome participantOutcome
	ready   *match.MatchReady
}

func (o *observer) consume(events <-chan match.Event) {
	for event := range events {
		o.mu.Lock()
		switch event := event.(type) {
		case match.StateChanged:
			o.outcome.States = append(o.outcome.States, event.To)
		case match.RoleAssigned:
			o.outcome.Role = event.Role
			o.outcome.IsPrimary = event.IsPrimary
			o.outcome.Squad = event.Squad
		case match.MatchReady:
			o.ready = &event
		case match.GameEvent:
			o.outcome.GameEvents[event.Source]++
		case match.GameState:
			o.outcome.GameStates[event.Source]++
		case match.SessionFailed:
			o.outcome.Failures = append(o.outcome.Failures, event.Err)
		case match.ConnectionFailed:
			o.outcome.Failures = append(o.outcome.Failures, fmt.Errorf("link to %s: %w", event.Peer, event.Err))
		}
		o.mu.Unlock()
	}
}

func (o *observer) snapshot() participantOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	result := o.outcome
	result.States = append([]match.State(nil), o.outcome.States...)
	result.GameEvents = make(map[schema.ParticipantID]int, len(o.outcome.GameEvents))
	for source, count := range o.outcome.GameEvents {
		result.GameEvents[source] = count
	}
	result.GameStates = make(map[schema.ParticipantID]int, len(o.outcome.GameStates))
	for source, count := range o.outcome.GameStates {
		result.GameStates[source] = count
	}
	result.Failures = append([]error(nil), o.outcome.Failures...)
	return result
}

func (o *observer) matchReady() *match.MatchReady {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ready
}

type simParticipant struct {
	id       schema.ParticipantID
	session  *match.Session
	observer *observer
}

// simulate runs one match of cfg.players sessions over an in-memory
// relay and network. The first participant hosts. Scores are drawn
// from a generator seeded with cfg.seed, so a seed reproduces the
// election.
func simulate(ctx context.Context, settings *config.Config, cfg simConfig, logger *slog.Logger) (*simOutcome, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	frames, err := transport.FrameCodecFromSettings(settings.Sync)
	if err != nil {
		return nil, err
	}
	relay := transport.NewMemoryRelay()
	defer relay.Close()
	network := transport.NewMemoryNetwork(frames)

	runCtx, cancel := context.WithCancel(ctx)
	var running sync.WaitGroup
	defer func() {
		cancel()
		running.Wait()
	}()

	scores := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))
	participants := make([]*simParticipant, cfg.players)
	for index := range participants {
		id := schema.ParticipantID(fmt.Sprintf("p%02d", index))
		score := float64(int(scores.Float64()*1000)) / 10

		sessionConfig := match.ConfigFromSettings(settings)
		sessionConfig.MaxParticipants = max(sessionConfig.MaxParticipants, cfg.players)
		sessionConfig.SquadCount = cfg.squads
		sessionConfig.Local = id
		sessionConfig.MatchID = simMatchID
		sessionConfig.Probe = quality.StaticProbe{Report: quality.ScoredReport(id, score)}
		sessionConfig.Relay = relay
		sessionConfig.Links = network
		sessionConfig.Logger = logger
		session, err := match.New(sessionConfig)
		if err != nil {
			return nil, fmt.Errorf("creating session %s: %w", id, err)
		}

		watcher := &observer{outcome: participantOutcome{
			ID:         id,
			Score:      score,
			Squad:      schema.NoSquad,
			GameEvents: make(map[schema.ParticipantID]int),
			GameStates: make(map[schema.ParticipantID]int),
		}}
		participant := &simParticipant{id: id, session: session, observer: watcher}
		participants[index] = participant

		running.Add(2)
		go func() {
			defer running.Done()
			session.Run(runCtx)
		}()
		go func() {
			defer running.Done()
			watcher.consume(session.Events())
		}()
	}

	for _, participant := range participants {
		if err := participant.session.Join(runCtx); err != nil {
			return nil, fmt.Errorf("joining %s: %w", participant.id, err)
		}
	}

	host := participants[0]
	if err := waitFor(runCtx, cfg.timeout, "every participant waiting with a quality report at the host", func() bool {
		return allInState(participants, match.StateWaitingForPlayers) && reportsKnown(runCtx, host.session, cfg.players-1)
	}); err != nil {
		return nil, err
	}
	logger.Info("all participants measured; starting match", "host", host.id)
	if err := host.session.StartMatch(runCtx); err != nil {
		return nil, fmt.Errorf("starting match: %w", err)
	}

	if err := waitFor(runCtx, cfg.timeout, "every participant in progress", func() bool {
		return allInState(participants, match.StateInProgress)
	}); err != nil {
		return nil, err
	}
	ready := host.observer.matchReady()
	if ready == nil {
		return nil, errors.New("host reached in-progress without a match-ready event")
	}
	election := schema.ElectionResult{Anchors: ready.Anchors, Primary: ready.Primary}

	if err := waitFor(runCtx, cfg.timeout, "every required link connected", func() bool {
		return topologyConnected(runCtx, participants, election)
	}); err != nil {
		return nil, err
	}

	for _, participant := range participants {
		payload, err := json.Marshal(map[string]string{"hello_from": string(participant.id)})
		if err != nil {
			return nil, err
		}
		if err := participant.session.SendEvent(runCtx, payload); err != nil {
			return nil, fmt.Errorf("sending event from %s: %w", participant.id, err)
		}
		if err := participant.session.UpdateLocalState(runCtx, payload); err != nil {
			return nil, fmt.Errorf("updating state of %s: %w", participant.id, err)
		}
	}

	if err := waitFor(runCtx, cfg.timeout, "every event delivered to every participant", func() bool {
		return eventsDelivered(participants)
	}); err != nil {
		return nil, err
	}
	if cfg.hold > 0 {
		select {
		case <-runCtx.Done():
			return nil, runCtx.Err()
		case <-time.After(cfg.hold):
		}
	}

	outcome := &simOutcome{Election: election}
	for _, participant := range participants {
		outcome.Participants = append(outcome.Participants, participant.observer.snapshot())
	}
	return outcome, nil
}

// waitFor polls condition until it holds, ctx ends, or timeout passes.
func waitFor(ctx context.Context, timeout time.Duration, description string, condition func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("timed out after %s waiting for %s", timeout, description)
		case <-poll.C:
		}
	}
}

func allInState(participants []*simParticipant, want match.State) bool {
	for _, participant := range participants {
		if participant.session.State() != want {
			return false
		}
	}
	return true
}

func reportsKnown(ctx context.Context, host *match.Session, want int) bool {
	peers, err := host.Peers(ctx)
	if err != nil {
		return false
	}
	known := 0
	for _, peer := range peers {
		if peer.Quality != nil {
			known++
		}
	}
	return known >= want
}

// topologyConnected reports whether each participant sees every one
// of its required links connected. Player links are checked from the
// player side, which covers the anchor side of the same link.
func topologyConnected(ctx context.Context, participants []*simParticipant, election schema.ElectionResult) bool {
	policy := mesh.HashSquadPolicy{}
	for _, participant := range participants {
		assignment := mesh.AssignRole(participant.id, election, policy)
		required := mesh.RequiredConnections(participant.id, assignment, election)
		peers, err := participant.session.Peers(ctx)
		if err != nil {
			return false
		}
		connected := make(map[schema.ParticipantID]bool, len(peers))
		for _, peer := range peers {
			connected[peer.ID] = peer.State == schema.StateConnected
		}
		for _, remote := range required {
			if !connected[remote] {
				return false
			}
		}
	}
	return true
}

func eventsDelivered(participants []*simParticipant) bool {
	for _, receiver := range participants {
		seen := receiver.observer.snapshot().GameEvents
		for _, sender := range participants {
			if sender.id != receiver.id && seen[sender.id] == 0 {
				return false
			}
		}
	}
	return true
}
