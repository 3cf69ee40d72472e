// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/clock"
	"github.com/bureau-foundation/anchormesh/lib/eventloop"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/mesh"
	"github.com/bureau-foundation/anchormesh/quality"
	"github.com/bureau-foundation/anchormesh/transport"
)

// Config configures a Session.
type Config struct {
	Local       schema.ParticipantID
	DisplayName string
	MatchID     string

	MaxParticipants int
	SquadCount      int

	// QualityTestDuration bounds the probe window.
	QualityTestDuration time.Duration

	// SyncInterval is the state broadcast cadence.
	SyncInterval time.Duration

	// WaitForPlayersTimeout fails a session still waiting for an
	// election after this long. Zero waits forever.
	WaitForPlayersTimeout time.Duration

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	StalePeerTimeout  time.Duration
	EvictStalePeers   bool

	// EventQueueLimit is the backlog above which queued game state is
	// coalesced per source. Zero never coalesces.
	EventQueueLimit int

	Probe       quality.Probe
	Relay       transport.Relay
	Links       transport.LinkFactory
	SquadPolicy mesh.SquadPolicy

	Clock  clock.Clock
	Logger *slog.Logger
}

// Session is one participant's view of one match. Its methods are
// safe for concurrent use; all of them except Role, IsPrimary, and
// State wait for the session loop, so Run must be running.
type Session struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger
	loop   *eventloop.Loop
	events *eventQueue
	ran    atomic.Bool

	// Loop-owned.
	state           State
	attempt         uint64
	coordinator     *mesh.Coordinator
	unsubscribe     func()
	cancelProbe     context.CancelFunc
	waitTimer       *clock.Timer
	pendingElection *schema.ElectionResult

	// Mirror of loop state for the non-blocking getters.
	mu        sync.Mutex
	mirror    State
	role      schema.Role
	isPrimary bool
}

// New validates config and creates an idle session.
func New(config Config) (*Session, error) {
	var errs []error
	if config.Local == "" || config.Local.IsBroadcast() {
		errs = append(errs, fmt.Errorf("invalid local participant id %q", config.Local))
	}
	if config.MatchID == "" {
		errs = append(errs, errors.New("match id is required"))
	}
	if config.Probe == nil {
		errs = append(errs, errors.New("quality probe is required"))
	}
	if config.Relay == nil {
		errs = append(errs, errors.New("signaling relay is required"))
	}
	if config.Links == nil {
		errs = append(errs, errors.New("link factory is required"))
	}
	if config.SquadCount < 1 {
		errs = append(errs, fmt.Errorf("squad count must be at least 1, got %d", config.SquadCount))
	}
	if config.MaxParticipants < 2 {
		errs = append(errs, fmt.Errorf("max participants must be at least 2, got %d", config.MaxParticipants))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("match: %w", err)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{
		config: config,
		clock:  config.Clock,
		logger: config.Logger.With("participant", string(config.Local), "match_id", config.MatchID),
		loop:   eventloop.New(),
		events: newEventQueue(config.EventQueueLimit),
		state:  StateIdle,
		mirror: StateIdle,
	}, nil
}

// Run drives the session until ctx is cancelled and returns ctx's
// error. Undelivered events are discarded and Events is closed before
// Run returns.
func (s *Session) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		s.events.run(ctx)
	}()
	err := s.loop.Run(ctx)
	<-pumpDone

	// The loop has stopped; nothing else touches loop state now.
	s.release()
	return err
}

// Events returns the notification stream. It is closed when Run
// returns.
func (s *Session) Events() <-chan Event {
	return s.events.out
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mirror
}

// Role returns the local role, or "" before an election is applied.
func (s *Session) Role() schema.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// IsPrimary reports whether the local participant is the primary
// anchor.
func (s *Session) IsPrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPrimary
}

// Join subscribes to the match's signaling and starts the quality
// test. It returns once the probe is running; the probe result arrives
// asynchronously. Join is accepted from idle, finished, and error.
func (s *Session) Join(ctx context.Context) error {
	var attempt uint64
	var joinErr error
	if err := s.loop.Do(ctx, func() {
		if !s.state.Joinable() {
			joinErr = fmt.Errorf("%w: join while %s", ErrInvalidTransition, s.state)
			return
		}
		s.attempt++
		attempt = s.attempt
		s.pendingElection = nil
		s.setRole(mesh.Assignment{})
		s.transition(StateJoining)
	}); err != nil {
		return err
	}
	if joinErr != nil {
		return joinErr
	}

	// Subscribing may dial the relay, so it runs off the loop.
	unsubscribe, subscribeErr := s.config.Relay.Subscribe(ctx, s.config.MatchID, func(message schema.ControlMessage) {
		s.loop.Post(func() { s.handleControl(attempt, message) })
	})

	var startErr error
	if err := s.loop.Do(ctx, func() {
		if attempt != s.attempt || s.state != StateJoining {
			if unsubscribe != nil {
				unsubscribe()
			}
			startErr = fmt.Errorf("%w: left while joining", ErrInvalidTransition)
			return
		}
		if subscribeErr != nil {
			startErr = s.fail(fmt.Errorf("subscribing to signaling: %w", subscribeErr))
			return
		}
		s.unsubscribe = unsubscribe
		startErr = s.startQualityTest(attempt)
	}); err != nil {
		if unsubscribe != nil {
			unsubscribe()
		}
		return err
	}
	return startErr
}

// StartMatch elects anchors from every report this participant holds,
// publishes the result, and connects the mesh. Only the host calls it,
// in waiting-for-players.
func (s *Session) StartMatch(ctx context.Context) error {
	var result error
	if err := s.loop.Do(ctx, func() {
		if s.state != StateWaitingForPlayers {
			result = fmt.Errorf("%w: start match while %s", ErrInvalidTransition, s.state)
			return
		}
		s.transition(StateElectingAnchors)
		election, err := s.coordinator.Elect()
		if err != nil {
			result = s.fail(fmt.Errorf("electing anchors: %w", err))
			return
		}
		s.coordinator.PublishElection(election)
		result = s.applyElection(election)
	}); err != nil {
		return err
	}
	return result
}

// Finish ends an in-progress match. Links are closed and signaling is
// released.
func (s *Session) Finish(ctx context.Context) error {
	var result error
	if err := s.loop.Do(ctx, func() {
		if s.state != StateInProgress {
			result = fmt.Errorf("%w: finish while %s", ErrInvalidTransition, s.state)
			return
		}
		s.release()
		s.transition(StateFinished)
	}); err != nil {
		return err
	}
	return result
}

// Leave abandons the match from any state and returns to idle. Leave
// on an idle session does nothing.
func (s *Session) Leave(ctx context.Context) error {
	return s.loop.Do(ctx, func() {
		if s.state == StateIdle {
			return
		}
		s.attempt++
		s.release()
		s.setRole(mesh.Assignment{})
		s.transition(StateIdle)
	})
}

// UpdateLocalState caches payload as the local snapshot. It is sent on
// the next sync tick.
func (s *Session) UpdateLocalState(ctx context.Context, payload []byte) error {
	snapshot := append([]byte(nil), payload...)
	var result error
	if err := s.loop.Do(ctx, func() {
		if s.coordinator == nil {
			result = ErrNotJoined
			return
		}
		s.coordinator.SetLocalState(snapshot)
	}); err != nil {
		return err
	}
	return result
}

// SendEvent broadcasts payload reliably to every connected peer.
func (s *Session) SendEvent(ctx context.Context, payload []byte) error {
	event := append([]byte(nil), payload...)
	var result error
	if err := s.loop.Do(ctx, func() {
		if s.state != StateReady && s.state != StateInProgress {
			result = ErrNotInProgress
			return
		}
		sent := s.coordinator.BroadcastEvent(event)
		s.logger.Debug("event sent", "links", sent)
	}); err != nil {
		return err
	}
	return result
}

// Peers returns the current registry, ordered by id.
func (s *Session) Peers(ctx context.Context) ([]mesh.Peer, error) {
	var peers []mesh.Peer
	if err := s.loop.Do(ctx, func() {
		if s.coordinator != nil {
			peers = s.coordinator.Peers()
		}
	}); err != nil {
		return nil, err
	}
	return peers, nil
}

// startQualityTest builds the attempt's coordinator and launches the
// probe.
func (s *Session) startQualityTest(attempt uint64) error {
	coordinator, err := mesh.NewCoordinator(mesh.Config{
		Local:             s.config.Local,
		DisplayName:       s.config.DisplayName,
		MatchID:           s.config.MatchID,
		SquadCount:        s.config.SquadCount,
		MaxParticipants:   s.config.MaxParticipants,
		HandshakeTimeout:  s.config.HandshakeTimeout,
		HeartbeatInterval: s.config.HeartbeatInterval,
		StalePeerTimeout:  s.config.StalePeerTimeout,
		EvictStalePeers:   s.config.EvictStalePeers,
		SquadPolicy:       s.config.SquadPolicy,
		Relay:             s.config.Relay,
		Links:             s.config.Links,
		Observer:          &sessionObserver{session: s, attempt: attempt},
		Post:              s.loop.Post,
		Clock:             s.clock,
		Logger:            s.config.Logger,
	})
	if err != nil {
		return s.fail(err)
	}
	s.coordinator = coordinator
	s.transition(StateQualityTest)
	coordinator.Start()

	probeContext, cancel := context.WithCancel(context.Background())
	s.cancelProbe = cancel
	duration := s.config.QualityTestDuration
	go func() {
		report, err := s.config.Probe.Measure(probeContext, duration)
		s.loop.Post(func() { s.probeFinished(attempt, report, err) })
	}()
	return nil
}

func (s *Session) probeFinished(attempt uint64, report schema.QualityReport, err error) {
	if attempt != s.attempt || s.state != StateQualityTest {
		return
	}
	if s.cancelProbe != nil {
		s.cancelProbe()
		s.cancelProbe = nil
	}
	if err != nil {
		s.fail(fmt.Errorf("quality probe: %w", err))
		return
	}
	s.logger.Info("quality measured",
		"score", report.Score,
		"latency_ms", report.LatencyMs,
		"jitter_ms", report.JitterMs,
		"packet_loss", report.PacketLossRatio,
	)
	s.coordinator.SetLocalQuality(report)
	s.coordinator.BroadcastQuality()
	s.transition(StateWaitingForPlayers)

	if timeout := s.config.WaitForPlayersTimeout; timeout > 0 {
		s.waitTimer = s.clock.AfterFunc(timeout, func() {
			s.loop.Post(func() {
				if attempt != s.attempt || s.state != StateWaitingForPlayers {
					return
				}
				s.fail(fmt.Errorf("%w after %s", ErrWaitForPlayersTimeout, timeout))
			})
		})
	}

	if s.pendingElection != nil {
		held := *s.pendingElection
		s.pendingElection = nil
		s.transition(StateElectingAnchors)
		s.applyElection(held)
	}
}

// electionReceived handles an election published by the host.
func (s *Session) electionReceived(attempt uint64, result schema.ElectionResult) {
	if attempt != s.attempt {
		return
	}
	switch s.state {
	case StateJoining, StateQualityTest:
		if s.pendingElection == nil {
			s.logger.Info("holding election result until quality test completes")
			s.pendingElection = &result
		}
	case StateWaitingForPlayers:
		s.transition(StateElectingAnchors)
		s.applyElection(result)
	default:
		s.logger.Debug("ignoring election result", "state", s.state)
	}
}

// applyElection assigns roles and connects the mesh, ending in
// in-progress. It runs in electing-anchors.
func (s *Session) applyElection(result schema.ElectionResult) error {
	s.stopWaitTimer()
	assignment, err := s.coordinator.ApplyElection(result)
	if err != nil {
		return s.fail(err)
	}
	s.setRole(assignment)
	s.events.push(RoleAssigned{Role: assignment.Role, IsPrimary: assignment.IsPrimary, Squad: assignment.Squad})

	s.transition(StateConnectingMesh)
	required, err := s.coordinator.ConnectMesh()
	if err != nil {
		return s.fail(err)
	}
	s.logger.Info("mesh connections initiated", "required", required)

	s.transition(StateReady)
	s.events.push(MatchReady{Anchors: append([]schema.ParticipantID(nil), result.Anchors...), Primary: result.Primary})
	s.coordinator.StartSync(s.config.SyncInterval)
	s.transition(StateInProgress)
	return nil
}

func (s *Session) handleControl(attempt uint64, message schema.ControlMessage) {
	if attempt != s.attempt || s.coordinator == nil {
		return
	}
	s.coordinator.HandleControl(message)
}

// fail releases the attempt's resources, moves to error, and returns
// the *SessionError it reported.
func (s *Session) fail(cause error) error {
	failure := &SessionError{State: s.state, Cause: cause}
	s.logger.Error("session failed", "state", s.state, "error", cause)
	s.attempt++
	s.release()
	s.transition(StateError)
	s.events.push(SessionFailed{Err: failure})
	return failure
}

// release closes the coordinator and signaling of the current
// attempt.
func (s *Session) release() {
	if s.cancelProbe != nil {
		s.cancelProbe()
		s.cancelProbe = nil
	}
	s.stopWaitTimer()
	if s.coordinator != nil {
		s.coordinator.Close()
		s.coordinator = nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	s.pendingElection = nil
}

func (s *Session) stopWaitTimer() {
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
}

func (s *Session) transition(next State) {
	previous := s.state
	if !previous.CanTransition(next) {
		s.logger.Error("refusing lifecycle transition", "from", previous, "to", next)
		return
	}
	s.state = next
	s.mu.Lock()
	s.mirror = next
	s.mu.Unlock()
	s.logger.Info("session state changed", "from", previous, "to", next)
	s.events.push(StateChanged{From: previous, To: next})
}

func (s *Session) setRole(assignment mesh.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = assignment.Role
	s.isPrimary = assignment.IsPrimary
}

// sessionObserver forwards coordinator notifications of one attempt.
type sessionObserver struct {
	session *Session
	attempt uint64
}

var _ mesh.Observer = (*sessionObserver)(nil)

func (o *sessionObserver) current() bool { return o.attempt == o.session.attempt }

func (o *sessionObserver) PeerCountChanged(count int) {
	if o.current() {
		o.session.events.push(PeerCountChanged{Count: count, Max: o.session.config.MaxParticipants})
	}
}

// ElectionReceived is deferred to its own loop turn so the
// coordinator finishes the message that carried it first.
func (o *sessionObserver) ElectionReceived(result schema.ElectionResult) {
	o.session.loop.Post(func() { o.session.electionReceived(o.attempt, result) })
}

func (o *sessionObserver) LinkStateChanged(peer schema.ParticipantID, state schema.ConnectionState) {
	o.session.logger.Debug("link state changed", "peer", string(peer), "state", state)
}

func (o *sessionObserver) ConnectionFailed(peer schema.ParticipantID, err error) {
	if o.current() {
		o.session.events.push(ConnectionFailed{Peer: peer, Err: err})
	}
}

func (o *sessionObserver) GameState(message schema.SyncMessage) {
	if o.current() {
		o.session.events.push(GameState{Source: message.Source, Sequence: message.Sequence, Payload: message.Payload})
	}
}

func (o *sessionObserver) GameEvent(message schema.SyncMessage) {
	if o.current() {
		o.session.events.push(GameEvent{Source: message.Source, Sequence: message.Sequence, Payload: message.Payload})
	}
}
