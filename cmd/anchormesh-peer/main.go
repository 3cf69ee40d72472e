// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// anchormesh-peer joins a match as one participant. It measures its
// connection quality against the configured STUN servers, joins the
// match over the configured signaling backend, and logs every
// lifecycle event. The participant started with --host starts the
// match once --wait has passed in waiting-for-players; everyone else
// follows the published anchor election.
//
// Once the match is in progress the peer broadcasts a small JSON
// state snapshot every --state-interval so the relay path through
// the anchors can be watched end to end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/anchormesh/lib/config"
	"github.com/bureau-foundation/anchormesh/lib/logging"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/lib/version"
	"github.com/bureau-foundation/anchormesh/match"
	"github.com/bureau-foundation/anchormesh/quality"
	"github.com/bureau-foundation/anchormesh/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type peerFlags struct {
	configPath    string
	matchID       string
	participant   string
	displayName   string
	host          bool
	wait          time.Duration
	stateInterval time.Duration
	logFormat     string
}

func newFlagSet(flags *peerFlags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("anchormesh-peer", pflag.ContinueOnError)
	flagSet.StringVar(&flags.configPath, "config", "", "path to config file (default: $ANCHORMESH_CONFIG, else built-in defaults)")
	flagSet.StringVar(&flags.matchID, "match", "", "match to join (required)")
	flagSet.StringVar(&flags.participant, "id", "", "participant ID (default: a random UUID)")
	flagSet.StringVar(&flags.displayName, "name", "", "display name announced to peers")
	flagSet.BoolVar(&flags.host, "host", false, "start the match after --wait in waiting-for-players")
	flagSet.DurationVar(&flags.wait, "wait", 10*time.Second, "how long the host waits for players before starting")
	flagSet.DurationVar(&flags.stateInterval, "state-interval", time.Second, "interval between demo state snapshots (0 disables)")
	flagSet.StringVar(&flags.logFormat, "log-format", "", "log format: json or text (overrides logging.format)")
	return flagSet
}

func (f *peerFlags) validate() error {
	if f.matchID == "" {
		return errors.New("--match is required")
	}
	if f.wait < 0 || f.stateInterval < 0 {
		return errors.New("--wait and --state-interval must not be negative")
	}
	if f.participant == "" {
		f.participant = uuid.NewString()
	}
	if f.displayName == "" {
		f.displayName = f.participant
	}
	return nil
}

func run() error {
	var flags peerFlags
	flagSet := newFlagSet(&flags)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Fprint(os.Stdout, "anchormesh-peer")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if err := flags.validate(); err != nil {
		return err
	}

	settings, err := config.Resolve(flags.configPath)
	if err != nil {
		return err
	}
	if flags.logFormat != "" {
		settings.Logging.Format = flags.logFormat
	}
	logger, err := logging.New(settings.Logging, os.Stderr)
	if err != nil {
		return err
	}
	local := schema.ParticipantID(flags.participant)
	logger = logger.With("participant", local, "match_id", flags.matchID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, closeSession, err := newSession(ctx, settings, &flags, logger)
	if err != nil {
		return err
	}
	defer closeSession()

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	if err := session.Join(ctx); err != nil {
		return fmt.Errorf("joining match %s: %w", flags.matchID, err)
	}
	logger.Info("joined match")

	driver := &peerDriver{session: session, flags: &flags, logger: logger}
	dispatchErr := match.Dispatch(ctx, session.Events(), driver.callbacks(ctx))
	driver.stopTimers()

	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if dispatchErr != nil && !errors.Is(dispatchErr, context.Canceled) {
		return dispatchErr
	}
	logger.Info("peer stopped")
	return nil
}

// newSession builds the session and its collaborators from settings.
// The returned function closes the signaling relay.
func newSession(ctx context.Context, settings *config.Config, flags *peerFlags, logger *slog.Logger) (*match.Session, func(), error) {
	local := schema.ParticipantID(flags.participant)

	relay, err := transport.RelayFromSettings(ctx, settings.Signaling, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("signaling: %w", err)
	}
	closeRelay := func() {
		if err := relay.Close(); err != nil {
			logger.Warn("closing signaling relay", "error", err)
		}
	}

	frames, err := transport.FrameCodecFromSettings(settings.Sync)
	if err != nil {
		closeRelay()
		return nil, nil, err
	}
	links := transport.NewWebRTCFactory(transport.ICEConfigFromSettings(settings.ICE.Servers), frames, logger)

	sampler, err := newSampler(settings.Quality)
	if err != nil {
		closeRelay()
		return nil, nil, err
	}
	probe, err := quality.NewSamplingProbe(quality.ProbeConfig{
		Participant: local,
		Sampler:     sampler,
		Interval:    settings.Quality.SampleInterval.Std(),
		Logger:      logger,
	})
	if err != nil {
		closeRelay()
		return nil, nil, err
	}

	sessionConfig := match.ConfigFromSettings(settings)
	sessionConfig.Local = local
	sessionConfig.DisplayName = flags.displayName
	sessionConfig.MatchID = flags.matchID
	sessionConfig.Probe = probe
	sessionConfig.Relay = relay
	sessionConfig.Links = links
	sessionConfig.Logger = logger

	session, err := match.New(sessionConfig)
	if err != nil {
		closeRelay()
		return nil, nil, err
	}
	return session, closeRelay, nil
}

// newSampler builds the STUN sampler. Samples wait sample_timeout for
// a response; sample_interval only spaces them.
func newSampler(settings config.QualityConfig) (*quality.STUNSampler, error) {
	return quality.NewSTUNSampler(settings.STUNServers, settings.SampleTimeout.Std())
}

// demoState is the snapshot a peer broadcasts while a match runs.
type demoState struct {
	Participant schema.ParticipantID `json:"participant"`
	Tick        uint64               `json:"tick"`
	SentAt      time.Time            `json:"sent_at"`
}

// peerDriver reacts to session events on the Dispatch goroutine.
type peerDriver struct {
	session *match.Session
	flags   *peerFlags
	logger  *slog.Logger

	startTimer *time.Timer
	snapshots  *snapshotLoop
}

// snapshotLoop is one run of the demo state broadcast. Closing stop
// ends it; exited is closed when its goroutine returns.
type snapshotLoop struct {
	ticker *time.Ticker
	stop   chan struct{}
	exited chan struct{}
}

func (d *peerDriver) callbacks(ctx context.Context) match.Callbacks {
	return match.Callbacks{
		OnStateChange: func(from, to match.State) {
			d.logger.Info("state changed", "from", from, "to", to)
			switch to {
			case match.StateWaitingForPlayers:
				if d.flags.host {
					d.scheduleStart(ctx)
				}
			case match.StateInProgress:
				d.startStateSnapshots(ctx)
			default:
				if !to.Active() {
					d.stopTimers()
				}
			}
		},
		OnPeerCountChange: func(count, limit int) {
			d.logger.Info("peer count changed", "count", count, "max", limit)
		},
		OnRoleAssigned: func(role schema.Role, isPrimary bool) {
			d.logger.Info("role assigned", "role", role, "primary", isPrimary)
		},
		OnMatchReady: func(anchors []schema.ParticipantID, primary schema.ParticipantID) {
			d.logger.Info("match ready", "anchors", anchors, "primary", primary)
		},
		OnGameState: func(source schema.ParticipantID, payload []byte) {
			d.logger.Debug("game state", "source", source, "bytes", len(payload))
		},
		OnGameEvent: func(source schema.ParticipantID, payload []byte) {
			d.logger.Info("game event", "source", source, "bytes", len(payload))
		},
		OnError: func(err error) {
			d.logger.Error("session failed", "error", err)
		},
		OnConnectionFailed: func(peer schema.ParticipantID, err error) {
			d.logger.Warn("connection failed", "peer", peer, "error", err)
		},
	}
}

func (d *peerDriver) scheduleStart(ctx context.Context) {
	if d.startTimer != nil {
		d.startTimer.Stop()
	}
	d.logger.Info("starting match after wait", "wait", d.flags.wait)
	d.startTimer = time.AfterFunc(d.flags.wait, func() {
		if err := d.session.StartMatch(ctx); err != nil {
			d.logger.Warn("starting match", "error", err)
		}
	})
}

// startStateSnapshots begins the demo broadcast. The goroutine exits
// when stopTimers runs, ctx ends, or the session stops accepting state.
func (d *peerDriver) startStateSnapshots(ctx context.Context) {
	if d.flags.stateInterval == 0 || d.snapshots != nil {
		return
	}
	loop := &snapshotLoop{
		ticker: time.NewTicker(d.flags.stateInterval),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	d.snapshots = loop
	participant := schema.ParticipantID(d.flags.participant)
	go func() {
		defer close(loop.exited)
		var tick uint64
		for {
			select {
			case <-ctx.Done():
				return
			case <-loop.stop:
				return
			case now := <-loop.ticker.C:
				tick++
				payload, err := json.Marshal(demoState{Participant: participant, Tick: tick, SentAt: now.UTC()})
				if err != nil {
					d.logger.Error("encoding state snapshot", "error", err)
					return
				}
				if err := d.session.UpdateLocalState(ctx, payload); err != nil {
					d.logger.Debug("state snapshot not sent", "error", err)
					return
				}
			}
		}
	}()
}

func (d *peerDriver) stopTimers() {
	if d.startTimer != nil {
		d.startTimer.Stop()
		d.startTimer = nil
	}
	if d.snapshots != nil {
		d.snapshots.ticker.Stop()
		close(d.snapshots.stop)
		d.snapshots = nil
	}
}
