// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// anchormesh-sim runs a whole match in one process. Every participant
// is a real session; signaling goes through an in-memory relay and
// links through an in-memory network, so no sockets are opened.
// Quality scores are drawn from --seed, which makes the election
// reproducible.
//
// The simulator waits for every participant to report, starts the
// match from p00, waits for the mesh to connect, has each participant
// send one game event, and prints the election and what every
// participant received. It exits non-zero if any phase times out.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/anchormesh/lib/config"
	"github.com/bureau-foundation/anchormesh/lib/logging"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg simConfig
	var configPath string
	var logLevel string

	flagSet := pflag.NewFlagSet("anchormesh-sim", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $ANCHORMESH_CONFIG, else built-in defaults)")
	flagSet.IntVar(&cfg.players, "players", 8, "number of participants")
	flagSet.IntVar(&cfg.squads, "squads", 2, "number of squads (anchors)")
	flagSet.Uint64Var(&cfg.seed, "seed", 1, "seed for quality scores")
	flagSet.DurationVar(&cfg.hold, "hold", time.Second, "time in progress after delivery, for state snapshots")
	flagSet.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "limit for each phase")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level (overrides logging.level)")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Fprint(os.Stdout, "anchormesh-sim")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	settings, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	settings.Logging.Level = logLevel
	settings.Logging.Format = "text"
	logger, err := logging.New(settings.Logging, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started := time.Now()
	outcome, err := simulate(ctx, settings, cfg, logger)
	if err != nil {
		return err
	}
	return printOutcome(os.Stdout, outcome, time.Since(started))
}

func printOutcome(w io.Writer, outcome *simOutcome, elapsed time.Duration) error {
	fmt.Fprintf(w, "anchors: %s (primary %s)\n", joinIDs(outcome.Election.Anchors), outcome.Election.Primary)
	fmt.Fprintf(w, "elapsed: %s\n\n", elapsed.Round(time.Millisecond))

	table := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(table, "PARTICIPANT\tSCORE\tROLE\tSQUAD\tEVENTS\tSTATES\tFAILURES")
	for _, participant := range outcome.Participants {
		role := string(participant.Role)
		if participant.IsPrimary {
			role += " (primary)"
		}
		fmt.Fprintf(table, "%s\t%.1f\t%s\t%d\t%d\t%d\t%d\n",
			participant.ID,
			participant.Score,
			role,
			participant.Squad,
			total(participant.GameEvents),
			total(participant.GameStates),
			len(participant.Failures),
		)
	}
	return table.Flush()
}

func joinIDs(ids []schema.ParticipantID) string {
	names := make([]string, len(ids))
	for index, id := range ids {
		names[index] = string(id)
	}
	return strings.Join(names, ", ")
}

func total(counts map[schema.ParticipantID]int) int {
	sum := 0
	for _, count := range counts {
		sum += count
	}
	return sum
}
