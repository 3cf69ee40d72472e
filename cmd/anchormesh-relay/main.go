// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// anchormesh-relay is the signaling relay participants subscribe to.
// Each match gets a WebSocket room at /v1/matches/{match}/signal;
// every message a client sends is delivered to every client of the
// same match, the sender included.
//
// A single relay needs nothing else. Several relays behind a load
// balancer share rooms through Redis pub/sub: pass --redis-addr (or
// set signaling.redis_addr) and every relay republishes what its own
// clients send.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/anchormesh/lib/config"
	"github.com/bureau-foundation/anchormesh/lib/logging"
	"github.com/bureau-foundation/anchormesh/lib/version"
	"github.com/bureau-foundation/anchormesh/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type relayFlags struct {
	configPath string
	listen     string
	redisAddr  string
	logFormat  string
}

func run() error {
	var flags relayFlags
	flagSet := newFlagSet(&flags)

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Fprint(os.Stdout, "anchormesh-relay")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisAddr := flags.redisAddr
	if redisAddr == "" && settings.Signaling.Backend == config.SignalingRedis {
		redisAddr = settings.Signaling.RedisAddr
	}
	var client redis.UniversalClient
	if redisAddr != "" {
		client = redis.NewClient(&redis.Options{Addr: redisAddr})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", redisAddr, err)
		}
		logger.Info("relay fan-out enabled", "redis_addr", redisAddr)
	}

	server := transport.NewRelayServer(transport.RelayServerConfig{
		Redis:         client,
		ChannelPrefix: settings.Signaling.RedisChannelPrefix,
		Logger:        logger,
	})
	return serve(ctx, flags.listen, server, logger)
}

func newFlagSet(flags *relayFlags) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("anchormesh-relay", pflag.ContinueOnError)
	flagSet.StringVar(&flags.configPath, "config", "", "path to config file (default: $ANCHORMESH_CONFIG, else built-in defaults)")
	flagSet.StringVar(&flags.listen, "listen", ":7480", "HTTP listen address")
	flagSet.StringVar(&flags.redisAddr, "redis-addr", "", "redis address for cross-relay fan-out (overrides signaling.redis_addr)")
	flagSet.StringVar(&flags.logFormat, "log-format", "", "log format: json or text (overrides logging.format)")
	return flagSet
}

// serve runs the relay on addr until ctx is done, then drains open
// requests for up to five seconds.
func serve(ctx context.Context, addr string, server *transport.RelayServer, logger *slog.Logger) error {
	router := mux.NewRouter()
	server.Register(router)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fanout := make(chan error, 1)
	go func() { fanout <- server.Run(ctx) }()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "addr", addr)
		listenErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("listening on %s: %w", addr, err)
	case err := <-fanout:
		if err != nil {
			httpServer.Close()
			return fmt.Errorf("relay fan-out: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
