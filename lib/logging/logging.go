// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package logging builds the structured logger used by anchormesh
// binaries: JSON (or text) records on a writer, usually stderr, at the
// configured level. New also installs the logger as the slog default
// so that library code logging through slog.Default lands in the same
// stream.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/anchormesh/lib/config"
)

// ParseLevel maps a configured level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", name)
}

// New creates a logger for settings writing to output and makes it the
// slog default.
func New(settings config.LoggingConfig, output io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(settings.Level)
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch settings.Format {
	case "", "json":
		handler = slog.NewJSONHandler(output, options)
	case "text":
		handler = slog.NewTextHandler(output, options)
	default:
		return nil, fmt.Errorf("unknown log format %q (want json or text)", settings.Format)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
