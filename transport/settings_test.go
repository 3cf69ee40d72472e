// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/bureau-foundation/anchormesh/lib/codec"
	"github.com/bureau-foundation/anchormesh/lib/config"
)

func TestFrameCodecFromSettings(t *testing.T) {
	frames, err := FrameCodecFromSettings(config.SyncConfig{Compression: "zstd", CompressionThreshold: 64})
	if err != nil {
		t.Fatalf("FrameCodecFromSettings: %v", err)
	}
	if frames.Compression != codec.CompressionZstd || frames.Threshold != 64 {
		t.Errorf("frames = %+v", frames)
	}
	if _, err := FrameCodecFromSettings(config.SyncConfig{Compression: "brotli"}); err == nil {
		t.Error("unknown compression accepted")
	}
}

func TestRelayFromSettings(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := context.Background()

	relay, err := RelayFromSettings(ctx, config.SignalingConfig{Backend: config.SignalingMemory}, logger)
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	if _, ok := relay.(*MemoryRelay); !ok {
		t.Errorf("memory backend built %T", relay)
	}

	relay, err = RelayFromSettings(ctx, config.SignalingConfig{Backend: config.SignalingWebSocket, WebSocketURL: "ws://localhost:7480"}, logger)
	if err != nil {
		t.Fatalf("websocket backend: %v", err)
	}
	relay.Close()

	if _, err := RelayFromSettings(ctx, config.SignalingConfig{Backend: config.SignalingWebSocket, WebSocketURL: "http://localhost"}, logger); err == nil {
		t.Error("non-websocket URL accepted")
	}
	if _, err := RelayFromSettings(ctx, config.SignalingConfig{Backend: "carrier-pigeon"}, logger); err == nil {
		t.Error("unknown backend accepted")
	}
}
