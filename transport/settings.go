// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/anchormesh/lib/codec"
	"github.com/bureau-foundation/anchormesh/lib/config"
)

// FrameCodecFromSettings builds the frame codec for the sync section.
func FrameCodecFromSettings(settings config.SyncConfig) (FrameCodec, error) {
	compression, err := codec.ParseCompression(settings.Compression)
	if err != nil {
		return FrameCodec{}, fmt.Errorf("sync.compression: %w", err)
	}
	return FrameCodec{Compression: compression, Threshold: settings.CompressionThreshold}, nil
}

// RelayFromSettings connects the configured signaling backend. The
// returned relay owns any client it created; Close releases it.
func RelayFromSettings(ctx context.Context, settings config.SignalingConfig, logger *slog.Logger) (Relay, error) {
	switch settings.Backend {
	case config.SignalingMemory:
		return NewMemoryRelay(), nil
	case config.SignalingWebSocket:
		relay, err := NewWebSocketRelay(settings.WebSocketURL, logger)
		if err != nil {
			return nil, err
		}
		return relay, nil
	case config.SignalingRedis:
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", settings.RedisAddr, err)
		}
		relay := NewRedisRelay(client, settings.RedisChannelPrefix, logger)
		return &clientOwningRelay{RedisRelay: relay, client: client}, nil
	}
	return nil, fmt.Errorf("unknown signaling backend %q", settings.Backend)
}

// clientOwningRelay closes the Redis client along with the relay.
type clientOwningRelay struct {
	*RedisRelay
	client *redis.Client
}

func (r *clientOwningRelay) Close() error {
	return errors.Join(r.RedisRelay.Close(), r.client.Close())
}
