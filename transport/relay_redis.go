// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Compile-time interface check.
var _ Relay = (*RedisRelay)(nil)

// DefaultRedisChannelPrefix is prepended to the match id to form the
// pub/sub channel name.
const DefaultRedisChannelPrefix = "anchormesh:match:"

// outboundQueueDepth bounds messages waiting for the network. Control
// traffic is a few messages per peer per second; a full queue means
// the backend is down and further sends are dropped.
const outboundQueueDepth = 256

// publishTimeout bounds a single PUBLISH.
const publishTimeout = 5 * time.Second

// RedisRelay is a Relay over Redis pub/sub. Each match is one channel.
// Redis echoes published messages to the publisher's own subscription.
type RedisRelay struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger

	outbound chan outboundMessage
	closed   chan struct{}
	done     chan struct{}

	mu            sync.Mutex
	subscriptions map[*redis.PubSub]struct{}
	closeOnce     sync.Once
}

type outboundMessage struct {
	channel string
	data    []byte
}

// NewRedisRelay creates a relay on client and starts its publisher.
// Close stops the publisher but does not close client.
func NewRedisRelay(client redis.UniversalClient, prefix string, logger *slog.Logger) *RedisRelay {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	relay := &RedisRelay{
		client:        client,
		prefix:        prefix,
		logger:        logger,
		outbound:      make(chan outboundMessage, outboundQueueDepth),
		closed:        make(chan struct{}),
		done:          make(chan struct{}),
		subscriptions: make(map[*redis.PubSub]struct{}),
	}
	go relay.publishLoop()
	return relay
}

// Channel returns the pub/sub channel for matchID.
func (r *RedisRelay) Channel(matchID string) string {
	return r.prefix + matchID
}

// Send queues message for publishing.
func (r *RedisRelay) Send(message schema.ControlMessage) error {
	data, err := schema.MarshalControl(message)
	if err != nil {
		return fmt.Errorf("encoding control message: %w", err)
	}
	select {
	case <-r.closed:
		return ErrRelayClosed
	default:
	}
	select {
	case r.outbound <- outboundMessage{channel: r.Channel(message.MatchID), data: data}:
		return nil
	default:
		return fmt.Errorf("redis relay: outbound queue full (%d messages)", outboundQueueDepth)
	}
}

func (r *RedisRelay) publishLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.closed:
			return
		case message := <-r.outbound:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := r.client.Publish(ctx, message.channel, message.data).Err()
			cancel()
			if err != nil {
				r.logger.Warn("redis publish failed", "channel", message.channel, "error", err)
			}
		}
	}
}

// Subscribe subscribes to the match channel and waits for Redis to
// confirm the subscription.
func (r *RedisRelay) Subscribe(ctx context.Context, matchID string, handler func(schema.ControlMessage)) (func(), error) {
	select {
	case <-r.closed:
		return nil, ErrRelayClosed
	default:
	}

	channel := r.Channel(matchID)
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	r.mu.Lock()
	r.subscriptions[pubsub] = struct{}{}
	r.mu.Unlock()

	go func() {
		for message := range pubsub.Channel() {
			control, err := schema.UnmarshalControl([]byte(message.Payload))
			if err != nil {
				r.logger.Debug("dropping malformed control message", "channel", message.Channel, "error", err)
				continue
			}
			handler(control)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subscriptions, pubsub)
			r.mu.Unlock()
			if err := pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
				r.logger.Debug("closing redis subscription", "channel", channel, "error", err)
			}
		})
	}, nil
}

// Close stops publishing and closes every subscription.
func (r *RedisRelay) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		<-r.done
		r.mu.Lock()
		for pubsub := range r.subscriptions {
			pubsub.Close()
		}
		r.subscriptions = make(map[*redis.PubSub]struct{})
		r.mu.Unlock()
	})
	return nil
}
