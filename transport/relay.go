// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// ErrRelayClosed is returned by relay operations after Close.
var ErrRelayClosed = errors.New("transport: relay closed")

// Relay is the best-effort signaling channel used before mesh links
// exist. Messages are scoped by their MatchID. There is no ordering or
// delivery guarantee and a message may arrive more than once; pub/sub
// backends also echo a publisher's own messages back to it.
type Relay interface {
	// Send publishes message to every subscriber of message.MatchID.
	// It does not block on the network; an error means the message was
	// not queued.
	Send(message schema.ControlMessage) error

	// Subscribe delivers the messages of matchID to handler until the
	// returned function is called. Subscribe may block while connecting.
	// handler runs on a relay goroutine and must not block.
	Subscribe(ctx context.Context, matchID string, handler func(schema.ControlMessage)) (unsubscribe func(), err error)

	// Close stops all subscriptions and pending sends.
	Close() error
}
