// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Compile-time interface check.
var _ Relay = (*MemoryRelay)(nil)

// MemoryRelay is an in-process Relay for tests and the simulator. Every
// message is round-tripped through the JSON wire encoding and delivered
// synchronously, in Send order, to every subscriber of its match
// (the sender included).
type MemoryRelay struct {
	mu            sync.Mutex
	subscriptions map[string]map[uint64]func(schema.ControlMessage)
	nextID        uint64
	sent          []schema.ControlMessage
	filter        func(schema.ControlMessage) int
	closed        bool
}

// NewMemoryRelay creates a relay with no subscribers.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{subscriptions: make(map[string]map[uint64]func(schema.ControlMessage))}
}

// SetFilter installs a fault model. filter returns how many copies of
// a message to deliver: 0 drops it, 2 duplicates it. nil delivers one
// copy of everything.
func (r *MemoryRelay) SetFilter(filter func(schema.ControlMessage) int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
}

// Sent returns every message accepted by Send, in order.
func (r *MemoryRelay) Sent() []schema.ControlMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.ControlMessage(nil), r.sent...)
}

// Send delivers message to the subscribers of its match.
func (r *MemoryRelay) Send(message schema.ControlMessage) error {
	data, err := schema.MarshalControl(message)
	if err != nil {
		return fmt.Errorf("encoding control message: %w", err)
	}
	decoded, err := schema.UnmarshalControl(data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	r.sent = append(r.sent, decoded)
	copies := 1
	if r.filter != nil {
		copies = r.filter(decoded)
	}
	handlers := make([]func(schema.ControlMessage), 0, len(r.subscriptions[decoded.MatchID]))
	for _, handler := range r.subscriptions[decoded.MatchID] {
		handlers = append(handlers, handler)
	}
	r.mu.Unlock()

	for range copies {
		for _, handler := range handlers {
			handler(decoded)
		}
	}
	return nil
}

// Subscribe registers handler for matchID.
func (r *MemoryRelay) Subscribe(_ context.Context, matchID string, handler func(schema.ControlMessage)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRelayClosed
	}
	r.nextID++
	id := r.nextID
	if r.subscriptions[matchID] == nil {
		r.subscriptions[matchID] = make(map[uint64]func(schema.ControlMessage))
	}
	r.subscriptions[matchID][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subscriptions[matchID], id)
			if len(r.subscriptions[matchID]) == 0 {
				delete(r.subscriptions, matchID)
			}
		})
	}, nil
}

// Subscribers returns the number of live subscriptions for matchID.
func (r *MemoryRelay) Subscribers(matchID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subscriptions[matchID])
}

// Close drops every subscription.
func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.subscriptions = make(map[string]map[uint64]func(schema.ControlMessage))
	return nil
}
