// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package match

import (
	"context"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Callbacks is the per-kind callback surface an embedding application
// implements. Nil fields are skipped.
type Callbacks struct {
	OnStateChange      func(from, to State)
	OnPeerCountChange  func(count, limit int)
	OnRoleAssigned     func(role schema.Role, isPrimary bool)
	OnMatchReady       func(anchors []schema.ParticipantID, primary schema.ParticipantID)
	OnGameState        func(source schema.ParticipantID, payload []byte)
	OnGameEvent        func(source schema.ParticipantID, payload []byte)
	OnError            func(err error)
	OnConnectionFailed func(peer schema.ParticipantID, err error)
}

// Dispatch calls the matching callback for each event until events is
// closed (returning nil) or ctx is done (returning ctx.Err()).
// Callbacks run on the calling goroutine, one at a time, in event
// order.
func Dispatch(ctx context.Context, events <-chan Event, callbacks Callbacks) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			callbacks.dispatch(event)
		}
	}
}

func (c Callbacks) dispatch(event Event) {
	switch event := event.(type) {
	case StateChanged:
		if c.OnStateChange != nil {
			c.OnStateChange(event.From, event.To)
		}
	case PeerCountChanged:
		if c.OnPeerCountChange != nil {
			c.OnPeerCountChange(event.Count, event.Max)
		}
	case RoleAssigned:
		if c.OnRoleAssigned != nil {
			c.OnRoleAssigned(event.Role, event.IsPrimary)
		}
	case MatchReady:
		if c.OnMatchReady != nil {
			c.OnMatchReady(event.Anchors, event.Primary)
		}
	case GameState:
		if c.OnGameState != nil {
			c.OnGameState(event.Source, event.Payload)
		}
	case GameEvent:
		if c.OnGameEvent != nil {
			c.OnGameEvent(event.Source, event.Payload)
		}
	case SessionFailed:
		if c.OnError != nil {
			c.OnError(event.Err)
		}
	case ConnectionFailed:
		if c.OnConnectionFailed != nil {
			c.OnConnectionFailed(event.Peer, event.Err)
		}
	}
}
