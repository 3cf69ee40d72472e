// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/codec"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/lib/testutil"
	"github.com/pion/webrtc/v4"
)

// webrtcEndpoint routes one link's callbacks to channels. Candidates
// are forwarded by the test in place of the signaling relay.
type webrtcEndpoint struct {
	states     chan schema.ConnectionState
	candidates chan schema.Blob
	messages   chan schema.SyncMessage
}

func newWebRTCEndpoint() *webrtcEndpoint {
	return &webrtcEndpoint{
		states:     make(chan schema.ConnectionState, 16),
		candidates: make(chan schema.Blob, 64),
		messages:   make(chan schema.SyncMessage, 64),
	}
}

func (e *webrtcEndpoint) callbacks() LinkCallbacks {
	return LinkCallbacks{
		OnState:     func(state schema.ConnectionState, _ error) { e.states <- state },
		OnCandidate: func(candidate schema.Blob) { e.candidates <- candidate },
		OnMessage:   func(message schema.SyncMessage) { e.messages <- message },
	}
}

// forwardCandidates trickles candidates from one endpoint into a link
// until stop is closed.
func forwardCandidates(t *testing.T, from *webrtcEndpoint, to PeerLink, stop <-chan struct{}, waitGroup *sync.WaitGroup) {
	waitGroup.Add(1)
	go func() {
		defer waitGroup.Done()
		for {
			select {
			case candidate := <-from.candidates:
				if err := to.AddCandidate(candidate); err != nil {
					t.Errorf("AddCandidate: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

func waitForState(t *testing.T, endpoint *webrtcEndpoint, want schema.ConnectionState) {
	t.Helper()
	deadline := time.After(30 * time.Second)
	for {
		select {
		case state := <-endpoint.states:
			if state == want {
				return
			}
			if state == schema.StateFailed {
				t.Fatalf("link failed while waiting for %s", want)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

// TestWebRTCLink_Loopback connects two WebRTCLinks over loopback with
// trickle ICE and exchanges state and event messages.
func TestWebRTCLink_Loopback(t *testing.T) {
	if testing.Short() {
		t.Skip("WebRTC loopback test skipped in short mode")
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	factory := NewWebRTCFactory(ICEConfig{}, FrameCodec{Compression: codec.CompressionLZ4, Threshold: 64}, logger)

	aliceEndpoint, bobEndpoint := newWebRTCEndpoint(), newWebRTCEndpoint()
	alice, err := factory.NewLink("alice", "bob", aliceEndpoint.callbacks())
	if err != nil {
		t.Fatalf("NewLink alice: %v", err)
	}
	defer alice.Close()
	bob, err := factory.NewLink("bob", "alice", bobEndpoint.callbacks())
	if err != nil {
		t.Fatalf("NewLink bob: %v", err)
	}
	defer bob.Close()

	stop := make(chan struct{})
	var waitGroup sync.WaitGroup
	defer func() {
		close(stop)
		waitGroup.Wait()
	}()

	offer, err := alice.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	// Candidates from alice reach bob before and after his remote
	// description is set.
	forwardCandidates(t, aliceEndpoint, bob, stop, &waitGroup)

	answer, err := bob.HandleOffer(offer)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	forwardCandidates(t, bobEndpoint, alice, stop, &waitGroup)
	if err := alice.HandleAnswer(answer); err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	waitForState(t, aliceEndpoint, schema.StateConnected)
	waitForState(t, bobEndpoint, schema.StateConnected)

	event := schema.SyncMessage{Kind: schema.SyncEvent, Source: "alice", Sequence: 1, Payload: []byte(`{"pickup":"medkit"}`)}
	if !alice.SendReliable(event) {
		t.Fatal("SendReliable returned false on a connected link")
	}
	received := testutil.RequireReceive(t, bobEndpoint.messages, 10*time.Second, "waiting for event")
	if received.Kind != schema.SyncEvent || string(received.Payload) != string(event.Payload) {
		t.Errorf("received = %+v", received)
	}

	snapshot := schema.SyncMessage{Kind: schema.SyncState, Source: "bob", Sequence: 7, Payload: make([]byte, 256)}
	if !bob.SendUnreliable(snapshot) {
		t.Fatal("SendUnreliable returned false on a connected link")
	}
	received = testutil.RequireReceive(t, aliceEndpoint.messages, 10*time.Second, "waiting for state")
	if received.Sequence != 7 || len(received.Payload) != 256 {
		t.Errorf("received sequence %d with %d payload bytes", received.Sequence, len(received.Payload))
	}

	if err := alice.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if alice.State() != schema.StateDisconnected {
		t.Errorf("state after Close = %s, want disconnected", alice.State())
	}
	if alice.SendReliable(event) {
		t.Error("SendReliable succeeded after Close")
	}
}

func TestWebRTCLink_BuffersEarlyCandidates(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	factory := NewWebRTCFactory(ICEConfig{}, FrameCodec{}, logger)
	link, err := factory.NewLink("bob", "alice", LinkCallbacks{})
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	defer link.Close()

	candidate := schema.Blob(`{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 50000 typ host","sdpMid":"0","sdpMLineIndex":0}`)
	if err := link.AddCandidate(candidate); err != nil {
		t.Fatalf("AddCandidate before remote description: %v", err)
	}
	if pending := len(link.(*WebRTCLink).pendingCandidates); pending != 1 {
		t.Errorf("pending candidates = %d, want 1", pending)
	}
	if err := link.AddCandidate(schema.Blob(`not json`)); err == nil {
		t.Error("expected error for a malformed candidate")
	}
}

func TestWebRTCLink_RejectsWrongDescriptionType(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	factory := NewWebRTCFactory(ICEConfig{}, FrameCodec{}, logger)
	link, err := factory.NewLink("bob", "alice", LinkCallbacks{})
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	defer link.Close()

	if _, err := link.HandleOffer(schema.Blob(`{"type":"answer","sdp":"v=0"}`)); err == nil {
		t.Error("expected error for an answer passed as an offer")
	}
}

func TestWebRTCLink_InterruptedICEKeepsState(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	factory := NewWebRTCFactory(ICEConfig{}, FrameCodec{}, logger)
	endpoint := newWebRTCEndpoint()
	link, err := factory.NewLink("alice", "bob", endpoint.callbacks())
	if err != nil {
		t.Fatalf("NewLink: %v", err)
	}
	defer link.Close()

	if _, err := link.CreateOffer(); err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if state := testutil.RequireReceive(t, endpoint.states, 5*time.Second, "waiting for negotiating"); state != schema.StateNegotiating {
		t.Fatalf("state = %s, want negotiating", state)
	}

	webrtcLink := link.(*WebRTCLink)
	webrtcLink.handleConnectionState(webrtc.PeerConnectionStateDisconnected)
	if state := link.State(); state != schema.StateNegotiating {
		t.Errorf("state after ICE disconnect = %s, want negotiating", state)
	}
	select {
	case state := <-endpoint.states:
		t.Errorf("ICE disconnect reported state %s", state)
	default:
	}

	webrtcLink.handleConnectionState(webrtc.PeerConnectionStateFailed)
	if state := testutil.RequireReceive(t, endpoint.states, 5*time.Second, "waiting for failed"); state != schema.StateFailed {
		t.Errorf("state = %s, want failed", state)
	}
}
