// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/lib/testutil"
)

func startRelayServer(t *testing.T) (*RelayServer, string) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	server := NewRelayServer(RelayServerConfig{Logger: logger})
	router := mux.NewRouter()
	server.Register(router)
	httpServer := httptest.NewServer(router)
	t.Cleanup(httpServer.Close)
	return server, "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func TestWebSocketRelay_RoundTrip(t *testing.T) {
	server, baseURL := startRelayServer(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := context.Background()

	alice, err := NewWebSocketRelay(baseURL, logger)
	if err != nil {
		t.Fatalf("NewWebSocketRelay: %v", err)
	}
	defer alice.Close()
	bob, err := NewWebSocketRelay(baseURL, logger)
	if err != nil {
		t.Fatalf("NewWebSocketRelay: %v", err)
	}
	defer bob.Close()

	aliceInbox := make(chan schema.ControlMessage, 8)
	bobInbox := make(chan schema.ControlMessage, 8)
	if _, err := alice.Subscribe(ctx, "match-1", func(m schema.ControlMessage) { aliceInbox <- m }); err != nil {
		t.Fatalf("alice Subscribe: %v", err)
	}
	if _, err := bob.Subscribe(ctx, "match-1", func(m schema.ControlMessage) { bobInbox <- m }); err != nil {
		t.Fatalf("bob Subscribe: %v", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool { return server.Clients("match-1") == 2 },
		"waiting for both clients to register")

	report := schema.QualityPayload{Score: 900, LatencyMs: 40, RawSampleCount: 30}
	message, err := schema.NewControlMessage(schema.ControlQualityReport, "alice", schema.Broadcast, "match-1", report, time.UnixMilli(5000))
	if err != nil {
		t.Fatalf("NewControlMessage: %v", err)
	}
	if err := alice.Send(message); err != nil {
		t.Fatalf("Send: %v", err)
	}

	received := testutil.RequireReceive(t, bobInbox, 5*time.Second, "waiting for bob to receive")
	if received.From != "alice" || received.Type != schema.ControlQualityReport || received.Timestamp != 5000 {
		t.Errorf("received = %+v", received)
	}
	var payload schema.QualityPayload
	if err := received.DecodePayload(&payload); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload != report {
		t.Errorf("payload = %+v, want %+v", payload, report)
	}

	select {
	case echoed := <-aliceInbox:
		t.Errorf("sender received its own message: %+v", echoed)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketRelay_SendRequiresSubscription(t *testing.T) {
	_, baseURL := startRelayServer(t)
	relay, err := NewWebSocketRelay(baseURL, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWebSocketRelay: %v", err)
	}
	defer relay.Close()

	message, _ := schema.NewControlMessage(schema.ControlHeartbeat, "alice", schema.Broadcast, "match-9", nil, time.UnixMilli(1))
	if err := relay.Send(message); err == nil {
		t.Error("expected error sending to an unsubscribed match")
	}
}

func TestNewWebSocketRelay_RejectsHTTPURL(t *testing.T) {
	if _, err := NewWebSocketRelay("http://localhost:7480", slog.New(slog.NewJSONHandler(io.Discard, nil))); err == nil {
		t.Error("expected error for an http URL")
	}
}

func TestRelayServer_DropsForeignAndMalformedMessages(t *testing.T) {
	server, baseURL := startRelayServer(t)
	ctx := context.Background()

	sender, _, err := websocket.DefaultDialer.DialContext(ctx, baseURL+SignalPath("match-1"), nil)
	if err != nil {
		t.Fatalf("dial sender: %v", err)
	}
	defer sender.Close()

	relay, err := NewWebSocketRelay(baseURL, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewWebSocketRelay: %v", err)
	}
	defer relay.Close()
	inbox := make(chan schema.ControlMessage, 8)
	if _, err := relay.Subscribe(ctx, "match-1", func(m schema.ControlMessage) { inbox <- m }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	testutil.RequireEventually(t, 5*time.Second, func() bool { return server.Clients("match-1") == 2 })

	foreign, _ := schema.NewControlMessage(schema.ControlHeartbeat, "mallory", schema.Broadcast, "match-2", nil, time.UnixMilli(1))
	foreignData, _ := schema.MarshalControl(foreign)
	valid, _ := schema.NewControlMessage(schema.ControlHeartbeat, "carol", schema.Broadcast, "match-1", nil, time.UnixMilli(2))
	validData, _ := schema.MarshalControl(valid)

	for _, data := range [][]byte{[]byte("not json"), foreignData, validData} {
		if err := sender.WriteMessage(websocket.TextMessage, data); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	received := testutil.RequireReceive(t, inbox, 5*time.Second, "waiting for the valid message")
	if received.From != "carol" {
		t.Errorf("first delivered message from %q, want carol", received.From)
	}
}

func TestRelayServer_Healthz(t *testing.T) {
	_, baseURL := startRelayServer(t)
	response, err := http.Get("http" + strings.TrimPrefix(baseURL, "ws") + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", response.StatusCode)
	}
}
