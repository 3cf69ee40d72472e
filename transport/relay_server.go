// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// RelayServerConfig configures a RelayServer.
type RelayServerConfig struct {
	// Redis, when set, fans messages out to every relay instance
	// sharing the same Redis and channel prefix.
	Redis         redis.UniversalClient
	ChannelPrefix string

	Logger *slog.Logger
}

// RelayServer is the signaling relay behind WebSocketRelay clients.
// Every client connected to a match receives every valid message any
// other client of that match sends. The server validates framing and
// match scoping only; it never interprets payloads.
type RelayServer struct {
	upgrader websocket.Upgrader
	redis    redis.UniversalClient
	prefix   string
	instance string
	logger   *slog.Logger

	mu      sync.Mutex
	matches map[string]map[*relayClient]struct{}
}

type relayClient struct {
	id         string
	matchID    string
	connection *relayConnection
}

// fanoutEnvelope wraps a message published to Redis so that the
// originating instance can skip its own publications.
type fanoutEnvelope struct {
	Origin  string          `json:"origin"`
	Message json.RawMessage `json:"message"`
}

// NewRelayServer creates a relay server.
func NewRelayServer(config RelayServerConfig) *RelayServer {
	prefix := config.ChannelPrefix
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &RelayServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Participants connect from game clients on arbitrary
			// origins; the relay carries no credentials.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		redis:    config.Redis,
		prefix:   prefix,
		instance: uuid.NewString(),
		logger:   config.Logger,
		matches:  make(map[string]map[*relayClient]struct{}),
	}
}

// Register adds the relay routes to router.
func (s *RelayServer) Register(router *mux.Router) {
	router.HandleFunc("/v1/matches/{matchID}/signal", s.handleSignal).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(writer, "ok")
	}).Methods(http.MethodGet)
}

// Run relays messages published by other instances until ctx ends.
// Without Redis it just waits for ctx.
func (s *RelayServer) Run(ctx context.Context) error {
	if s.redis == nil {
		<-ctx.Done()
		return nil
	}
	pubsub := s.redis.PSubscribe(ctx, s.prefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s*: %w", s.prefix, err)
	}
	s.logger.Info("relay fan-out subscribed", "pattern", s.prefix+"*", "instance", s.instance)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			var envelope fanoutEnvelope
			if err := json.Unmarshal([]byte(message.Payload), &envelope); err != nil {
				s.logger.Debug("dropping malformed fan-out message", "channel", message.Channel, "error", err)
				continue
			}
			if envelope.Origin == s.instance {
				continue
			}
			matchID := strings.TrimPrefix(message.Channel, s.prefix)
			s.broadcast(matchID, envelope.Message, nil)
		}
	}
}

// Clients returns the number of clients connected to matchID on this
// instance.
func (s *RelayServer) Clients(matchID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.matches[matchID])
}

func (s *RelayServer) handleSignal(writer http.ResponseWriter, request *http.Request) {
	matchID := mux.Vars(request)["matchID"]
	if matchID == "" {
		http.Error(writer, "missing match id", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", "match_id", matchID, "error", err)
		return
	}

	client := &relayClient{
		id:      uuid.NewString(),
		matchID: matchID,
		connection: &relayConnection{
			conn: conn,
			send: make(chan []byte, outboundQueueDepth),
			done: make(chan struct{}),
		},
	}
	logger := s.logger.With("match_id", matchID, "client", client.id)

	s.mu.Lock()
	if s.matches[matchID] == nil {
		s.matches[matchID] = make(map[*relayClient]struct{})
	}
	s.matches[matchID][client] = struct{}{}
	count := len(s.matches[matchID])
	s.mu.Unlock()
	logger.Info("relay client connected", "remote", request.RemoteAddr, "clients", count)

	go writePump(client.connection, logger)
	readPump(conn, logger, func(data []byte) { s.handleClientMessage(client, logger, data) })

	s.mu.Lock()
	delete(s.matches[matchID], client)
	if len(s.matches[matchID]) == 0 {
		delete(s.matches, matchID)
	}
	s.mu.Unlock()
	client.connection.close()
	logger.Info("relay client disconnected")
}

func (s *RelayServer) handleClientMessage(client *relayClient, logger *slog.Logger, data []byte) {
	message, err := schema.UnmarshalControl(data)
	if err != nil {
		logger.Debug("dropping malformed control message", "error", err)
		return
	}
	if message.MatchID != client.matchID {
		logger.Debug("dropping message for another match", "message_match_id", message.MatchID)
		return
	}
	s.broadcast(client.matchID, data, client)

	if s.redis == nil {
		return
	}
	envelope, err := json.Marshal(fanoutEnvelope{Origin: s.instance, Message: data})
	if err != nil {
		return
	}
	if err := s.redis.Publish(context.Background(), s.prefix+client.matchID, envelope).Err(); err != nil {
		logger.Warn("relay fan-out publish failed", "error", err)
	}
}

// broadcast queues data for every client of matchID except sender.
// Clients whose queue is full miss the message.
func (s *RelayServer) broadcast(matchID string, data []byte, sender *relayClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.matches[matchID] {
		if client == sender {
			continue
		}
		select {
		case client.connection.send <- data:
		default:
			s.logger.Warn("relay client queue full, dropping message", "match_id", matchID, "client", client.id)
		}
	}
}
