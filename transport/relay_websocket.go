// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Compile-time interface check.
var _ Relay = (*WebSocketRelay)(nil)

// WebSocket keepalive and size limits, shared by client and server.
const (
	websocketWriteWait      = 10 * time.Second
	websocketPongWait       = 60 * time.Second
	websocketPingInterval   = (websocketPongWait * 9) / 10
	websocketMaxMessageSize = 64 << 10
)

// SignalPath returns the relay server path for matchID.
func SignalPath(matchID string) string {
	return "/v1/matches/" + url.PathEscape(matchID) + "/signal"
}

// WebSocketRelay is a Relay client for a RelayServer. Each subscribed
// match uses its own WebSocket connection; Send requires a live
// subscription to the message's match.
type WebSocketRelay struct {
	baseURL string
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu          sync.Mutex
	connections map[string]*relayConnection
	closed      bool
}

// relayConnection is one WebSocket with a dedicated writer goroutine.
type relayConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *relayConnection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// NewWebSocketRelay creates a client for the relay at baseURL
// ("ws://host:port" or "wss://host:port").
func NewWebSocketRelay(baseURL string, logger *slog.Logger) (*WebSocketRelay, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return nil, fmt.Errorf("relay URL %q must use ws or wss", baseURL)
	}
	return &WebSocketRelay{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:      logger,
		connections: make(map[string]*relayConnection),
	}, nil
}

// Subscribe connects to the relay for matchID. Only one subscription
// per match is allowed.
func (r *WebSocketRelay) Subscribe(ctx context.Context, matchID string, handler func(schema.ControlMessage)) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRelayClosed
	}
	if _, exists := r.connections[matchID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("already subscribed to match %q", matchID)
	}
	r.mu.Unlock()

	endpoint := r.baseURL + SignalPath(matchID)
	conn, response, err := r.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("connecting to relay %s: %s: %w", endpoint, response.Status, err)
		}
		return nil, fmt.Errorf("connecting to relay %s: %w", endpoint, err)
	}
	connection := &relayConnection{
		conn: conn,
		send: make(chan []byte, outboundQueueDepth),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		connection.close()
		return nil, ErrRelayClosed
	}
	r.connections[matchID] = connection
	r.mu.Unlock()

	logger := r.logger.With("match_id", matchID)
	go writePump(connection, logger)
	go func() {
		defer r.drop(matchID, connection)
		readPump(connection.conn, logger, func(data []byte) {
			message, err := schema.UnmarshalControl(data)
			if err != nil {
				logger.Debug("dropping malformed control message", "error", err)
				return
			}
			handler(message)
		})
	}()

	return func() { r.drop(matchID, connection) }, nil
}

func (r *WebSocketRelay) drop(matchID string, connection *relayConnection) {
	r.mu.Lock()
	if r.connections[matchID] == connection {
		delete(r.connections, matchID)
	}
	r.mu.Unlock()
	connection.close()
}

// Send queues message on the connection for its match.
func (r *WebSocketRelay) Send(message schema.ControlMessage) error {
	data, err := schema.MarshalControl(message)
	if err != nil {
		return fmt.Errorf("encoding control message: %w", err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRelayClosed
	}
	connection, ok := r.connections[message.MatchID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("not subscribed to match %q", message.MatchID)
	}
	select {
	case connection.send <- data:
		return nil
	case <-connection.done:
		return ErrRelayClosed
	default:
		return fmt.Errorf("websocket relay: outbound queue full (%d messages)", outboundQueueDepth)
	}
}

// Close closes every connection.
func (r *WebSocketRelay) Close() error {
	r.mu.Lock()
	r.closed = true
	connections := r.connections
	r.connections = make(map[string]*relayConnection)
	r.mu.Unlock()
	for _, connection := range connections {
		connection.close()
	}
	return nil
}

// writePump writes queued messages and keepalive pings until the
// connection closes.
func writePump(connection *relayConnection, logger *slog.Logger) {
	ticker := time.NewTicker(websocketPingInterval)
	defer func() {
		ticker.Stop()
		connection.close()
	}()
	for {
		select {
		case <-connection.done:
			connection.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(websocketWriteWait))
			return
		case data := <-connection.send:
			connection.conn.SetWriteDeadline(time.Now().Add(websocketWriteWait))
			if err := connection.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := connection.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(websocketWriteWait)); err != nil {
				logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}

// readPump reads messages until the connection fails, extending the
// read deadline on every message and pong.
func readPump(conn *websocket.Conn, logger *slog.Logger, deliver func([]byte)) {
	conn.SetReadLimit(websocketMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(websocketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(websocketPongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(websocketPongWait))
		deliver(data)
	}
}
