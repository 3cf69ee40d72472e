// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "ANCHORMESH_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the complete anchormesh configuration.
type Config struct {
	Environment Environment `yaml:"environment" json:"environment"`

	Session   SessionConfig   `yaml:"session" json:"session"`
	Quality   QualityConfig   `yaml:"quality" json:"quality"`
	Sync      SyncConfig      `yaml:"sync" json:"sync"`
	ICE       ICEConfig       `yaml:"ice" json:"ice"`
	Signaling SignalingConfig `yaml:"signaling" json:"signaling"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`

	// Per-environment overrides, applied after the base values.
	Development *Overrides `yaml:"development,omitempty" json:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// SessionConfig configures one match session.
type SessionConfig struct {
	// MaxParticipants caps the mesh size, the local participant
	// included.
	MaxParticipants int `yaml:"max_participants" json:"max_participants"`

	// SquadCount is the number of anchors to elect.
	SquadCount int `yaml:"squad_count" json:"squad_count"`

	// WaitForPlayersTimeout moves a session that never receives an
	// election result to the error state. Zero waits forever.
	WaitForPlayersTimeout Duration `yaml:"wait_for_players_timeout" json:"wait_for_players_timeout"`

	// HandshakeTimeout fails a link that has not connected in time.
	// Zero disables the timeout.
	HandshakeTimeout Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// HeartbeatInterval is the signaling heartbeat cadence.
	HeartbeatInterval Duration `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// StalePeerTimeout is how long a peer may stay silent on signaling
	// before it counts as stale.
	StalePeerTimeout Duration `yaml:"stale_peer_timeout" json:"stale_peer_timeout"`

	// EvictStalePeers removes stale peers from the registry (and from
	// future elections). When false, staleness is only logged.
	EvictStalePeers bool `yaml:"evict_stale_peers" json:"evict_stale_peers"`

	// EventQueueLimit is the depth of the application event queue above
	// which pending game-state events are coalesced per source.
	EventQueueLimit int `yaml:"event_queue_limit" json:"event_queue_limit"`
}

// QualityConfig configures the network quality probe.
type QualityConfig struct {
	// TestDuration bounds the probe window.
	TestDuration Duration `yaml:"test_duration" json:"test_duration"`

	// SampleInterval is the spacing between probe samples.
	SampleInterval Duration `yaml:"sample_interval" json:"sample_interval"`

	// SampleTimeout is how long one sample waits for its response
	// before it counts as lost. It is independent of SampleInterval:
	// a slow response is latency, not loss.
	SampleTimeout Duration `yaml:"sample_timeout" json:"sample_timeout"`

	// STUNServers are "host:port" targets for binding-request samples.
	STUNServers []string `yaml:"stun_servers" json:"stun_servers"`
}

// SyncConfig configures the state sync protocol.
type SyncConfig struct {
	// RateHz is the state snapshot broadcast cadence.
	RateHz int `yaml:"rate_hz" json:"rate_hz"`

	// Compression is the payload codec: none, lz4, or zstd.
	Compression string `yaml:"compression" json:"compression"`

	// CompressionThreshold is the payload size in bytes at or above
	// which compression is attempted.
	CompressionThreshold int `yaml:"compression_threshold" json:"compression_threshold"`
}

// ICEConfig lists STUN/TURN servers for peer links.
type ICEConfig struct {
	Servers []ICEServer `yaml:"servers" json:"servers"`
}

// ICEServer is one STUN or TURN server entry.
type ICEServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// Signaling backends.
const (
	SignalingWebSocket = "websocket"
	SignalingRedis     = "redis"
	SignalingMemory    = "memory"
)

// SignalingConfig selects and configures the signaling relay.
type SignalingConfig struct {
	Backend            string `yaml:"backend" json:"backend"`
	WebSocketURL       string `yaml:"websocket_url" json:"websocket_url"`
	RedisAddr          string `yaml:"redis_addr" json:"redis_addr"`
	RedisChannelPrefix string `yaml:"redis_channel_prefix" json:"redis_channel_prefix"`
}

// LoggingConfig configures the structured logger of a binary.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" json:"level"`

	// Format is json or text.
	Format string `yaml:"format" json:"format"`
}

// Overrides holds the fields an environment section may override.
// Nil pointers leave the base value untouched.
type Overrides struct {
	WaitForPlayersTimeout *Duration `yaml:"wait_for_players_timeout,omitempty" json:"wait_for_players_timeout,omitempty"`
	HandshakeTimeout      *Duration `yaml:"handshake_timeout,omitempty" json:"handshake_timeout,omitempty"`
	EvictStalePeers       *bool     `yaml:"evict_stale_peers,omitempty" json:"evict_stale_peers,omitempty"`
	LogLevel              *string   `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// Default returns the base configuration that a file is merged over.
func Default() *Config {
	return &Config{
		Environment: Development,
		Session: SessionConfig{
			MaxParticipants:   16,
			SquadCount:        4,
			HandshakeTimeout:  Duration(20 * time.Second),
			HeartbeatInterval: Duration(2 * time.Second),
			StalePeerTimeout:  Duration(10 * time.Second),
			EventQueueLimit:   1024,
		},
		Quality: QualityConfig{
			TestDuration:   Duration(3 * time.Second),
			SampleInterval: Duration(100 * time.Millisecond),
			SampleTimeout:  Duration(500 * time.Millisecond),
			STUNServers:    []string{"stun.l.google.com:19302"},
		},
		Sync: SyncConfig{
			RateHz:               30,
			Compression:          "lz4",
			CompressionThreshold: 512,
		},
		ICE: ICEConfig{
			Servers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		},
		Signaling: SignalingConfig{
			Backend:            SignalingWebSocket,
			WebSocketURL:       "ws://localhost:7480",
			RedisAddr:          "localhost:6379",
			RedisChannelPrefix: "anchormesh:match:",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads the file named by ANCHORMESH_CONFIG. It fails when the
// variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your anchormesh config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// Resolve returns the configuration a binary runs with: path when set,
// otherwise the file named by ANCHORMESH_CONFIG when set, otherwise
// Default. The result is validated.
func Resolve(path string) (*Config, error) {
	var cfg *Config
	var err error
	switch {
	case path != "":
		cfg, err = LoadFile(path)
	case os.Getenv(EnvironmentVariable) != "":
		cfg, err = Load()
	default:
		cfg = Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile loads configuration from path, merged over Default, with
// the selected environment's overrides applied.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a config document. extension selects the syntax
// (".json" or ".jsonc" for JSONC, anything else for YAML).
func Parse(data []byte, extension string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}
	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			evict := true
			wait := Duration(5 * time.Minute)
			overrides = &Overrides{EvictStalePeers: &evict, WaitForPlayersTimeout: &wait}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.WaitForPlayersTimeout != nil {
		c.Session.WaitForPlayersTimeout = *overrides.WaitForPlayersTimeout
	}
	if overrides.HandshakeTimeout != nil {
		c.Session.HandshakeTimeout = *overrides.HandshakeTimeout
	}
	if overrides.EvictStalePeers != nil {
		c.Session.EvictStalePeers = *overrides.EvictStalePeers
	}
	if overrides.LogLevel != nil {
		c.Logging.Level = *overrides.LogLevel
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	if c.Session.MaxParticipants < 2 {
		errs = append(errs, fmt.Errorf("session.max_participants must be at least 2, got %d", c.Session.MaxParticipants))
	}
	if c.Session.SquadCount < 1 {
		errs = append(errs, fmt.Errorf("session.squad_count must be at least 1, got %d", c.Session.SquadCount))
	}
	if c.Session.SquadCount > c.Session.MaxParticipants {
		errs = append(errs, fmt.Errorf("session.squad_count (%d) exceeds session.max_participants (%d)",
			c.Session.SquadCount, c.Session.MaxParticipants))
	}
	if c.Session.WaitForPlayersTimeout < 0 || c.Session.HandshakeTimeout < 0 {
		errs = append(errs, errors.New("session timeouts must not be negative"))
	}
	if c.Session.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("session.heartbeat_interval must be positive"))
	}
	if c.Session.StalePeerTimeout < c.Session.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("session.stale_peer_timeout (%s) must be at least session.heartbeat_interval (%s)",
			c.Session.StalePeerTimeout, c.Session.HeartbeatInterval))
	}
	if c.Session.EventQueueLimit < 1 {
		errs = append(errs, errors.New("session.event_queue_limit must be positive"))
	}

	if c.Quality.TestDuration <= 0 {
		errs = append(errs, errors.New("quality.test_duration must be positive"))
	}
	if c.Quality.SampleInterval <= 0 || c.Quality.SampleInterval > c.Quality.TestDuration {
		errs = append(errs, errors.New("quality.sample_interval must be positive and no longer than quality.test_duration"))
	}
	if c.Quality.SampleTimeout <= 0 || c.Quality.SampleTimeout > c.Quality.TestDuration {
		errs = append(errs, errors.New("quality.sample_timeout must be positive and no longer than quality.test_duration"))
	}

	if c.Sync.RateHz < 1 || c.Sync.RateHz > 240 {
		errs = append(errs, fmt.Errorf("sync.rate_hz must be between 1 and 240, got %d", c.Sync.RateHz))
	}
	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Sync.Compression) {
		errs = append(errs, fmt.Errorf("sync.compression must be one of none, lz4, zstd; got %q", c.Sync.Compression))
	}
	if c.Sync.CompressionThreshold < 0 {
		errs = append(errs, errors.New("sync.compression_threshold must not be negative"))
	}

	for index, server := range c.ICE.Servers {
		if len(server.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice.servers[%d] has no urls", index))
		}
	}

	switch c.Signaling.Backend {
	case SignalingWebSocket:
		if c.Signaling.WebSocketURL == "" {
			errs = append(errs, errors.New("signaling.websocket_url is required for the websocket backend"))
		}
	case SignalingRedis:
		if c.Signaling.RedisAddr == "" {
			errs = append(errs, errors.New("signaling.redis_addr is required for the redis backend"))
		}
	case SignalingMemory:
	default:
		errs = append(errs, fmt.Errorf("signaling.backend must be one of websocket, redis, memory; got %q", c.Signaling.Backend))
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		errs = append(errs, fmt.Errorf("logging.format must be json or text; got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SyncInterval is the period between state broadcasts.
func (s SyncConfig) SyncInterval() time.Duration {
	return time.Second / time.Duration(s.RateHz)
}
