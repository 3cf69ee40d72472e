// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/clock"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/statesync"
	"github.com/bureau-foundation/anchormesh/transport"
)

var (
	// ErrHandshakeTimeout fails a link that did not connect in time.
	ErrHandshakeTimeout = errors.New("mesh: handshake timed out")

	// ErrPeerStale evicts a peer that stopped sending signaling traffic.
	ErrPeerStale = errors.New("mesh: peer went silent")

	// ErrPeerDisconnected removes a peer whose connected link went
	// down, typically because the peer left.
	ErrPeerDisconnected = errors.New("mesh: peer link disconnected")

	// ErrNoElection is returned by operations that need an applied
	// election result.
	ErrNoElection = errors.New("mesh: no election result applied")
)

// Config configures a Coordinator.
type Config struct {
	Local       schema.ParticipantID
	DisplayName string
	MatchID     string

	// SquadCount is the number of anchors Elect chooses.
	SquadCount int

	// MaxParticipants caps the registry at MaxParticipants-1 remote
	// peers. Participants named in an applied election are always
	// admitted.
	MaxParticipants int

	// HandshakeTimeout fails links that have not connected in time.
	// Zero disables the timeout.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the heartbeat cadence once Start is called.
	// Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// StalePeerTimeout marks peers silent for longer as stale. Zero
	// disables staleness checks.
	StalePeerTimeout time.Duration

	// EvictStalePeers removes stale peers instead of only logging.
	EvictStalePeers bool

	// SquadPolicy defaults to HashSquadPolicy.
	SquadPolicy SquadPolicy

	Relay    transport.Relay
	Links    transport.LinkFactory
	Observer Observer

	// Post schedules a function on the coordinator's loop. It must not
	// block.
	Post func(func()) bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Coordinator runs the mesh of one match attempt. All methods must be
// called on the loop that Config.Post schedules onto.
type Coordinator struct {
	local       schema.ParticipantID
	displayName string
	matchID     string

	squadCount        int
	maxParticipants   int
	handshakeTimeout  time.Duration
	heartbeatInterval time.Duration
	staleTimeout      time.Duration
	evictStale        bool
	policy            SquadPolicy

	relay    transport.Relay
	links    transport.LinkFactory
	observer Observer
	post     func(func()) bool
	clock    clock.Clock
	logger   *slog.Logger

	registry *registry
	protocol *statesync.Protocol

	localQuality *schema.QualityReport
	received     *schema.ElectionResult
	election     *schema.ElectionResult
	assignment   Assignment
	published    bool

	heartbeatTimer *clock.Timer
	syncTimer      *clock.Timer
	closed         bool
}

// qualityMessage is the quality-report payload. The display name rides
// along with the report fields.
type qualityMessage struct {
	schema.QualityPayload
	DisplayName string `json:"displayName,omitempty"`
}

// NewCoordinator validates config and creates a coordinator.
func NewCoordinator(config Config) (*Coordinator, error) {
	var errs []error
	if config.Local == "" || config.Local.IsBroadcast() {
		errs = append(errs, fmt.Errorf("invalid local participant id %q", config.Local))
	}
	if config.MatchID == "" {
		errs = append(errs, errors.New("match id is required"))
	}
	if config.SquadCount < 1 {
		errs = append(errs, fmt.Errorf("squad count must be at least 1, got %d", config.SquadCount))
	}
	if config.MaxParticipants < 2 {
		errs = append(errs, fmt.Errorf("max participants must be at least 2, got %d", config.MaxParticipants))
	}
	if config.Relay == nil {
		errs = append(errs, errors.New("relay is required"))
	}
	if config.Links == nil {
		errs = append(errs, errors.New("link factory is required"))
	}
	if config.Post == nil {
		errs = append(errs, errors.New("post function is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("mesh: %w", err)
	}

	coordinator := &Coordinator{
		local:             config.Local,
		displayName:       config.DisplayName,
		matchID:           config.MatchID,
		squadCount:        config.SquadCount,
		maxParticipants:   config.MaxParticipants,
		handshakeTimeout:  config.HandshakeTimeout,
		heartbeatInterval: config.HeartbeatInterval,
		staleTimeout:      config.StalePeerTimeout,
		evictStale:        config.EvictStalePeers,
		policy:            config.SquadPolicy,
		relay:             config.Relay,
		links:             config.Links,
		observer:          config.Observer,
		post:              config.Post,
		clock:             config.Clock,
		logger:            config.Logger,
		registry:          newRegistry(),
	}
	if coordinator.policy == nil {
		coordinator.policy = HashSquadPolicy{}
	}
	if coordinator.observer == nil {
		coordinator.observer = NopObserver{}
	}
	if coordinator.clock == nil {
		coordinator.clock = clock.Real()
	}
	if coordinator.logger == nil {
		coordinator.logger = slog.Default()
	}
	coordinator.logger = coordinator.logger.With("participant", string(config.Local), "match_id", config.MatchID)
	coordinator.protocol = statesync.NewProtocol(config.Local, coordinator.clock)
	return coordinator, nil
}

// Start begins periodic heartbeats.
func (c *Coordinator) Start() {
	if c.heartbeatInterval > 0 {
		c.every(c.heartbeatInterval, &c.heartbeatTimer, c.Heartbeat)
	}
}

// StartSync begins broadcasting the local state every interval.
func (c *Coordinator) StartSync(interval time.Duration) {
	if interval <= 0 || c.syncTimer != nil {
		return
	}
	c.every(interval, &c.syncTimer, func() { c.TickState() })
}

// StopSync stops the state broadcast.
func (c *Coordinator) StopSync() {
	if c.syncTimer != nil {
		c.syncTimer.Stop()
		c.syncTimer = nil
	}
}

// every runs fn on the loop once per interval until Close. The next
// run is armed after fn returns, so a slow loop delays ticks instead of
// queueing them.
func (c *Coordinator) every(interval time.Duration, slot **clock.Timer, fn func()) {
	var arm func()
	arm = func() {
		var timer *clock.Timer
		timer = c.clock.AfterFunc(interval, func() {
			c.post(func() {
				if c.closed || *slot != timer {
					return
				}
				fn()
				if !c.closed && *slot == timer {
					arm()
				}
			})
		})
		*slot = timer
	}
	arm()
}

// Close stops all timers and closes every link. The coordinator cannot
// be restarted.
func (c *Coordinator) Close() {
	if c.closed {
		return
	}
	c.closed = true
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	c.StopSync()
	for _, id := range c.registry.ids() {
		entry, _ := c.registry.get(id)
		entry.stopHandshakeTimer()
		if entry.link != nil {
			entry.link.Close()
			entry.link = nil
		}
		entry.peer.State = schema.StateDisconnected
	}
}

// SetLocalQuality records the local report for elections and replies.
func (c *Coordinator) SetLocalQuality(report schema.QualityReport) {
	report.ParticipantID = c.local
	c.localQuality = &report
}

// BroadcastQuality sends the local report to every participant.
func (c *Coordinator) BroadcastQuality() {
	c.sendQuality(schema.Broadcast)
}

func (c *Coordinator) sendQuality(to schema.ParticipantID) {
	if c.localQuality == nil {
		return
	}
	c.send(schema.ControlQualityReport, to, qualityMessage{
		QualityPayload: c.localQuality.Payload(),
		DisplayName:    c.displayName,
	})
}

// Elect runs the anchor election over every known report.
func (c *Coordinator) Elect() (schema.ElectionResult, error) {
	reports := make([]schema.QualityReport, 0, c.registry.len()+1)
	if c.localQuality != nil {
		reports = append(reports, *c.localQuality)
	}
	for _, id := range c.registry.ids() {
		entry, _ := c.registry.get(id)
		if entry.peer.Quality != nil {
			reports = append(reports, *entry.peer.Quality)
		}
	}
	result, err := Elect(reports, c.squadCount)
	if err != nil {
		return schema.ElectionResult{}, err
	}
	c.logger.Info("anchors elected",
		"anchors", result.Anchors,
		"primary", result.Primary,
		"reports", len(reports),
	)
	return result, nil
}

// PublishElection broadcasts result with its digest. New peers seen
// afterwards receive it directly.
func (c *Coordinator) PublishElection(result schema.ElectionResult) {
	c.published = true
	c.send(schema.ControlAnchorResult, schema.Broadcast, c.anchorResultPayload(result))
}

func (c *Coordinator) anchorResultPayload(result schema.ElectionResult) schema.AnchorResultPayload {
	return schema.AnchorResultPayload{Anchors: result.Anchors, Primary: result.Primary, Digest: Digest(result)}
}

// ApplyElection stores result and assigns roles to the local
// participant and every known peer. Applying the same result again is
// a no-op; a different one is an error.
func (c *Coordinator) ApplyElection(result schema.ElectionResult) (Assignment, error) {
	if err := result.Validate(); err != nil {
		return Assignment{}, fmt.Errorf("mesh: invalid election result: %w", err)
	}
	if c.election != nil {
		if c.election.Equal(result) {
			return c.assignment, nil
		}
		return Assignment{}, fmt.Errorf("mesh: election already applied (primary %s)", c.election.Primary)
	}
	applied := schema.ElectionResult{Anchors: append([]schema.ParticipantID(nil), result.Anchors...), Primary: result.Primary}
	c.election = &applied
	c.assignment = AssignRole(c.local, applied, c.policy)
	for _, id := range c.registry.ids() {
		entry, _ := c.registry.get(id)
		c.assignPeer(entry)
	}
	c.logger.Info("role assigned",
		"role", c.assignment.Role,
		"primary", c.assignment.IsPrimary,
		"squad", c.assignment.Squad,
		"anchor", c.assignment.Anchor,
	)
	return c.assignment, nil
}

func (c *Coordinator) assignPeer(entry *peerEntry) {
	if c.election == nil {
		return
	}
	assignment := AssignRole(entry.peer.ID, *c.election, c.policy)
	entry.peer.Role = assignment.Role
	entry.peer.Squad = assignment.Squad
}

// ConnectMesh initiates every connection the local role requires and
// returns the required peers. Connections whose offer comes from the
// other side are listed but left to that side.
func (c *Coordinator) ConnectMesh() ([]schema.ParticipantID, error) {
	if c.election == nil {
		return nil, ErrNoElection
	}
	required := RequiredConnections(c.local, c.assignment, *c.election)
	for _, remote := range required {
		if Initiates(c.local, c.assignment, remote) {
			c.offer(remote)
		}
	}
	return required, nil
}

// Election returns the applied election result.
func (c *Coordinator) Election() (schema.ElectionResult, bool) {
	if c.election == nil {
		return schema.ElectionResult{}, false
	}
	return *c.election, true
}

// Assignment returns the local assignment once an election is applied.
func (c *Coordinator) Assignment() (Assignment, bool) {
	return c.assignment, c.election != nil
}

// SetLocalState caches the snapshot broadcast on the next tick.
func (c *Coordinator) SetLocalState(payload []byte) {
	c.protocol.SetLocal(payload)
}

// TickState broadcasts the cached snapshot over every connected link
// and returns the number of links it was handed to.
func (c *Coordinator) TickState() int {
	message, ok := c.protocol.NextState()
	if !ok {
		return 0
	}
	return c.broadcastSync(message)
}

// BroadcastEvent sends payload reliably over every connected link and
// returns the number of links that accepted it.
func (c *Coordinator) BroadcastEvent(payload []byte) int {
	return c.broadcastSync(c.protocol.NewEvent(payload))
}

func (c *Coordinator) broadcastSync(message schema.SyncMessage) int {
	sent := 0
	for _, id := range c.registry.ids() {
		entry, _ := c.registry.get(id)
		if c.sendSync(entry, message) {
			sent++
		}
	}
	return sent
}

func (c *Coordinator) sendSync(entry *peerEntry, message schema.SyncMessage) bool {
	if entry.link == nil || entry.peer.State != schema.StateConnected {
		return false
	}
	if message.Kind == schema.SyncEvent {
		return entry.link.SendReliable(message)
	}
	return entry.link.SendUnreliable(message)
}

// Heartbeat broadcasts a heartbeat and applies the staleness policy.
func (c *Coordinator) Heartbeat() {
	c.send(schema.ControlHeartbeat, schema.Broadcast, nil)
	if c.staleTimeout <= 0 {
		return
	}
	now := c.clock.Now()
	for _, id := range c.registry.ids() {
		entry, _ := c.registry.get(id)
		silent := now.Sub(entry.peer.LastHeartbeat)
		if silent <= c.staleTimeout {
			continue
		}
		if c.evictStale {
			c.removePeer(entry, fmt.Errorf("%w for %s", ErrPeerStale, silent))
			continue
		}
		if !entry.staleReported {
			entry.staleReported = true
			c.logger.Warn("peer is stale", "peer", string(id), "silent", silent)
		}
	}
}

// Peer returns a copy of the registry entry for id.
func (c *Coordinator) Peer(id schema.ParticipantID) (Peer, bool) {
	entry, ok := c.registry.get(id)
	if !ok {
		return Peer{}, false
	}
	return entry.snapshot(), true
}

// Peers returns copies of every registry entry, ordered by id.
func (c *Coordinator) Peers() []Peer {
	ids := c.registry.ids()
	peers := make([]Peer, 0, len(ids))
	for _, id := range ids {
		entry, _ := c.registry.get(id)
		peers = append(peers, entry.snapshot())
	}
	return peers
}

// PeerCount is the mesh size including the local participant.
func (c *Coordinator) PeerCount() int {
	return c.registry.len() + 1
}

// send publishes a control message. Failures are logged and otherwise
// ignored: signaling is best effort.
func (c *Coordinator) send(controlType schema.ControlType, to schema.ParticipantID, payload any) {
	message, err := schema.NewControlMessage(controlType, c.local, to, c.matchID, payload, c.clock.Now())
	if err != nil {
		c.logger.Error("building control message failed", "type", controlType, "error", err)
		return
	}
	if err := c.relay.Send(message); err != nil {
		c.logger.Warn("signaling send failed", "type", controlType, "to", string(to), "error", err)
	}
}

// admit returns the entry for id, creating it when the participant
// cap allows. created reports a new entry.
func (c *Coordinator) admit(id schema.ParticipantID) (entry *peerEntry, created bool, ok bool) {
	now := c.clock.Now()
	if entry, exists := c.registry.get(id); exists {
		entry.peer.LastHeartbeat = now
		if entry.staleReported {
			entry.staleReported = false
			c.logger.Info("stale peer resumed", "peer", string(id))
		}
		return entry, false, true
	}
	inElection := c.election != nil && c.election.IsAnchor(id)
	if !inElection && c.registry.len() >= c.maxParticipants-1 {
		c.logger.Warn("participant cap reached, ignoring peer",
			"peer", string(id),
			"max_participants", c.maxParticipants,
		)
		return nil, false, false
	}
	entry = c.registry.add(id, now)
	c.assignPeer(entry)
	return entry, true, true
}

// peerAdded announces a new peer and brings it up to date.
func (c *Coordinator) peerAdded(entry *peerEntry) {
	c.logger.Info("peer joined", "peer", string(entry.peer.ID), "peers", c.PeerCount())
	c.observer.PeerCountChanged(c.PeerCount())
	c.sendQuality(entry.peer.ID)
	if c.published && c.election != nil {
		c.send(schema.ControlAnchorResult, entry.peer.ID, c.anchorResultPayload(*c.election))
	}
}

// removePeer closes the peer's link, drops it from the registry, and
// reports the failure.
func (c *Coordinator) removePeer(entry *peerEntry, cause error) {
	id := entry.peer.ID
	entry.stopHandshakeTimer()
	if entry.link != nil {
		entry.link.Close()
		entry.link = nil
	}
	c.registry.remove(id)
	c.logger.Warn("peer removed", "peer", string(id), "error", cause)
	c.observer.ConnectionFailed(id, cause)
	c.observer.PeerCountChanged(c.PeerCount())
}

// validQuality rejects reports that would poison an election.
func validQuality(payload schema.QualityPayload) bool {
	return !math.IsNaN(payload.Score) && !math.IsInf(payload.Score, 0)
}
