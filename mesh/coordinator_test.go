// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mesh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/anchormesh/lib/clock"
	"github.com/bureau-foundation/anchormesh/lib/eventloop"
	"github.com/bureau-foundation/anchormesh/lib/schema"
	"github.com/bureau-foundation/anchormesh/lib/testutil"
	"github.com/bureau-foundation/anchormesh/transport"
)

const (
	testMatchID = "match-1"
	testTimeout = 5 * time.Second
)

// recordingObserver keeps every notification. It is only touched on
// the harness loop.
type recordingObserver struct {
	counts    []int
	elections []schema.ElectionResult
	failures  map[schema.ParticipantID]error
	states    []schema.SyncMessage
	events    []schema.SyncMessage

	onElection func(schema.ElectionResult)
}

func (o *recordingObserver) PeerCountChanged(count int) { o.counts = append(o.counts, count) }

func (o *recordingObserver) ElectionReceived(result schema.ElectionResult) {
	o.elections = append(o.elections, result)
	if o.onElection != nil {
		o.onElection(result)
	}
}

func (o *recordingObserver) LinkStateChanged(schema.ParticipantID, schema.ConnectionState) {}

func (o *recordingObserver) ConnectionFailed(peer schema.ParticipantID, err error) {
	if o.failures == nil {
		o.failures = make(map[schema.ParticipantID]error)
	}
	o.failures[peer] = err
}

func (o *recordingObserver) GameState(message schema.SyncMessage) {
	o.states = append(o.states, message)
}

func (o *recordingObserver) GameEvent(message schema.SyncMessage) {
	o.events = append(o.events, message)
}

func (o *recordingObserver) eventsFrom(source schema.ParticipantID) int {
	count := 0
	for _, event := range o.events {
		if event.Source == source {
			count++
		}
	}
	return count
}

type testNode struct {
	coordinator *Coordinator
	observer    *recordingObserver
}

// meshHarness runs several coordinators on one loop over an in-memory
// relay and network.
type meshHarness struct {
	t       *testing.T
	loop    *eventloop.Loop
	clock   *clock.FakeClock
	relay   *transport.MemoryRelay
	network *transport.MemoryNetwork
	nodes   map[schema.ParticipantID]*testNode
}

func newMeshHarness(t *testing.T) *meshHarness {
	t.Helper()
	loop := eventloop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return &meshHarness{
		t:       t,
		loop:    loop,
		clock:   clock.Fake(time.Unix(1_700_000_000, 0)),
		relay:   transport.NewMemoryRelay(),
		network: transport.NewMemoryNetwork(transport.FrameCodec{}),
		nodes:   make(map[schema.ParticipantID]*testNode),
	}
}

func (h *meshHarness) baseConfig(id schema.ParticipantID) Config {
	return Config{
		Local:            id,
		MatchID:          testMatchID,
		SquadCount:       2,
		MaxParticipants:  16,
		HandshakeTimeout: 20 * time.Second,
		Relay:            h.relay,
		Links:            h.network,
		Post:             h.loop.Post,
		Clock:            h.clock,
		Logger:           slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
}

func (h *meshHarness) add(config Config) *testNode {
	h.t.Helper()
	observer := &recordingObserver{}
	config.Observer = observer
	coordinator, err := NewCoordinator(config)
	if err != nil {
		h.t.Fatalf("NewCoordinator(%s): %v", config.Local, err)
	}
	_, err = h.relay.Subscribe(context.Background(), testMatchID, func(message schema.ControlMessage) {
		h.loop.Post(func() { coordinator.HandleControl(message) })
	})
	if err != nil {
		h.t.Fatalf("Subscribe: %v", err)
	}
	node := &testNode{coordinator: coordinator, observer: observer}
	h.nodes[config.Local] = node
	return node
}

// do runs fn on the loop.
func (h *meshHarness) do(fn func()) {
	h.t.Helper()
	if err := h.loop.Do(context.Background(), fn); err != nil {
		h.t.Fatalf("loop.Do: %v", err)
	}
}

func (h *meshHarness) eventually(message string, condition func() bool) {
	h.t.Helper()
	testutil.RequireEventually(h.t, testTimeout, func() bool {
		var met bool
		h.do(func() { met = condition() })
		return met
	}, message)
}

// announce has every node broadcast score and waits until every node
// holds every report.
func (h *meshHarness) announce(scores map[schema.ParticipantID]float64) {
	h.t.Helper()
	h.do(func() {
		for id, score := range scores {
			node := h.nodes[id]
			node.coordinator.SetLocalQuality(schema.QualityReport{Score: score})
			node.coordinator.BroadcastQuality()
		}
	})
	h.eventually("quality reports exchanged", func() bool {
		for _, node := range h.nodes {
			for _, peer := range node.coordinator.Peers() {
				if peer.Quality == nil {
					return false
				}
			}
			if node.coordinator.PeerCount() != len(h.nodes) {
				return false
			}
		}
		return true
	})
}

// joinOnElection makes every non-host node apply the first election
// it hears and connect.
func (h *meshHarness) joinOnElection() {
	for _, node := range h.nodes {
		node.observer.onElection = func(result schema.ElectionResult) {
			h.loop.Post(func() {
				if _, err := node.coordinator.ApplyElection(result); err != nil {
					h.t.Errorf("ApplyElection: %v", err)
					return
				}
				if _, err := node.coordinator.ConnectMesh(); err != nil {
					h.t.Errorf("ConnectMesh: %v", err)
				}
			})
		}
	}
}

// host elects on id, publishes, applies, and connects, returning the
// result.
func (h *meshHarness) host(id schema.ParticipantID) schema.ElectionResult {
	h.t.Helper()
	var result schema.ElectionResult
	h.do(func() {
		coordinator := h.nodes[id].coordinator
		var err error
		result, err = coordinator.Elect()
		if err != nil {
			h.t.Errorf("Elect: %v", err)
			return
		}
		coordinator.PublishElection(result)
		if _, err := coordinator.ApplyElection(result); err != nil {
			h.t.Errorf("ApplyElection: %v", err)
			return
		}
		if _, err := coordinator.ConnectMesh(); err != nil {
			h.t.Errorf("ConnectMesh: %v", err)
		}
	})
	if h.t.Failed() {
		h.t.FailNow()
	}
	return result
}

func (h *meshHarness) connected(local, remote schema.ParticipantID) bool {
	peer, ok := h.nodes[local].coordinator.Peer(remote)
	return ok && peer.State == schema.StateConnected
}

// waitForTopology waits until anchors are fully linked and every
// player is linked to its squad anchor.
func (h *meshHarness) waitForTopology(result schema.ElectionResult, policy SquadPolicy) {
	h.t.Helper()
	h.eventually("mesh topology connected", func() bool {
		for id := range h.nodes {
			assignment := AssignRole(id, result, policy)
			for _, remote := range RequiredConnections(id, assignment, result) {
				if !h.connected(id, remote) || !h.connected(remote, id) {
					return false
				}
			}
		}
		return true
	})
}

func TestCoordinator_BuildsTopology(t *testing.T) {
	harness := newMeshHarness(t)
	policy := squadTable{"B": 0, "D": 1}
	for _, id := range []schema.ParticipantID{"A", "B", "C", "D"} {
		config := harness.baseConfig(id)
		config.SquadPolicy = policy
		harness.add(config)
	}
	harness.announce(map[schema.ParticipantID]float64{"A": 90, "B": 70, "C": 95, "D": 60})
	harness.joinOnElection()

	result := harness.host("A")
	if !slices.Equal(result.Anchors, []schema.ParticipantID{"C", "A"}) {
		t.Fatalf("anchors = %v, want [C A]", result.Anchors)
	}
	harness.waitForTopology(result, policy)

	// A < C initiates the backbone link; players initiate to anchors.
	offers := harness.network.Offers()
	wantOffers := []transport.OfferRecord{{From: "A", To: "C"}, {From: "B", To: "C"}, {From: "D", To: "A"}}
	for _, want := range wantOffers {
		if !slices.Contains(offers, want) {
			t.Errorf("missing offer %v in %v", want, offers)
		}
	}
	if len(offers) != len(wantOffers) {
		t.Errorf("offers = %v, want exactly %v", offers, wantOffers)
	}

	// Players stay off each other's links.
	harness.do(func() {
		if peer, _ := harness.nodes["B"].coordinator.Peer("D"); peer.State != schema.StateDisconnected {
			t.Errorf("player link B-D is %s", peer.State)
		}
		peer, _ := harness.nodes["C"].coordinator.Peer("D")
		if peer.Role != schema.RolePlayer || peer.Squad != 1 {
			t.Errorf("C sees D as %s in squad %d, want player in squad 1", peer.Role, peer.Squad)
		}
		assignment, _ := harness.nodes["C"].coordinator.Assignment()
		if !assignment.IsPrimary {
			t.Error("C is not primary")
		}
	})
}

func TestCoordinator_GlareFreeBackbone(t *testing.T) {
	harness := newMeshHarness(t)
	ids := []schema.ParticipantID{"A", "B", "C", "D"}
	for _, id := range ids {
		config := harness.baseConfig(id)
		config.SquadCount = 4
		harness.add(config)
	}
	harness.announce(map[schema.ParticipantID]float64{"A": 10, "B": 20, "C": 30, "D": 40})
	harness.joinOnElection()
	result := harness.host("B")
	harness.waitForTopology(result, HashSquadPolicy{})

	offers := harness.network.Offers()
	if len(offers) != 6 {
		t.Fatalf("offers = %v, want one per anchor pair", offers)
	}
	seen := make(map[[2]schema.ParticipantID]bool)
	for _, offer := range offers {
		if !offer.From.Less(offer.To) {
			t.Errorf("offer %s -> %s sent by the larger id", offer.From, offer.To)
		}
		pair := [2]schema.ParticipantID{offer.From, offer.To}
		if seen[pair] {
			t.Errorf("duplicate offer %v", pair)
		}
		seen[pair] = true
	}
}

func TestCoordinator_SyncReachesEveryone(t *testing.T) {
	harness := newMeshHarness(t)
	policy := squadTable{"B": 0, "D": 1, "E": 1}
	ids := []schema.ParticipantID{"A", "B", "C", "D", "E"}
	for _, id := range ids {
		config := harness.baseConfig(id)
		config.SquadPolicy = policy
		harness.add(config)
	}
	harness.announce(map[schema.ParticipantID]float64{"A": 90, "B": 70, "C": 95, "D": 60, "E": 50})
	harness.joinOnElection()
	result := harness.host("C")
	harness.waitForTopology(result, policy)

	harness.do(func() {
		harness.nodes["D"].coordinator.SetLocalState([]byte("d-state"))
		if sent := harness.nodes["D"].coordinator.TickState(); sent != 1 {
			t.Errorf("player D sent state on %d links, want 1", sent)
		}
		harness.nodes["B"].coordinator.BroadcastEvent([]byte("b-event"))
		harness.nodes["C"].coordinator.BroadcastEvent([]byte("c-event"))
	})

	harness.eventually("events delivered", func() bool {
		for id, node := range harness.nodes {
			if id != "B" && node.observer.eventsFrom("B") != 1 {
				return false
			}
			if id != "C" && node.observer.eventsFrom("C") != 1 {
				return false
			}
		}
		return true
	})
	harness.eventually("state delivered", func() bool {
		for id, node := range harness.nodes {
			if id == "D" {
				continue
			}
			if !slices.ContainsFunc(node.observer.states, func(message schema.SyncMessage) bool {
				return message.Source == "D" && string(message.Payload) == "d-state"
			}) {
				return false
			}
		}
		return true
	})

	harness.do(func() {
		for id, node := range harness.nodes {
			if id != "B" && node.observer.eventsFrom("B") != 1 {
				t.Errorf("%s received B's event %d times", id, node.observer.eventsFrom("B"))
			}
		}
	})
}

func TestCoordinator_LinkFailureIsIsolated(t *testing.T) {
	harness := newMeshHarness(t)
	policy := squadTable{"B": 0, "D": 1}
	for _, id := range []schema.ParticipantID{"A", "B", "C", "D"} {
		config := harness.baseConfig(id)
		config.SquadPolicy = policy
		harness.add(config)
	}
	harness.announce(map[schema.ParticipantID]float64{"A": 90, "B": 70, "C": 95, "D": 60})
	harness.joinOnElection()
	result := harness.host("A")
	harness.waitForTopology(result, policy)

	if err := harness.network.Fail("B", "C"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	harness.eventually("B reports the failure", func() bool {
		_, failed := harness.nodes["B"].observer.failures["C"]
		return failed
	})
	harness.eventually("C sees the link drop", func() bool {
		return errors.Is(harness.nodes["C"].observer.failures["B"], ErrPeerDisconnected)
	})

	harness.do(func() {
		if _, ok := harness.nodes["B"].coordinator.Peer("C"); ok {
			t.Error("B still lists C after the link failed")
		}
		if _, ok := harness.nodes["C"].coordinator.Peer("B"); ok {
			t.Error("C still lists B after the link dropped")
		}
		if !harness.connected("A", "C") || !harness.connected("D", "A") {
			t.Error("unrelated links were disturbed")
		}
		if len(harness.nodes["A"].observer.failures) != 0 || len(harness.nodes["D"].observer.failures) != 0 {
			t.Error("failure leaked to unrelated participants")
		}
	})
}

func TestCoordinator_DepartedPeerIsRemoved(t *testing.T) {
	harness := newMeshHarness(t)
	policy := squadTable{"B": 0, "D": 1}
	for _, id := range []schema.ParticipantID{"A", "B", "C", "D"} {
		config := harness.baseConfig(id)
		config.SquadPolicy = policy
		harness.add(config)
	}
	harness.announce(map[schema.ParticipantID]float64{"A": 90, "B": 70, "C": 95, "D": 60})
	harness.joinOnElection()
	result := harness.host("A")
	harness.waitForTopology(result, policy)

	countsBefore := make(map[schema.ParticipantID]int)
	harness.do(func() {
		for _, id := range []schema.ParticipantID{"A", "B"} {
			countsBefore[id] = len(harness.nodes[id].observer.counts)
		}
		harness.nodes["C"].coordinator.Close()
	})

	// A is C's backbone peer and B its squad player. D never linked
	// to C and keeps whatever it heard over signaling.
	harness.eventually("C's linked peers report the departure", func() bool {
		for _, id := range []schema.ParticipantID{"A", "B"} {
			if !errors.Is(harness.nodes[id].observer.failures["C"], ErrPeerDisconnected) {
				return false
			}
		}
		return true
	})

	harness.do(func() {
		for _, id := range []schema.ParticipantID{"A", "B"} {
			node := harness.nodes[id]
			if _, ok := node.coordinator.Peer("C"); ok {
				t.Errorf("%s still lists C after it left", id)
			}
			counts := node.observer.counts
			if len(counts) <= countsBefore[id] {
				t.Errorf("%s reported no peer count change after C left", id)
				continue
			}
			if last := counts[len(counts)-1]; last != node.coordinator.PeerCount() || last != 3 {
				t.Errorf("%s last peer count = %d, want 3", id, last)
			}
		}
		if !harness.connected("D", "A") || !harness.connected("A", "D") {
			t.Error("A-D link was disturbed by C leaving")
		}
		if len(harness.nodes["D"].observer.failures) != 0 {
			t.Errorf("D reported failures %v", harness.nodes["D"].observer.failures)
		}
	})
}

// offerHolder withholds each offer until the offerer's first candidate
// for the same pair has passed the relay, then re-sends the offer on
// the loop. The answerer therefore always sees a candidate before the
// offer it belongs to.
type offerHolder struct {
	relay *transport.MemoryRelay
	post  func(func()) bool

	mu       sync.Mutex
	held     map[[2]schema.ParticipantID]schema.ControlMessage
	released map[[2]schema.ParticipantID]bool
	reorders int
}

func (h *offerHolder) filter(message schema.ControlMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	pair := [2]schema.ParticipantID{message.From, message.To}
	switch message.Type {
	case schema.ControlOffer:
		if h.released[pair] {
			delete(h.released, pair)
			return 1
		}
		h.held[pair] = message
		return 0
	case schema.ControlICECandidate:
		offer, ok := h.held[pair]
		if !ok {
			return 1
		}
		delete(h.held, pair)
		h.released[pair] = true
		h.reorders++
		// Posted before the relay hands this candidate to subscribers,
		// so the re-sent offer is queued behind it.
		h.post(func() { h.relay.Send(offer) })
	}
	return 1
}

func TestCoordinator_ToleratesSignalingFaults(t *testing.T) {
	tests := []struct {
		name string
		// install sets up the relay fault and returns extra checks, or nil.
		install func(*meshHarness) func(*testing.T)
		// applied is how many offerer candidates each answering link
		// ends up applying.
		applied int
	}{
		{
			name: "every message duplicated",
			install: func(harness *meshHarness) func(*testing.T) {
				harness.relay.SetFilter(func(schema.ControlMessage) int { return 2 })
				return nil
			},
			applied: 2,
		},
		{
			name: "offer held behind its candidates",
			install: func(harness *meshHarness) func(*testing.T) {
				holder := &offerHolder{
					relay:    harness.relay,
					post:     harness.loop.Post,
					held:     make(map[[2]schema.ParticipantID]schema.ControlMessage),
					released: make(map[[2]schema.ParticipantID]bool),
				}
				harness.relay.SetFilter(holder.filter)
				return func(t *testing.T) {
					holder.mu.Lock()
					defer holder.mu.Unlock()
					if holder.reorders != 3 {
						t.Errorf("reordered %d offers, want 3", holder.reorders)
					}
					if len(holder.held) != 0 {
						t.Errorf("offers never released: %v", holder.held)
					}
				}
			},
			applied: 1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			harness := newMeshHarness(t)
			policy := squadTable{"B": 0, "D": 1}
			for _, id := range []schema.ParticipantID{"A", "B", "C", "D"} {
				config := harness.baseConfig(id)
				config.SquadPolicy = policy
				harness.add(config)
			}
			harness.announce(map[schema.ParticipantID]float64{"A": 90, "B": 70, "C": 95, "D": 60})
			verify := test.install(harness)
			harness.joinOnElection()

			result := harness.host("A")
			harness.waitForTopology(result, policy)

			offers := harness.network.Offers()
			wantOffers := []transport.OfferRecord{{From: "A", To: "C"}, {From: "B", To: "C"}, {From: "D", To: "A"}}
			if len(offers) != len(wantOffers) {
				t.Errorf("offers = %v, want exactly %v", offers, wantOffers)
			}
			for _, want := range wantOffers {
				if !slices.Contains(offers, want) {
					t.Errorf("missing offer %v in %v", want, offers)
				}
			}

			harness.do(func() {
				for id, node := range harness.nodes {
					if len(node.observer.failures) != 0 {
						t.Errorf("%s reported failures %v", id, node.observer.failures)
					}
				}
				for _, pair := range [][2]schema.ParticipantID{{"C", "A"}, {"C", "B"}, {"A", "D"}} {
					link := harness.network.Link(pair[0], pair[1])
					if link == nil {
						t.Errorf("no link %s -> %s", pair[0], pair[1])
						continue
					}
					if applied := link.AppliedCandidates(); applied != test.applied {
						t.Errorf("answerer %s applied %d candidates from %s, want %d", pair[0], applied, pair[1], test.applied)
					}
				}
			})

			// One answer per link: a repeated offer is not answered again.
			answers := 0
			for _, message := range harness.relay.Sent() {
				if message.Type == schema.ControlAnswer {
					answers++
				}
			}
			if answers != len(wantOffers) {
				t.Errorf("sent %d answers, want %d", answers, len(wantOffers))
			}
			if verify != nil {
				verify(t)
			}
		})
	}
}

func TestCoordinator_HandshakeTimeout(t *testing.T) {
	harness := newMeshHarness(t)
	harness.add(harness.baseConfig("A"))
	harness.add(harness.baseConfig("B"))
	harness.announce(map[schema.ParticipantID]float64{"A": 90, "B": 10})

	harness.relay.SetFilter(func(message schema.ControlMessage) int {
		if message.Type == schema.ControlAnswer {
			return 0
		}
		return 1
	})
	result := schema.ElectionResult{Anchors: []schema.ParticipantID{"A"}, Primary: "A"}
	harness.do(func() {
		for _, node := range harness.nodes {
			if _, err := node.coordinator.ApplyElection(result); err != nil {
				t.Errorf("ApplyElection: %v", err)
			}
		}
		if _, err := harness.nodes["B"].coordinator.ConnectMesh(); err != nil {
			t.Errorf("ConnectMesh: %v", err)
		}
	})

	// B arms a timer when it offers, A when it answers.
	harness.clock.WaitForTimers(2)
	harness.clock.Advance(20 * time.Second)

	harness.eventually("B times out its offer", func() bool {
		return errors.Is(harness.nodes["B"].observer.failures["A"], ErrHandshakeTimeout)
	})
	harness.do(func() {
		if _, ok := harness.nodes["B"].coordinator.Peer("A"); ok {
			t.Error("A still registered on B after handshake timeout")
		}
	})
}

func TestCoordinator_StalePeers(t *testing.T) {
	for _, evict := range []bool{true, false} {
		name := "log"
		if evict {
			name = "evict"
		}
		t.Run(name, func(t *testing.T) {
			harness := newMeshHarness(t)
			config := harness.baseConfig("A")
			config.HeartbeatInterval = 2 * time.Second
			config.StalePeerTimeout = 10 * time.Second
			config.EvictStalePeers = evict
			watcher := harness.add(config)
			harness.add(harness.baseConfig("B"))
			harness.announce(map[schema.ParticipantID]float64{"A": 1, "B": 2})

			harness.do(watcher.coordinator.Start)
			for range 6 {
				harness.clock.WaitForTimers(1)
				harness.clock.Advance(2 * time.Second)
			}
			harness.clock.WaitForTimers(1)

			harness.do(func() {
				_, present := watcher.coordinator.Peer("B")
				failure := watcher.observer.failures["B"]
				if evict {
					if present || !errors.Is(failure, ErrPeerStale) {
						t.Errorf("B present=%v failure=%v, want evicted with ErrPeerStale", present, failure)
					}
					return
				}
				if !present || failure != nil {
					t.Errorf("B present=%v failure=%v, want kept", present, failure)
				}
			})
		})
	}
}

func TestCoordinator_ParticipantCap(t *testing.T) {
	harness := newMeshHarness(t)
	config := harness.baseConfig("A")
	config.MaxParticipants = 2
	capped := harness.add(config)

	harness.do(func() {
		for _, id := range []schema.ParticipantID{"B", "C"} {
			message, err := schema.NewControlMessage(schema.ControlHeartbeat, id, schema.Broadcast, testMatchID, nil, harness.clock.Now())
			if err != nil {
				t.Errorf("NewControlMessage: %v", err)
				return
			}
			capped.coordinator.HandleControl(message)
		}
		if count := capped.coordinator.PeerCount(); count != 2 {
			t.Errorf("PeerCount = %d, want 2", count)
		}
		if _, ok := capped.coordinator.Peer("C"); ok {
			t.Error("C admitted beyond the participant cap")
		}
	})
}

func TestCoordinator_AnchorResultHandling(t *testing.T) {
	harness := newMeshHarness(t)
	node := harness.add(harness.baseConfig("A"))
	result := schema.ElectionResult{Anchors: []schema.ParticipantID{"B"}, Primary: "B"}
	other := schema.ElectionResult{Anchors: []schema.ParticipantID{"C"}, Primary: "C"}

	send := func(payload schema.AnchorResultPayload) {
		message, err := schema.NewControlMessage(schema.ControlAnchorResult, "B", schema.Broadcast, testMatchID, payload, harness.clock.Now())
		if err != nil {
			t.Errorf("NewControlMessage: %v", err)
			return
		}
		node.coordinator.HandleControl(message)
	}

	harness.do(func() {
		send(schema.AnchorResultPayload{Anchors: result.Anchors, Primary: result.Primary, Digest: Digest(other)})
		send(schema.AnchorResultPayload{Anchors: []schema.ParticipantID{"B", "B"}, Primary: "B"})
		if len(node.observer.elections) != 0 {
			t.Errorf("invalid results were accepted: %v", node.observer.elections)
			return
		}

		send(schema.AnchorResultPayload{Anchors: result.Anchors, Primary: result.Primary, Digest: Digest(result)})
		send(schema.AnchorResultPayload{Anchors: result.Anchors, Primary: result.Primary})
		send(schema.AnchorResultPayload{Anchors: other.Anchors, Primary: other.Primary})
		if len(node.observer.elections) != 1 || !node.observer.elections[0].Equal(result) {
			t.Errorf("elections = %v, want only %v", node.observer.elections, result)
		}
	})
}

func TestCoordinator_IgnoresForeignMessages(t *testing.T) {
	harness := newMeshHarness(t)
	node := harness.add(harness.baseConfig("A"))

	harness.do(func() {
		for _, message := range []schema.ControlMessage{
			{Type: schema.ControlHeartbeat, From: "A", To: schema.Broadcast, MatchID: testMatchID},
			{Type: schema.ControlHeartbeat, From: "B", To: "Z", MatchID: testMatchID},
			{Type: schema.ControlHeartbeat, From: "B", To: schema.Broadcast, MatchID: "other-match"},
		} {
			node.coordinator.HandleControl(message)
		}
		if count := node.coordinator.PeerCount(); count != 1 {
			t.Errorf("PeerCount = %d, want 1", count)
		}
	})
}

func TestCoordinator_LateJoinerReceivesElection(t *testing.T) {
	harness := newMeshHarness(t)
	host := harness.add(harness.baseConfig("A"))
	harness.announce(map[schema.ParticipantID]float64{"A": 50})
	harness.host("A")

	late := harness.add(harness.baseConfig("B"))
	harness.do(func() {
		late.coordinator.SetLocalQuality(schema.QualityReport{Score: 1})
		late.coordinator.BroadcastQuality()
	})
	harness.eventually("late joiner hears the election", func() bool {
		return len(late.observer.elections) == 1
	})
	harness.do(func() {
		peer, ok := host.coordinator.Peer("B")
		if !ok || peer.Role != schema.RolePlayer || peer.Squad != 0 {
			t.Errorf("host sees B as %+v", peer)
		}
	})
}

func TestNewCoordinator_Validates(t *testing.T) {
	if _, err := NewCoordinator(Config{}); err == nil {
		t.Fatal("empty config accepted")
	}
}
