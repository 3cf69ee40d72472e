// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Compile-time interface checks.
var (
	_ PeerLink    = (*MemoryLink)(nil)
	_ LinkFactory = (*MemoryNetwork)(nil)
)

// MemoryNetwork connects MemoryLinks within one process. Handshake
// blobs are small JSON records and every link emits one candidate, so
// the full offer, answer, and candidate exchange runs through the
// relay exactly as it does for WebRTC. Frames are encoded and decoded
// with the configured FrameCodec.
//
// All links of a network share one lock, and callbacks run while it is
// held. Callbacks must only hand work off (for example, post to an
// event loop).
type MemoryNetwork struct {
	frames FrameCodec

	mu     sync.Mutex
	links  map[linkKey]*MemoryLink
	offers []OfferRecord

	// dropUnreliable, when set, decides whether an unreliable message
	// is lost in transit.
	dropUnreliable func(from, to schema.ParticipantID, message schema.SyncMessage) bool
}

// OfferRecord notes one CreateOffer call.
type OfferRecord struct {
	From schema.ParticipantID
	To   schema.ParticipantID
}

type linkKey struct {
	local  schema.ParticipantID
	remote schema.ParticipantID
}

// memoryDescription is the handshake blob of a MemoryLink.
type memoryDescription struct {
	Type string               `json:"type"`
	From schema.ParticipantID `json:"from"`
	To   schema.ParticipantID `json:"to"`
}

// memoryCandidate is the candidate blob of a MemoryLink.
type memoryCandidate struct {
	From schema.ParticipantID `json:"from"`
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork(frames FrameCodec) *MemoryNetwork {
	return &MemoryNetwork{frames: frames, links: make(map[linkKey]*MemoryLink)}
}

// NewLink creates a link from local to remote. An existing link for the
// same pair is replaced and closed.
func (n *MemoryNetwork) NewLink(local, remote schema.ParticipantID, callbacks LinkCallbacks) (PeerLink, error) {
	if local == remote {
		return nil, fmt.Errorf("cannot link %s to itself", local)
	}
	link := &MemoryLink{
		network:   n,
		local:     local,
		remote:    remote,
		callbacks: callbacks,
		state:     newLinkState(callbacks.OnState),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	key := linkKey{local: local, remote: remote}
	if previous, ok := n.links[key]; ok {
		previous.closeLocked()
	}
	n.links[key] = link
	return link, nil
}

// Offers returns every CreateOffer call made on this network, in order.
func (n *MemoryNetwork) Offers() []OfferRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]OfferRecord(nil), n.offers...)
}

// Link returns the current link from local to remote, or nil.
func (n *MemoryNetwork) Link(local, remote schema.ParticipantID) *MemoryLink {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.links[linkKey{local: local, remote: remote}]
}

// SetUnreliableDrop installs a loss model for unreliable sends. nil
// delivers every message.
func (n *MemoryNetwork) SetUnreliableDrop(drop func(from, to schema.ParticipantID, message schema.SyncMessage) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropUnreliable = drop
}

// Fail forces the link from local to remote into StateFailed, as if its
// transport had broken. The remote end observes a disconnect.
func (n *MemoryNetwork) Fail(local, remote schema.ParticipantID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	link, ok := n.links[linkKey{local: local, remote: remote}]
	if !ok {
		return fmt.Errorf("no link from %s to %s", local, remote)
	}
	if !link.state.advance(schema.StateFailed, errors.New("injected link failure")) {
		return fmt.Errorf("link from %s to %s is already %s", local, remote, link.state.current)
	}
	link.closed = true
	if counterpart := link.counterpartLocked(); counterpart != nil && !counterpart.closed {
		counterpart.state.advance(schema.StateDisconnected, nil)
	}
	return nil
}

// MemoryLink is a PeerLink within a MemoryNetwork.
type MemoryLink struct {
	network   *MemoryNetwork
	local     schema.ParticipantID
	remote    schema.ParticipantID
	callbacks LinkCallbacks

	// Guarded by network.mu.
	state             linkState
	remoteDescription bool
	pendingCandidates []schema.Blob
	appliedCandidates int
	closed            bool
}

// Remote returns the remote participant.
func (l *MemoryLink) Remote() schema.ParticipantID { return l.remote }

// State returns the current connection state.
func (l *MemoryLink) State() schema.ConnectionState {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	return l.state.current
}

// AppliedCandidates returns how many remote candidates have been
// applied (buffered ones excluded).
func (l *MemoryLink) AppliedCandidates() int {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	return l.appliedCandidates
}

// CreateOffer starts negotiation.
func (l *MemoryLink) CreateOffer() (schema.Blob, error) {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}
	l.network.offers = append(l.network.offers, OfferRecord{From: l.local, To: l.remote})
	l.state.advance(schema.StateNegotiating, nil)
	l.emitCandidateLocked()
	return json.Marshal(memoryDescription{Type: "offer", From: l.local, To: l.remote})
}

// HandleOffer accepts an offer from the remote participant.
func (l *MemoryLink) HandleOffer(offer schema.Blob) (schema.Blob, error) {
	if err := l.checkDescription(offer, "offer"); err != nil {
		return nil, err
	}
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}
	l.state.advance(schema.StateNegotiating, nil)
	l.setRemoteDescriptionLocked()
	l.emitCandidateLocked()
	return json.Marshal(memoryDescription{Type: "answer", From: l.local, To: l.remote})
}

// HandleAnswer completes the handshake. Both ends become connected if
// the remote end is still negotiating with this link.
func (l *MemoryLink) HandleAnswer(answer schema.Blob) error {
	if err := l.checkDescription(answer, "answer"); err != nil {
		return err
	}
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.state.current != schema.StateNegotiating {
		return fmt.Errorf("answer from %s without a pending offer", l.remote)
	}
	l.setRemoteDescriptionLocked()

	counterpart := l.counterpartLocked()
	if counterpart == nil || counterpart.closed || !counterpart.remoteDescription {
		l.state.advance(schema.StateFailed, fmt.Errorf("%s has no answering link", l.remote))
		l.closed = true
		return nil
	}
	l.state.advance(schema.StateConnected, nil)
	counterpart.state.advance(schema.StateConnected, nil)
	return nil
}

// AddCandidate applies or buffers a remote candidate.
func (l *MemoryLink) AddCandidate(candidate schema.Blob) error {
	var decoded memoryCandidate
	if err := json.Unmarshal(candidate, &decoded); err != nil {
		return fmt.Errorf("decoding candidate: %w", err)
	}
	if decoded.From != l.remote {
		return fmt.Errorf("candidate from %s on link to %s", decoded.From, l.remote)
	}
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if !l.remoteDescription {
		l.pendingCandidates = append(l.pendingCandidates, candidate)
		return nil
	}
	l.appliedCandidates++
	return nil
}

// SendUnreliable delivers message unless the network's loss model drops
// it.
func (l *MemoryLink) SendUnreliable(message schema.SyncMessage) bool {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if l.network.dropUnreliable != nil && l.network.dropUnreliable(l.local, l.remote, message) {
		return l.state.current == schema.StateConnected
	}
	return l.deliverLocked(message)
}

// SendReliable delivers message.
func (l *MemoryLink) SendReliable(message schema.SyncMessage) bool {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	return l.deliverLocked(message)
}

func (l *MemoryLink) deliverLocked(message schema.SyncMessage) bool {
	if l.closed || l.state.current != schema.StateConnected {
		return false
	}
	counterpart := l.counterpartLocked()
	if counterpart == nil || counterpart.closed {
		return false
	}
	data, err := l.network.frames.Encode(message)
	if err != nil {
		return false
	}
	decoded, err := DecodeFrame(data)
	if err != nil {
		return false
	}
	if counterpart.callbacks.OnMessage != nil {
		counterpart.callbacks.OnMessage(decoded)
	}
	return true
}

// Close disconnects both ends.
func (l *MemoryLink) Close() error {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	l.closeLocked()
	return nil
}

func (l *MemoryLink) closeLocked() {
	if l.closed {
		return
	}
	l.closed = true
	wasConnected := l.state.current == schema.StateConnected
	l.state.advance(schema.StateDisconnected, nil)
	if counterpart := l.counterpartLocked(); wasConnected && counterpart != nil && !counterpart.closed {
		counterpart.state.advance(schema.StateDisconnected, nil)
	}
	key := linkKey{local: l.local, remote: l.remote}
	if l.network.links[key] == l {
		delete(l.network.links, key)
	}
}

func (l *MemoryLink) counterpartLocked() *MemoryLink {
	return l.network.links[linkKey{local: l.remote, remote: l.local}]
}

func (l *MemoryLink) setRemoteDescriptionLocked() {
	l.remoteDescription = true
	l.appliedCandidates += len(l.pendingCandidates)
	l.pendingCandidates = nil
}

func (l *MemoryLink) emitCandidateLocked() {
	if l.callbacks.OnCandidate == nil {
		return
	}
	blob, err := json.Marshal(memoryCandidate{From: l.local})
	if err != nil {
		return
	}
	l.callbacks.OnCandidate(blob)
}

func (l *MemoryLink) checkDescription(blob schema.Blob, want string) error {
	var description memoryDescription
	if err := json.Unmarshal(blob, &description); err != nil {
		return fmt.Errorf("decoding %s: %w", want, err)
	}
	if description.Type != want {
		return fmt.Errorf("expected %s, got %q", want, description.Type)
	}
	if description.From != l.remote || description.To != l.local {
		return fmt.Errorf("%s from %s to %s delivered on link %s->%s",
			want, description.From, description.To, l.local, l.remote)
	}
	return nil
}
