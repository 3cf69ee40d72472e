// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// Data channel labels. The offering side creates both channels; the
// answering side receives them through OnDataChannel.
const (
	stateChannelLabel = "state"
	eventChannelLabel = "event"
)

// Compile-time interface checks.
var (
	_ PeerLink    = (*WebRTCLink)(nil)
	_ LinkFactory = (*WebRTCFactory)(nil)
)

// WebRTCFactory creates WebRTCLinks sharing one pion API instance.
type WebRTCFactory struct {
	api    *webrtc.API
	ice    ICEConfig
	frames FrameCodec
	logger *slog.Logger
}

// NewWebRTCFactory creates a factory. Loopback candidates are included
// so that participants on one machine (and tests) can connect.
func NewWebRTCFactory(ice ICEConfig, frames FrameCodec, logger *slog.Logger) *WebRTCFactory {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	return &WebRTCFactory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		ice:    ice,
		frames: frames,
		logger: logger,
	}
}

// NewLink creates a PeerConnection to remote. No network activity
// happens until CreateOffer or HandleOffer.
func (f *WebRTCFactory) NewLink(local, remote schema.ParticipantID, callbacks LinkCallbacks) (PeerLink, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: f.ice.Servers})
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection to %s: %w", remote, err)
	}

	link := &WebRTCLink{
		connection: pc,
		local:      local,
		remote:     remote,
		frames:     f.frames,
		callbacks:  callbacks,
		logger:     f.logger.With("peer", string(remote)),
	}
	link.state = newLinkState(callbacks.OnState)

	pc.OnICECandidate(link.handleLocalCandidate)
	pc.OnConnectionStateChange(link.handleConnectionState)
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		link.mu.Lock()
		defer link.mu.Unlock()
		link.attachChannelLocked(dc)
	})
	return link, nil
}

// WebRTCLink is a PeerLink over a pion PeerConnection with two data
// channels. It uses trickle ICE: local candidates are reported through
// OnCandidate as pion gathers them.
type WebRTCLink struct {
	connection *webrtc.PeerConnection
	local      schema.ParticipantID
	remote     schema.ParticipantID
	frames     FrameCodec
	callbacks  LinkCallbacks
	logger     *slog.Logger

	// mu serializes pion callbacks against coordinator calls, and
	// guarantees callbacks for this link never run concurrently.
	mu                sync.Mutex
	state             linkState
	stateChannel      *webrtc.DataChannel
	eventChannel      *webrtc.DataChannel
	peerConnected     bool
	pendingCandidates []webrtc.ICECandidateInit
	closed            bool
}

// Remote returns the remote participant.
func (l *WebRTCLink) Remote() schema.ParticipantID { return l.remote }

// State returns the current connection state.
func (l *WebRTCLink) State() schema.ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.current
}

// CreateOffer creates both data channels and returns the SDP offer.
func (l *WebRTCLink) CreateOffer() (schema.Blob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}

	unordered := false
	var noRetransmits uint16
	stateChannel, err := l.connection.CreateDataChannel(stateChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &unordered,
		MaxRetransmits: &noRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s data channel: %w", stateChannelLabel, err)
	}
	ordered := true
	eventChannel, err := l.connection.CreateDataChannel(eventChannelLabel, &webrtc.DataChannelInit{
		Ordered: &ordered,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s data channel: %w", eventChannelLabel, err)
	}
	l.attachChannelLocked(stateChannel)
	l.attachChannelLocked(eventChannel)

	offer, err := l.connection.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := l.connection.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	l.state.advance(schema.StateNegotiating, nil)
	return encodeDescription(offer)
}

// HandleOffer applies the remote offer and returns the SDP answer.
func (l *WebRTCLink) HandleOffer(offer schema.Blob) (schema.Blob, error) {
	description, err := decodeDescription(offer, webrtc.SDPTypeOffer)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrLinkClosed
	}
	if err := l.connection.SetRemoteDescription(description); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}
	l.state.advance(schema.StateNegotiating, nil)
	l.flushCandidatesLocked()

	answer, err := l.connection.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := l.connection.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("setting local description: %w", err)
	}
	return encodeDescription(answer)
}

// HandleAnswer applies the remote answer.
func (l *WebRTCLink) HandleAnswer(answer schema.Blob) error {
	description, err := decodeDescription(answer, webrtc.SDPTypeAnswer)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if err := l.connection.SetRemoteDescription(description); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	l.flushCandidatesLocked()
	return nil
}

// AddCandidate applies a trickled remote candidate, or buffers it when
// the remote description has not been set yet.
func (l *WebRTCLink) AddCandidate(candidate schema.Blob) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decoding ICE candidate: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	if l.connection.RemoteDescription() == nil {
		l.pendingCandidates = append(l.pendingCandidates, init)
		return nil
	}
	if err := l.connection.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding ICE candidate: %w", err)
	}
	return nil
}

// flushCandidatesLocked applies buffered candidates after the remote
// description is set. A candidate pion rejects is logged and skipped.
func (l *WebRTCLink) flushCandidatesLocked() {
	pending := l.pendingCandidates
	l.pendingCandidates = nil
	for _, init := range pending {
		if err := l.connection.AddICECandidate(init); err != nil {
			l.logger.Warn("buffered ICE candidate rejected", "error", err)
		}
	}
}

// SendUnreliable sends on the unordered, no-retransmit channel.
func (l *WebRTCLink) SendUnreliable(message schema.SyncMessage) bool {
	l.mu.Lock()
	channel := l.stateChannel
	l.mu.Unlock()
	return l.send(channel, message) == nil
}

// SendReliable sends on the ordered, reliable channel. A send error
// fails the link.
func (l *WebRTCLink) SendReliable(message schema.SyncMessage) bool {
	l.mu.Lock()
	channel := l.eventChannel
	l.mu.Unlock()
	if err := l.send(channel, message); err != nil {
		if !errors.Is(err, ErrLinkClosed) {
			l.mu.Lock()
			l.state.advance(schema.StateFailed, err)
			l.mu.Unlock()
		}
		return false
	}
	return true
}

func (l *WebRTCLink) send(channel *webrtc.DataChannel, message schema.SyncMessage) error {
	if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrLinkClosed
	}
	data, err := l.frames.Encode(message)
	if err != nil {
		return err
	}
	if err := channel.Send(data); err != nil {
		return fmt.Errorf("sending %s frame: %w", message.Kind, err)
	}
	return nil
}

// Close closes the PeerConnection.
func (l *WebRTCLink) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.state.advance(schema.StateDisconnected, nil)
	l.mu.Unlock()

	// pion fires state callbacks from Close; they observe closed and
	// return without taking further action.
	return l.connection.Close()
}

// attachChannelLocked registers handlers on one of the link's two data
// channels. Channels with unexpected labels are closed.
func (l *WebRTCLink) attachChannelLocked(dc *webrtc.DataChannel) {
	switch dc.Label() {
	case stateChannelLabel:
		l.stateChannel = dc
	case eventChannelLabel:
		l.eventChannel = dc
	default:
		l.logger.Warn("closing unexpected data channel", "label", dc.Label())
		dc.OnOpen(func() { dc.Close() })
		return
	}

	dc.OnOpen(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.logger.Debug("data channel opened", "label", dc.Label())
		l.updateConnectedLocked()
	})
	dc.OnMessage(func(message webrtc.DataChannelMessage) {
		decoded, err := DecodeFrame(message.Data)
		if err != nil {
			l.logger.Debug("dropping malformed frame", "label", dc.Label(), "error", err)
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed || l.callbacks.OnMessage == nil {
			return
		}
		l.callbacks.OnMessage(decoded)
	})
}

// updateConnectedLocked reports connected once the PeerConnection is up
// and both data channels are open.
func (l *WebRTCLink) updateConnectedLocked() {
	if l.closed || !l.peerConnected {
		return
	}
	for _, channel := range []*webrtc.DataChannel{l.stateChannel, l.eventChannel} {
		if channel == nil || channel.ReadyState() != webrtc.DataChannelStateOpen {
			return
		}
	}
	l.state.advance(schema.StateConnected, nil)
}

func (l *WebRTCLink) handleLocalCandidate(candidate *webrtc.ICECandidate) {
	// A nil candidate marks the end of gathering.
	if candidate == nil {
		return
	}
	blob, err := json.Marshal(candidate.ToJSON())
	if err != nil {
		l.logger.Warn("encoding local ICE candidate failed", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.callbacks.OnCandidate == nil {
		return
	}
	l.callbacks.OnCandidate(blob)
}

func (l *WebRTCLink) handleConnectionState(state webrtc.PeerConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.logger.Debug("peer connection state change", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		l.peerConnected = true
		l.updateConnectedLocked()
	case webrtc.PeerConnectionStateDisconnected:
		// ICE may recover from disconnected; Failed or Closed follows
		// if it does not.
		l.logger.Info("peer connection interrupted", "remote", string(l.remote))
	case webrtc.PeerConnectionStateFailed:
		l.peerConnected = false
		l.state.advance(schema.StateFailed, fmt.Errorf("peer connection to %s failed", l.remote))
	case webrtc.PeerConnectionStateClosed:
		l.peerConnected = false
		l.state.advance(schema.StateDisconnected, nil)
	}
}

func encodeDescription(description webrtc.SessionDescription) (schema.Blob, error) {
	blob, err := json.Marshal(description)
	if err != nil {
		return nil, fmt.Errorf("encoding session description: %w", err)
	}
	return blob, nil
}

func decodeDescription(blob schema.Blob, want webrtc.SDPType) (webrtc.SessionDescription, error) {
	var description webrtc.SessionDescription
	if err := json.Unmarshal(blob, &description); err != nil {
		return description, fmt.Errorf("decoding session description: %w", err)
	}
	if description.Type != want {
		return description, fmt.Errorf("expected SDP %s, got %s", want, description.Type)
	}
	return description, nil
}
