// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ControlType is the type discriminator of a signaling message.
type ControlType string

const (
	ControlQualityReport ControlType = "quality-report"
	ControlAnchorResult  ControlType = "anchor-result"
	ControlOffer         ControlType = "offer"
	ControlAnswer        ControlType = "answer"
	ControlICECandidate  ControlType = "ice-candidate"
	ControlHeartbeat     ControlType = "heartbeat"
)

// Known reports whether t is one of the defined control types.
func (t ControlType) Known() bool {
	switch t {
	case ControlQualityReport, ControlAnchorResult, ControlOffer,
		ControlAnswer, ControlICECandidate, ControlHeartbeat:
		return true
	}
	return false
}

// Blob is opaque handshake material (a session description or an ICE
// candidate). The mesh never looks inside; it is carried through
// signaling byte for byte. A Blob must be valid JSON because it is
// embedded verbatim as a control message payload.
type Blob = json.RawMessage

// ControlMessage is one record on the signaling relay. Delivery is
// best-effort: messages may be lost, duplicated, or reordered, so every
// handler must be idempotent.
type ControlMessage struct {
	Type    ControlType     `json:"type"`
	From    ParticipantID   `json:"from"`
	To      ParticipantID   `json:"to"`
	MatchID string          `json:"matchId"`
	Payload json.RawMessage `json:"payload,omitempty"`

	// Timestamp is the sender's wall clock in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewControlMessage builds a control message, JSON-encoding payload.
// A nil payload produces an empty payload (used by heartbeats). A Blob
// payload is embedded unchanged.
func NewControlMessage(controlType ControlType, from, to ParticipantID, matchID string, payload any, now time.Time) (ControlMessage, error) {
	message := ControlMessage{
		Type:      controlType,
		From:      from,
		To:        to,
		MatchID:   matchID,
		Timestamp: now.UnixMilli(),
	}
	switch typed := payload.(type) {
	case nil:
	case Blob:
		message.Payload = typed
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return ControlMessage{}, fmt.Errorf("encoding %s payload: %w", controlType, err)
		}
		message.Payload = data
	}
	return message, nil
}

// AddressedTo reports whether the message targets local, either
// directly or by broadcast.
func (m ControlMessage) AddressedTo(local ParticipantID) bool {
	return m.To.IsBroadcast() || m.To == local
}

// DecodePayload unmarshals the JSON payload into target.
func (m ControlMessage) DecodePayload(target any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message from %s has no payload", m.Type, m.From)
	}
	if err := json.Unmarshal(m.Payload, target); err != nil {
		return fmt.Errorf("decoding %s payload from %s: %w", m.Type, m.From, err)
	}
	return nil
}

// Validate checks the envelope fields every handler relies on. It does
// not inspect the payload.
func (m ControlMessage) Validate() error {
	var errs []error
	if !m.Type.Known() {
		errs = append(errs, fmt.Errorf("unknown control type %q", m.Type))
	}
	if m.From == "" || m.From.IsBroadcast() {
		errs = append(errs, fmt.Errorf("invalid sender %q", m.From))
	}
	if m.To == "" {
		errs = append(errs, errors.New("missing recipient"))
	}
	if m.MatchID == "" {
		errs = append(errs, errors.New("missing match id"))
	}
	return errors.Join(errs...)
}

// MarshalControl encodes a control message for the relay wire.
func MarshalControl(message ControlMessage) ([]byte, error) {
	return json.Marshal(message)
}

// UnmarshalControl decodes and validates a control message from the
// relay wire.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var message ControlMessage
	if err := json.Unmarshal(data, &message); err != nil {
		return ControlMessage{}, fmt.Errorf("decoding control message: %w", err)
	}
	if err := message.Validate(); err != nil {
		return ControlMessage{}, err
	}
	return message, nil
}
