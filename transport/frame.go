// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/anchormesh/lib/codec"
	"github.com/bureau-foundation/anchormesh/lib/schema"
)

// wireFrame is the CBOR form of a SyncMessage on a data channel.
type wireFrame struct {
	Kind        schema.SyncKind      `cbor:"kind"`
	Source      schema.ParticipantID `cbor:"source"`
	Sequence    uint64               `cbor:"seq"`
	Timestamp   int64                `cbor:"ts"`
	Compression codec.Compression    `cbor:"z,omitempty"`
	RawSize     int                  `cbor:"n,omitempty"`
	Payload     []byte               `cbor:"payload"`
}

// FrameCodec encodes sync messages for the wire.
type FrameCodec struct {
	// Compression is applied to payloads of at least Threshold bytes.
	Compression codec.Compression
	Threshold   int
}

// Encode returns the frame bytes for message. Payloads that do not
// shrink under compression are sent raw.
func (c FrameCodec) Encode(message schema.SyncMessage) ([]byte, error) {
	frame := wireFrame{
		Kind:      message.Kind,
		Source:    message.Source,
		Sequence:  message.Sequence,
		Timestamp: message.Timestamp,
		Payload:   message.Payload,
	}
	if c.Compression != codec.CompressionNone && len(message.Payload) >= c.Threshold && len(message.Payload) > 0 {
		compressed, err := codec.Compress(message.Payload, c.Compression)
		switch {
		case err == nil:
			frame.Compression = c.Compression
			frame.RawSize = len(message.Payload)
			frame.Payload = compressed
		case errors.Is(err, codec.ErrIncompressible):
		default:
			return nil, fmt.Errorf("compressing %s frame: %w", message.Kind, err)
		}
	}
	return codec.Marshal(frame)
}

// DecodeFrame parses frame bytes produced by any FrameCodec.
func DecodeFrame(data []byte) (schema.SyncMessage, error) {
	var frame wireFrame
	if err := codec.Unmarshal(data, &frame); err != nil {
		return schema.SyncMessage{}, fmt.Errorf("decoding frame: %w", err)
	}
	if frame.Kind != schema.SyncState && frame.Kind != schema.SyncEvent {
		return schema.SyncMessage{}, fmt.Errorf("decoding frame: unknown kind %d", frame.Kind)
	}
	payload := frame.Payload
	if frame.Compression != codec.CompressionNone {
		decompressed, err := codec.Decompress(frame.Payload, frame.Compression, frame.RawSize)
		if err != nil {
			return schema.SyncMessage{}, fmt.Errorf("decoding %s frame from %s: %w", frame.Kind, frame.Source, err)
		}
		payload = decompressed
	}
	return schema.SyncMessage{
		Kind:      frame.Kind,
		Source:    frame.Source,
		Sequence:  frame.Sequence,
		Timestamp: frame.Timestamp,
		Payload:   payload,
	}, nil
}
