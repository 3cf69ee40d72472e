// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides anchormesh's binary encoding for peer links.
//
// Signaling control messages are JSON (see lib/schema). Everything that
// travels over a data channel is CBOR, encoded with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer encoding,
// no indefinite-length items. Same logical data always produces
// identical bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Snapshot and event payloads may additionally be compressed before
// framing. [Compression] names the algorithm: LZ4 block mode is the
// default for game state (cheap to decode at tick rate), zstd trades
// CPU for ratio on larger, text-like payloads. [Compress] reports
// [ErrIncompressible] when the output would not be smaller, and callers
// then send the payload raw.
package codec
