// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestMarshal_Deterministic(t *testing.T) {
	first := map[string]int{"zulu": 1, "alpha": 2, "mike": 3}
	second := map[string]int{"mike": 3, "alpha": 2, "zulu": 1}

	a, err := Marshal(first)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(second)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("encodings differ:\n%x\n%x", a, b)
	}
}

func TestUnmarshal_AnyMapsAreStringKeyed(t *testing.T) {
	data, err := Marshal(map[string]any{"health": 100, "name": "alpha"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Errorf("decoded %T, want map[string]any", decoded)
	}
}

func TestCompress_RoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat(`{"x":1.25,"y":-4.5,"alive":true}`, 64))

	for _, algorithm := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(algorithm.String(), func(t *testing.T) {
			compressed, err := Compress(payload, algorithm)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if len(compressed) >= len(payload) {
				t.Fatalf("compressed %d bytes, input %d", len(compressed), len(payload))
			}
			restored, err := Decompress(compressed, algorithm, len(payload))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(restored, payload) {
				t.Error("round trip changed the payload")
			}
		})
	}
}

func TestCompress_Incompressible(t *testing.T) {
	// Short high-entropy input: no algorithm can shrink it.
	payload := []byte{0x8f, 0x12, 0xa7, 0x33, 0x01, 0xfe, 0x5c, 0x90}
	for _, algorithm := range []Compression{CompressionLZ4, CompressionZstd} {
		if _, err := Compress(payload, algorithm); !errors.Is(err, ErrIncompressible) {
			t.Errorf("%s: err = %v, want ErrIncompressible", algorithm, err)
		}
	}
}

func TestDecompress_SizeChecks(t *testing.T) {
	if _, err := Decompress([]byte("abc"), CompressionNone, 4); err == nil {
		t.Error("expected size mismatch error for raw payload")
	}
	if _, err := Decompress(nil, CompressionLZ4, MaxDecompressedSize+1); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		name    string
		want    Compression
		wantErr bool
	}{
		{"", CompressionNone, false},
		{"none", CompressionNone, false},
		{"lz4", CompressionLZ4, false},
		{"zstd", CompressionZstd, false},
		{"gzip", 0, true},
	}
	for _, test := range tests {
		got, err := ParseCompression(test.name)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseCompression(%q) error = %v, wantErr %v", test.name, err, test.wantErr)
			continue
		}
		if got != test.want {
			t.Errorf("ParseCompression(%q) = %s, want %s", test.name, got, test.want)
		}
	}
}
