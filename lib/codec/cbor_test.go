// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sampleChunk struct {
	AgentID string   `cbor:"agent"`
	Methods []string `cbor:"methods"`
	Count   int      `cbor:"count"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleChunk{AgentID: "agent-1", Methods: []string{"a", "b"}, Count: 2}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleChunk
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.AgentID != original.AgentID || decoded.Count != original.Count || len(decoded.Methods) != 2 {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministicMapOrder(t *testing.T) {
	first, err := Marshal(map[string]int{"z": 1, "a": 2, "m": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(map[string]int{"m": 3, "z": 1, "a": 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestDecodeAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"nested": map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["nested"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["nested"])
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var stream bytes.Buffer
	encoder := NewEncoder(&stream)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(sampleChunk{Count: i}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&stream)
	for i := 0; i < 3; i++ {
		var decoded sampleChunk
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if decoded.Count != i {
			t.Fatalf("message %d: Count = %d", i, decoded.Count)
		}
	}
}
