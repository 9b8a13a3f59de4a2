// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"encoding/hex"
	"fmt"

	"github.com/bureau-foundation/tracebuffer/lib/codec"
)

// TraceID is the 16-byte identifier shared by every span of one
// distributed transaction. On the wire it is a raw CBOR byte string.
type TraceID [16]byte

// SpanID is the 8-byte identifier of one span within a trace.
type SpanID [8]byte

// ParseTraceID parses 32 hex characters.
func ParseTraceID(text string) (TraceID, error) {
	var id TraceID
	if err := decodeHex(id[:], text, "TraceID"); err != nil {
		return TraceID{}, err
	}
	return id, nil
}

// ParseSpanID parses 16 hex characters.
func ParseSpanID(text string) (SpanID, error) {
	var id SpanID
	if err := decodeHex(id[:], text, "SpanID"); err != nil {
		return SpanID{}, err
	}
	return id, nil
}

func decodeHex(destination []byte, text, name string) error {
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return fmt.Errorf("invalid %s hex: %w", name, err)
	}
	if len(decoded) != len(destination) {
		return fmt.Errorf("invalid %s: expected %d bytes, got %d", name, len(destination), len(decoded))
	}
	copy(destination, decoded)
	return nil
}

func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id was never set.
func (id TraceID) IsZero() bool { return id == TraceID{} }

func (id TraceID) MarshalCBOR() ([]byte, error) { return codec.Marshal(id[:]) }

func (id *TraceID) UnmarshalCBOR(data []byte) error {
	return unmarshalFixed(id[:], data, "TraceID")
}

func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether id was never set.
func (id SpanID) IsZero() bool { return id == SpanID{} }

func (id SpanID) MarshalCBOR() ([]byte, error) { return codec.Marshal(id[:]) }

func (id *SpanID) UnmarshalCBOR(data []byte) error {
	return unmarshalFixed(id[:], data, "SpanID")
}

func unmarshalFixed(destination, data []byte, name string) error {
	var raw []byte
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid %s CBOR: %w", name, err)
	}
	if len(raw) != len(destination) {
		return fmt.Errorf("invalid %s: expected %d bytes, got %d", name, len(destination), len(raw))
	}
	copy(destination, raw)
	return nil
}

// Key identifies the buffer that owns a trace's events. It is the
// repository key for every storage in the pipeline. AsyncID is zero
// except where one async sub-execution needs a buffer of its own.
type Key struct {
	TraceID TraceID
	SpanID  SpanID
	AsyncID int32
}

// Span returns k without its async id.
func (k Key) Span() Key {
	k.AsyncID = 0
	return k
}

func (k Key) String() string {
	if k.AsyncID != 0 {
		return fmt.Sprintf("%s/%s#%d", k.TraceID, k.SpanID, k.AsyncID)
	}
	return k.TraceID.String() + "/" + k.SpanID.String()
}
