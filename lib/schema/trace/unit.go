// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import "fmt"

// Kind tags a wire unit so that a receiver can decode the body without
// guessing. Values are part of the frame format and must not be
// renumbered.
type Kind uint8

const (
	KindTrace        Kind = 1
	KindPartialChunk Kind = 2
	KindChunkList    Kind = 3
	KindAsyncChunk   Kind = 4
	KindBatch        Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindTrace:
		return "trace"
	case KindPartialChunk:
		return "partial_chunk"
	case KindChunkList:
		return "chunk_list"
	case KindAsyncChunk:
		return "async_chunk"
	case KindBatch:
		return "batch"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Unit is anything that can be handed to a sender: a finalized trace,
// a partial chunk, or one of the combined units. The set is closed;
// only types in this package implement it.
type Unit interface {
	Kind() Kind
	// EventCount is the size measure used by every capacity rule in
	// the pipeline.
	EventCount() int

	unit()
}

func (*Trace) Kind() Kind        { return KindTrace }
func (*PartialChunk) Kind() Kind { return KindPartialChunk }
func (*ChunkList) Kind() Kind    { return KindChunkList }
func (*AsyncChunk) Kind() Kind   { return KindAsyncChunk }
func (*Batch) Kind() Kind        { return KindBatch }

func (*Trace) unit()        {}
func (*PartialChunk) unit() {}
func (*ChunkList) unit()    {}
func (*AsyncChunk) unit()   {}
func (*Batch) unit()        {}

func (t *Trace) EventCount() int        { return len(t.Events) }
func (c *PartialChunk) EventCount() int { return len(c.Events) }

func (l *ChunkList) EventCount() int {
	total := 0
	for _, chunk := range l.Chunks {
		total += len(chunk.Events)
	}
	return total
}

func (a *AsyncChunk) EventCount() int {
	total := 0
	for _, sub := range a.Traces {
		total += len(sub.Events)
	}
	return total
}

func (b *Batch) EventCount() int {
	total := 0
	for _, chunk := range b.Chunks {
		total += len(chunk.Events)
	}
	for _, sub := range b.Traces {
		total += len(sub.Events)
	}
	return total
}

// NewUnit returns an empty unit of the given kind, ready to be decoded
// into. Returns an error for unknown kinds.
func NewUnit(kind Kind) (Unit, error) {
	switch kind {
	case KindTrace:
		return &Trace{}, nil
	case KindPartialChunk:
		return &PartialChunk{}, nil
	case KindChunkList:
		return &ChunkList{}, nil
	case KindAsyncChunk:
		return &AsyncChunk{}, nil
	case KindBatch:
		return &Batch{}, nil
	default:
		return nil, fmt.Errorf("unknown unit kind %d", uint8(kind))
	}
}
