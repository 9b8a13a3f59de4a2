// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trace

// Agent identifies the process that produced a wire unit. It is
// stamped on chunks by ChunkFactory and on traces when they are
// finalized.
type Agent struct {
	AgentID         string `cbor:"agent_id"`
	ApplicationName string `cbor:"application_name"`
	// StartTime is the agent start time in Unix milliseconds.
	StartTime              int64 `cbor:"start_time"`
	ApplicationServiceType int16 `cbor:"application_service_type"`
}

// Header is the immutable identity of one trace. Every Event carries
// a copy so that the consumer goroutine can route and chunk events
// without touching the producer's Trace.
type Header struct {
	TraceID      TraceID `cbor:"trace_id"`
	SpanID       SpanID  `cbor:"span_id"`
	ParentSpanID SpanID  `cbor:"parent_span_id"`
	// AsyncID is non-zero for an async sub-execution of the span.
	AsyncID     int32  `cbor:"async_id,omitempty"`
	ServiceType int16  `cbor:"service_type"`
	Endpoint    string `cbor:"endpoint,omitempty"`
	RPC         string `cbor:"rpc,omitempty"`
	// StartTime is the trace start time in Unix milliseconds.
	StartTime int64 `cbor:"start_time"`
}

// Key returns the buffer key for this trace. Async sub-executions of
// the span share it.
func (h Header) Key() Key { return Key{TraceID: h.TraceID, SpanID: h.SpanID} }

// AsyncKey is Key narrowed to this header's async sub-execution.
func (h Header) AsyncKey() Key {
	key := h.Key()
	key.AsyncID = h.AsyncID
	return key
}

// Event is one timed sub-operation inside a trace. Events are
// immutable once handed to the pipeline; their order within a trace is
// the order they were stored.
type Event struct {
	// Header is routing metadata and is not repeated on the wire; the
	// enclosing chunk or trace carries it once.
	Header Header `cbor:"-"`

	Sequence int32  `cbor:"seq"`
	Depth    int32  `cbor:"depth"`
	APIID    int32  `cbor:"api_id,omitempty"`
	Method   string `cbor:"method,omitempty"`
	// StartOffset is milliseconds from the trace start.
	StartOffset int64 `cbor:"start_offset"`
	// Elapsed is the event duration in milliseconds.
	Elapsed      int64          `cbor:"elapsed"`
	ErrorMessage string         `cbor:"error,omitempty"`
	Annotations  map[string]any `cbor:"annotations,omitempty"`
}

// Key returns the buffer key of the trace this event belongs to.
func (e *Event) Key() Key { return e.Header.Key() }

// Trace is the root record of one traced transaction. The producer
// creates it at transaction start; the pipeline attaches the buffered
// events exactly once, when the trace is stored, and the record is
// immutable after that.
type Trace struct {
	Agent  Agent  `cbor:"agent"`
	Header Header `cbor:"header"`
	// Elapsed is the transaction duration in milliseconds.
	Elapsed int64    `cbor:"elapsed"`
	Err     bool     `cbor:"err,omitempty"`
	Events  []*Event `cbor:"events,omitempty"`
}

// Key returns the buffer key for this trace.
func (t *Trace) Key() Key { return t.Header.Key() }

// PartialChunk is a run of events emitted before their trace was
// finalized, because the buffer filled or a sweep flushed it.
type PartialChunk struct {
	Agent  Agent    `cbor:"agent"`
	Header Header   `cbor:"header"`
	Events []*Event `cbor:"events"`
}

// ChunkList carries the drained event runs of several traces side by
// side. The shared buffer emits one when a sweep selects more than one
// buffer.
type ChunkList struct {
	Chunks []*PartialChunk `cbor:"chunks"`
}

// AsyncChunk merges completed async sub-executions of one parent span
// into a single wire unit.
type AsyncChunk struct {
	Agent  Agent    `cbor:"agent"`
	Header Header   `cbor:"header"`
	Traces []*Trace `cbor:"traces"`
}

// Batch is what the periodic batcher emits: chunks and traces from any
// number of transactions, packed to a maximum event count.
type Batch struct {
	Chunks []*PartialChunk `cbor:"chunks,omitempty"`
	Traces []*Trace        `cbor:"traces,omitempty"`
}
