// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/flush"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Options are shared by every buffer a repository creates.
type Options struct {
	// MaxEvents is the buffer capacity. Reaching it emits a partial
	// chunk. Must be positive.
	MaxEvents int

	// Factory stamps agent identity on emitted units.
	Factory *trace.ChunkFactory

	// Flusher receives every emitted unit.
	Flusher flush.Flusher

	// Clock stamps last-access times.
	Clock clock.Clock
}

func (o Options) validate() error {
	if o.MaxEvents <= 0 {
		return fmt.Errorf("buffer: MaxEvents must be positive, got %d", o.MaxEvents)
	}
	if o.Factory == nil {
		return fmt.Errorf("buffer: Factory is required")
	}
	if o.Flusher == nil {
		return fmt.Errorf("buffer: Flusher is required")
	}
	if o.Clock == nil {
		return fmt.Errorf("buffer: Clock is required")
	}
	return nil
}

// Buffer holds the events of one trace until it fills, the trace
// completes, or a sweep flushes it. Buffer is not safe for concurrent
// use; a dispatch engine serializes every call.
type Buffer struct {
	key        trace.Key
	options    Options
	events     []*trace.Event
	lastAccess time.Time
}

// New returns an empty buffer for key. Panics if options are invalid;
// callers validate once with NewFactory.
func New(key trace.Key, options Options) *Buffer {
	if err := options.validate(); err != nil {
		panic(err.Error())
	}
	return &Buffer{
		key:        key,
		options:    options,
		events:     make([]*trace.Event, 0, options.MaxEvents),
		lastAccess: options.Clock.Now(),
	}
}

// NewFactory validates options and returns a repository factory that
// builds buffers from them.
func NewFactory(options Options) (func(trace.Key) *Buffer, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	return func(key trace.Key) *Buffer { return New(key, options) }, nil
}

// Key returns the trace identity this buffer belongs to.
func (b *Buffer) Key() trace.Key { return b.key }

// StoreEvent appends event. When the buffer reaches MaxEvents its
// contents are emitted as one partial chunk and the buffer starts
// over empty.
func (b *Buffer) StoreEvent(event *trace.Event) {
	b.lastAccess = b.options.Clock.Now()
	b.events = append(b.events, event)
	if len(b.events) >= b.options.MaxEvents {
		b.options.Flusher.Flush(b.options.Factory.PartialChunk(b.swap()))
	}
}

// StoreTrace attaches every buffered event to t in arrival order,
// emits t, and leaves the buffer empty.
func (b *Buffer) StoreTrace(t *trace.Trace) {
	b.lastAccess = b.options.Clock.Now()
	var events []*trace.Event
	if len(b.events) > 0 {
		events = b.swap()
	}
	b.options.Factory.Finalize(t, events)
	b.options.Flusher.Flush(t)
}

// Flush emits buffered events as a partial chunk without finalizing
// the trace. No-op when empty.
func (b *Buffer) Flush() {
	if len(b.events) == 0 {
		return
	}
	b.options.Flusher.Flush(b.options.Factory.PartialChunk(b.swap()))
}

// Close flushes whatever is left. The buffer may be reused afterwards
// but normally it is removed from its repository.
func (b *Buffer) Close() {
	b.Flush()
}

// Drain removes and returns the buffered events without emitting
// them. The shared buffer uses it to merge several buffers into one
// unit.
func (b *Buffer) Drain() []*trace.Event {
	if len(b.events) == 0 {
		return nil
	}
	return b.swap()
}

// IsEmpty reports whether no events are buffered.
func (b *Buffer) IsEmpty() bool { return len(b.events) == 0 }

// Size is the number of buffered events.
func (b *Buffer) Size() int { return len(b.events) }

// MaxSize is the configured capacity.
func (b *Buffer) MaxSize() int { return b.options.MaxEvents }

// LastAccessTime is when the buffer was last stored into, or its
// creation time if it never was.
func (b *Buffer) LastAccessTime() time.Time { return b.lastAccess }

func (b *Buffer) swap() []*trace.Event {
	drained := b.events
	b.events = make([]*trace.Event, 0, b.options.MaxEvents)
	return drained
}
