// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// DefaultAsyncFillRate is the percentage of MaxEvents that completed
// async traces must add up to before they are merged and sent.
const DefaultAsyncFillRate = 70

// AsyncBuffer collects the async sub-executions of one parent span.
// Events are grouped by async id until their sub-trace completes;
// completed sub-traces are held back and merged into AsyncChunks so
// that many tiny async traces travel as one unit.
//
// Like Buffer, it is only touched by a dispatch engine's consumer.
type AsyncBuffer struct {
	key     trace.Key
	options Options
	minimum int
	maximum int

	// progressing holds in-flight events per async id. order keeps
	// first-seen order so that Close emits deterministically.
	progressing map[int32][]*trace.Event
	order       []int32
	completed   []*trace.Trace
	lastAccess  time.Time
}

// NewAsync returns an empty async buffer. fillRate must be in
// (0, 100]; the merge window is [max(1, MaxEvents*fillRate/100),
// MaxEvents].
func NewAsync(key trace.Key, options Options, fillRate int) (*AsyncBuffer, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	if fillRate <= 0 || fillRate > 100 {
		return nil, fmt.Errorf("buffer: async fill rate must be in (0, 100], got %d", fillRate)
	}
	return &AsyncBuffer{
		key:         key,
		options:     options,
		minimum:     max(1, options.MaxEvents*fillRate/100),
		maximum:     options.MaxEvents,
		progressing: make(map[int32][]*trace.Event),
		lastAccess:  options.Clock.Now(),
	}, nil
}

// NewAsyncFactory validates once and returns a repository factory.
func NewAsyncFactory(options Options, fillRate int) (func(trace.Key) *AsyncBuffer, error) {
	if _, err := NewAsync(trace.Key{}, options, fillRate); err != nil {
		return nil, err
	}
	return func(key trace.Key) *AsyncBuffer {
		storage, _ := NewAsync(key, options, fillRate)
		return storage
	}, nil
}

// StoreEvent appends event to its async id's run. A run that reaches
// MaxEvents is emitted as a partial chunk.
func (a *AsyncBuffer) StoreEvent(event *trace.Event) {
	a.lastAccess = a.options.Clock.Now()
	asyncID := event.Header.AsyncID
	run, ok := a.progressing[asyncID]
	if !ok {
		a.order = append(a.order, asyncID)
	}
	run = append(run, event)
	if len(run) >= a.maximum {
		a.forget(asyncID)
		a.options.Flusher.Flush(a.options.Factory.PartialChunk(run))
		return
	}
	a.progressing[asyncID] = run
}

// StoreTrace finalizes a sub-trace with its progressing events and
// queues it. Queued sub-traces are sent as soon as a prefix of them
// fits the merge window.
func (a *AsyncBuffer) StoreTrace(t *trace.Trace) {
	a.lastAccess = a.options.Clock.Now()
	asyncID := t.Header.AsyncID
	events := a.progressing[asyncID]
	a.forget(asyncID)
	a.options.Factory.Finalize(t, events)
	a.completed = append(a.completed, t)
	a.sendReady()
}

// Flush sends every completed sub-trace, merging in bins of at most
// MaxEvents. In-flight events stay buffered.
func (a *AsyncBuffer) Flush() {
	a.sendReady()
	for len(a.completed) > 0 {
		count, _ := a.prefix()
		if count == 0 {
			// The head alone exceeds MaxEvents.
			count = 1
		}
		a.send(count)
	}
}

// Close flushes completed sub-traces, emits every in-flight run as a
// partial chunk, and clears the buffer.
func (a *AsyncBuffer) Close() {
	a.Flush()
	for _, asyncID := range a.order {
		a.options.Flusher.Flush(a.options.Factory.PartialChunk(a.progressing[asyncID]))
	}
	clear(a.progressing)
	a.order = a.order[:0]
}

// IsEmpty reports whether nothing is in flight or queued.
func (a *AsyncBuffer) IsEmpty() bool { return len(a.order) == 0 && len(a.completed) == 0 }

// Size counts in-flight and queued events.
func (a *AsyncBuffer) Size() int {
	size := 0
	for _, run := range a.progressing {
		size += len(run)
	}
	for _, t := range a.completed {
		size += len(t.Events)
	}
	return size
}

func (a *AsyncBuffer) LastAccessTime() time.Time { return a.lastAccess }

// sendReady emits prefixes of the completed queue while they are
// worth sending. A prefix that stops short of the whole queue is
// always sent: the next sub-trace would overflow it. A prefix that
// covers the whole queue waits until it reaches the minimum.
func (a *AsyncBuffer) sendReady() {
	for len(a.completed) > 0 {
		count, events := a.prefix()
		if count == 0 {
			return
		}
		if count == len(a.completed) && (events < a.minimum || events > a.maximum) {
			return
		}
		a.send(count)
	}
}

// prefix returns how many queued sub-traces fit in MaxEvents and
// their event total.
func (a *AsyncBuffer) prefix() (count, events int) {
	for _, t := range a.completed {
		size := len(t.Events)
		if events+size > a.maximum {
			break
		}
		events += size
		count++
	}
	return count, events
}

func (a *AsyncBuffer) send(count int) {
	batch := a.completed[:count:count]
	a.completed = a.completed[count:]
	if len(batch) == 1 {
		a.options.Flusher.Flush(batch[0])
		return
	}
	a.options.Flusher.Flush(a.options.Factory.AsyncChunk(batch[0].Header, batch))
}

func (a *AsyncBuffer) forget(asyncID int32) {
	delete(a.progressing, asyncID)
	for i, id := range a.order {
		if id == asyncID {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}
