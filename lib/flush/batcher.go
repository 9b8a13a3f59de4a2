// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flush

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
	"github.com/bureau-foundation/tracebuffer/lib/transport"
)

// BatcherOptions configure a Batcher.
type BatcherOptions struct {
	// MaxEvents is the most events one emitted batch may carry.
	MaxEvents int

	// Period is the tick interval of Run.
	Period time.Duration

	// Sender receives batches, plus any unit the batcher cannot hold.
	Sender transport.Sender

	Clock  clock.Clock
	Logger *slog.Logger
}

// Batcher collects small partial chunks and traces from many
// transactions and sends them as packed batches on a timer. Flush may
// be called from any goroutine.
//
// Units the batcher cannot hold (other kinds, or anything larger than
// MaxEvents) are sent on immediately with a warning rather than
// dropped.
type Batcher struct {
	options BatcherOptions
	logger  *slog.Logger

	mu     sync.Mutex
	chunks []*trace.PartialChunk
	traces []*trace.Trace
}

// NewBatcher validates options and returns an idle batcher. Call Run
// to start ticking.
func NewBatcher(options BatcherOptions) (*Batcher, error) {
	if options.MaxEvents <= 0 {
		return nil, fmt.Errorf("flush: batcher MaxEvents must be positive, got %d", options.MaxEvents)
	}
	if options.Period <= 0 {
		return nil, fmt.Errorf("flush: batcher Period must be positive, got %s", options.Period)
	}
	if options.Sender == nil {
		return nil, fmt.Errorf("flush: batcher Sender is required")
	}
	if options.Clock == nil {
		return nil, fmt.Errorf("flush: batcher Clock is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Batcher{options: options, logger: logger}, nil
}

func (b *Batcher) Flush(unit trace.Unit) {
	if size := unit.EventCount(); size > b.options.MaxEvents {
		b.logger.Warn("unit larger than batch capacity, sending directly",
			"kind", unit.Kind(), "events", size, "max_events", b.options.MaxEvents)
		b.options.Sender.Send(unit)
		return
	}

	switch u := unit.(type) {
	case *trace.PartialChunk:
		b.mu.Lock()
		b.chunks = append(b.chunks, u)
		b.mu.Unlock()
	case *trace.Trace:
		b.mu.Lock()
		b.traces = append(b.traces, u)
		b.mu.Unlock()
	default:
		b.logger.Warn("batcher does not hold this unit kind, sending directly", "kind", unit.Kind())
		b.options.Sender.Send(unit)
	}
}

// Pending is the number of units waiting for the next tick.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunks) + len(b.traces)
}

// Run ticks every Period until ctx is cancelled, then runs one last
// tick so nothing collected is left behind.
func (b *Batcher) Run(ctx context.Context) {
	ticker := b.options.Clock.NewTicker(b.options.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Tick()
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick takes everything collected so far and sends it packed into
// batches of at most MaxEvents events.
func (b *Batcher) Tick() {
	b.mu.Lock()
	chunks, traces := b.chunks, b.traces
	b.chunks, b.traces = nil, nil
	b.mu.Unlock()

	for _, batch := range pack(chunks, traces, b.options.MaxEvents) {
		b.logger.Debug("sending batch",
			"chunks", len(batch.Chunks), "traces", len(batch.Traces), "events", batch.EventCount())
		b.options.Sender.Send(batch)
	}
}

// pack fills batches in order, chunks first, starting a new batch
// whenever the next unit would push the current one past maxEvents.
// Every input unit lands in exactly one batch.
func pack(chunks []*trace.PartialChunk, traces []*trace.Trace, maxEvents int) []*trace.Batch {
	var batches []*trace.Batch
	current := &trace.Batch{}
	size := 0
	empty := true

	next := func(events int) {
		if !empty && size+events > maxEvents {
			batches = append(batches, current)
			current = &trace.Batch{}
			size = 0
		}
		size += events
		empty = false
	}

	for _, chunk := range chunks {
		next(len(chunk.Events))
		current.Chunks = append(current.Chunks, chunk)
	}
	for _, t := range traces {
		next(len(t.Events))
		current.Traces = append(current.Traces, t)
	}
	if !empty {
		batches = append(batches, current)
	}
	return batches
}
