// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Options configure an Engine.
type Options struct {
	// Name identifies the engine in logs ("trace", "shared", "async").
	Name string

	Handler Handler

	// BatchSize is the most messages drained per wakeup. Default: 64
	BatchSize int

	// Block makes a producer wait up to BlockTimeout for queue space
	// instead of dropping immediately.
	Block        bool
	BlockTimeout time.Duration

	// StopTimeout bounds how long Stop waits for the consumer to
	// finish. Default: 5s
	StopTimeout time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats are cumulative message counters.
type Stats struct {
	// Accepted messages entered the queue.
	Accepted uint64
	// Dropped messages were discarded because the queue was full.
	Dropped uint64
	// Processed messages were handled without panicking.
	Processed uint64
	// Failed messages panicked in the handler or had an unknown type.
	Failed uint64
}

// Engine serializes producer calls onto one consumer goroutine. All
// producer methods return immediately, never panic, and become no-ops
// once Stop has been called. Messages for the same key are handled in
// the order they were accepted.
type Engine struct {
	options Options
	logger  *slog.Logger

	// mu guards queue, started and closed. Producers hold the read
	// lock while sending so that Stop cannot close the queue under
	// them.
	mu      sync.RWMutex
	queue   chan message
	started bool
	closed  bool
	done    chan struct{}

	accepted  atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	failed    atomic.Uint64
}

// NewEngine returns an engine that is not yet running. Call Start.
func NewEngine(options Options) *Engine {
	if options.Handler == nil {
		panic("dispatch: Handler is required")
	}
	if options.Clock == nil {
		panic("dispatch: Clock is required")
	}
	if options.BatchSize <= 0 {
		options.BatchSize = 64
	}
	if options.StopTimeout <= 0 {
		options.StopTimeout = 5 * time.Second
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		options: options,
		logger:  logger.With("engine", options.Name),
		done:    make(chan struct{}),
	}
}

// Start creates the queue and the consumer goroutine. It returns false
// if the engine was already started or stopped, or if capacity is not
// positive.
func (e *Engine) Start(capacity int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.started {
		return false
	}
	if capacity <= 0 {
		e.logger.Error("engine not started: queue capacity must be positive", "capacity", capacity)
		return false
	}
	e.queue = make(chan message, capacity)
	e.started = true
	go e.run(e.queue)
	e.logger.Info("dispatch engine started", "capacity", capacity, "batch_size", e.options.BatchSize)
	return true
}

// Stop rejects further messages, lets the consumer handle everything
// already accepted, then runs a final flush and forced close on the
// consumer goroutine. It waits up to StopTimeout for that to finish.
// Returns false if the engine was already stopped.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	started := e.started
	if started {
		close(e.queue)
	}
	e.mu.Unlock()

	if !started {
		return true
	}
	select {
	case <-e.done:
		e.logger.Info("dispatch engine stopped", "stats", e.Stats())
	case <-e.options.Clock.After(e.options.StopTimeout):
		e.logger.Warn("dispatch engine did not drain before stop timeout",
			"timeout", e.options.StopTimeout, "stats", e.Stats())
	}
	return true
}

// Done is closed when the consumer goroutine has exited.
func (e *Engine) Done() <-chan struct{} { return e.done }

// StoreEvent enqueues event for its trace's storage.
func (e *Engine) StoreEvent(event *trace.Event) { e.enqueue(eventMessage{event: event}) }

// StoreTrace enqueues a finished trace.
func (e *Engine) StoreTrace(t *trace.Trace) { e.enqueue(traceMessage{trace: t}) }

// Flush enqueues a flush request.
func (e *Engine) Flush(request FlushRequest) { e.enqueue(request) }

// Close enqueues a close request.
func (e *Engine) Close(request CloseRequest) { e.enqueue(request) }

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Accepted:  e.accepted.Load(),
		Dropped:   e.dropped.Load(),
		Processed: e.processed.Load(),
		Failed:    e.failed.Load(),
	}
}

func (e *Engine) enqueue(msg message) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed || !e.started {
		return
	}

	select {
	case e.queue <- msg:
		e.accepted.Add(1)
		return
	default:
	}

	if e.options.Block && e.options.BlockTimeout > 0 {
		select {
		case e.queue <- msg:
			e.accepted.Add(1)
			return
		case <-e.options.Clock.After(e.options.BlockTimeout):
		}
	}

	if e.dropped.Add(1)&(1<<10-1) == 1 {
		e.logger.Warn("dispatch queue full, dropping messages",
			"kind", msg.kind(), "dropped_total", e.dropped.Load())
	}
}

func (e *Engine) run(queue <-chan message) {
	defer close(e.done)

	batch := make([]message, 0, e.options.BatchSize)
	for {
		first, ok := <-queue
		if !ok {
			break
		}
		batch = append(batch[:0], first)
		open := true
	drain:
		for len(batch) < e.options.BatchSize {
			select {
			case msg, more := <-queue:
				if !more {
					open = false
					break drain
				}
				batch = append(batch, msg)
			default:
				break drain
			}
		}
		for i, msg := range batch {
			e.dispatch(msg)
			batch[i] = nil
		}
		if !open {
			break
		}
	}

	e.dispatch(FlushAll())
	e.dispatch(ForceCloseAll())
}

func (e *Engine) dispatch(msg message) {
	defer func() {
		if recovered := recover(); recovered != nil {
			e.failed.Add(1)
			e.logger.Warn("dispatch handler panicked",
				"kind", msg.kind(), "panic", recovered)
		}
	}()

	switch m := msg.(type) {
	case eventMessage:
		e.options.Handler.StoreEvent(m.event)
	case traceMessage:
		e.options.Handler.StoreTrace(m.trace)
	case FlushRequest:
		e.options.Handler.Flush(m)
	case CloseRequest:
		e.options.Handler.Close(m)
	default:
		e.failed.Add(1)
		e.logger.Warn("dropping message of unknown type", "kind", msg.kind())
		return
	}
	e.processed.Add(1)
}
