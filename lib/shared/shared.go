// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shared

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/buffer"
	"github.com/bureau-foundation/tracebuffer/lib/dispatch"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Options configure a shared Buffer.
type Options struct {
	// Buffer configures the per-trace buffers the shared buffer keeps.
	// Its Flusher receives every unit the shared buffer emits,
	// including combined chunk lists, and normally sends straight to
	// the transport.
	Buffer buffer.Options

	// FlushBatchSize caps the events drained into one emitted unit.
	// Must be at least Buffer.MaxEvents.
	FlushBatchSize int

	Logger *slog.Logger
}

// Buffer bounds the events held across every trace. It is a
// dispatch.Handler and runs on its own engine; the scheduler drives
// its age and capacity sweeps with flush requests.
//
// Buffers are keyed per async sub-execution, so concurrent async runs
// of one span never share events. A targeted request for a span key
// reaches every async buffer of that span.
type Buffer struct {
	options    Options
	repository *buffer.Repository[*buffer.Buffer]
	// spans indexes registered keys by their span key.
	spans  map[trace.Key]map[trace.Key]struct{}
	logger *slog.Logger
}

var _ dispatch.Handler = (*Buffer)(nil)

// New validates options and returns an empty shared buffer.
func New(options Options) (*Buffer, error) {
	factory, err := buffer.NewFactory(options.Buffer)
	if err != nil {
		return nil, fmt.Errorf("shared: %w", err)
	}
	if options.FlushBatchSize < options.Buffer.MaxEvents {
		return nil, fmt.Errorf("shared: flush batch size %d is smaller than buffer max %d; capacity sweeps could not make progress",
			options.FlushBatchSize, options.Buffer.MaxEvents)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Buffer{
		options:    options,
		repository: buffer.NewRepository(factory),
		spans:      make(map[trace.Key]map[trace.Key]struct{}),
		logger:     logger,
	}, nil
}

// Size is the aggregate number of buffered events.
func (s *Buffer) Size() int {
	total := 0
	for _, entry := range s.repository.All() {
		total += entry.Storage.Size()
	}
	return total
}

// Len is the number of registered buffers.
func (s *Buffer) Len() int { return s.repository.Len() }

func (s *Buffer) StoreEvent(event *trace.Event) {
	key := event.Header.AsyncKey()
	storage := s.get(key)
	storage.StoreEvent(event)
	s.removeIfEmpty(key, storage)
}

// StoreTrace attaches only the events of t's own async sub-execution.
func (s *Buffer) StoreTrace(t *trace.Trace) {
	key := t.Header.AsyncKey()
	storage := s.get(key)
	storage.StoreTrace(t)
	s.removeIfEmpty(key, storage)
}

// Flush handles a flush request:
//
//   - a targeted request flushes the buffer of an async key, or every
//     buffer of a span key
//   - MaxAge flushes the buffers idle longer than MaxAge, oldest first
//   - MaxCapacity flushes until at most MaxCapacity events remain
//   - All with neither threshold flushes everything
//
// Sweeps emit in packed batches of at most FlushBatchSize events.
func (s *Buffer) Flush(request dispatch.FlushRequest) {
	if !request.All {
		for _, key := range s.keysOf(request.Key) {
			if storage, ok := s.repository.Find(key); ok {
				storage.Flush()
				s.removeIfEmpty(key, storage)
			}
		}
		return
	}

	if request.MaxAge > 0 {
		s.ageSweep(s.options.Buffer.Clock.Now().Add(-request.MaxAge))
	}
	if request.MaxCapacity > 0 {
		s.capacitySweep(request.MaxCapacity)
	}
	if request.MaxAge <= 0 && request.MaxCapacity <= 0 {
		s.capacitySweep(0)
	}
}

// Close is handled exactly like the equivalent flush. A forced close
// flushes everything, which leaves nothing registered.
func (s *Buffer) Close(request dispatch.CloseRequest) {
	if request.Force {
		s.capacitySweep(0)
		return
	}
	s.Flush(dispatch.FlushRequest{
		Key:         request.Key,
		All:         request.All,
		MaxAge:      request.MaxAge,
		MaxCapacity: request.MaxCapacity,
	})
}

// capacitySweep emits packed batches, least recently accessed first,
// until the aggregate size is at most target.
func (s *Buffer) capacitySweep(target int) {
	remaining := s.repository.All()
	total := 0
	for _, entry := range remaining {
		total += entry.Storage.Size()
	}

	for total > target && len(remaining) > 0 {
		count, size := s.pack(remaining)
		if count == 0 {
			s.logger.Warn("capacity sweep stopped: next buffer exceeds flush batch size",
				"size", remaining[0].Storage.Size(), "flush_batch_size", s.options.FlushBatchSize,
				"aggregate", total, "target", target)
			return
		}
		s.emit(remaining[:count])
		remaining = remaining[count:]
		total -= size
	}
}

// ageSweep emits the buffers last accessed before cutoff. The
// repository lists buffers in ascending access order, so the expired
// buffers form a prefix and the sweep stops at the first fresh one.
func (s *Buffer) ageSweep(cutoff time.Time) {
	entries := s.repository.All()
	expired := 0
	for expired < len(entries) && entries[expired].Storage.LastAccessTime().Before(cutoff) {
		expired++
	}

	remaining := entries[:expired]
	for len(remaining) > 0 {
		count, _ := s.pack(remaining)
		if count == 0 {
			s.logger.Warn("age sweep stopped: next buffer exceeds flush batch size",
				"size", remaining[0].Storage.Size(), "flush_batch_size", s.options.FlushBatchSize)
			return
		}
		s.emit(remaining[:count])
		remaining = remaining[count:]
	}
}

// pack returns how many leading entries fit in FlushBatchSize events
// together, and their total size.
func (s *Buffer) pack(entries []buffer.Entry[*buffer.Buffer]) (count, size int) {
	for _, entry := range entries {
		next := entry.Storage.Size()
		if size+next > s.options.FlushBatchSize {
			break
		}
		size += next
		count++
	}
	return count, size
}

// emit sends one selected buffer as its own partial chunk, or drains
// two or more into one chunk list, and unregisters them.
func (s *Buffer) emit(batch []buffer.Entry[*buffer.Buffer]) {
	if len(batch) == 1 {
		batch[0].Storage.Flush()
		s.removeIfEmpty(batch[0].Key, batch[0].Storage)
		return
	}

	runs := make([][]*trace.Event, 0, len(batch))
	for _, entry := range batch {
		runs = append(runs, entry.Storage.Drain())
		s.removeIfEmpty(entry.Key, entry.Storage)
	}
	list := s.options.Buffer.Factory.ChunkList(runs)
	if list == nil {
		return
	}
	s.logger.Debug("emitting combined chunk list", "traces", len(list.Chunks), "events", list.EventCount())
	s.options.Buffer.Flusher.Flush(list)
}

// get returns the buffer for key, registering it in the span index.
func (s *Buffer) get(key trace.Key) *buffer.Buffer {
	span := key.Span()
	members, ok := s.spans[span]
	if !ok {
		members = make(map[trace.Key]struct{})
		s.spans[span] = members
	}
	members[key] = struct{}{}
	return s.repository.Get(key)
}

// keysOf resolves a request key. An async key names one buffer; a span
// key names every buffer registered under the span.
func (s *Buffer) keysOf(key trace.Key) []trace.Key {
	if key.AsyncID != 0 {
		return []trace.Key{key}
	}
	members := s.spans[key]
	keys := make([]trace.Key, 0, len(members))
	for member := range members {
		keys = append(keys, member)
	}
	slices.SortFunc(keys, func(a, b trace.Key) int { return cmp.Compare(a.AsyncID, b.AsyncID) })
	return keys
}

func (s *Buffer) removeIfEmpty(key trace.Key, storage *buffer.Buffer) {
	if !storage.IsEmpty() {
		return
	}
	s.repository.Remove(key)
	span := key.Span()
	if members, ok := s.spans[span]; ok {
		delete(members, key)
		if len(members) == 0 {
			delete(s.spans, span)
		}
	}
}
