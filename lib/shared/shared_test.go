// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package shared

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/buffer"
	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/dispatch"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	units []trace.Unit
}

func (r *recorder) Flush(unit trace.Unit) { r.units = append(r.units, unit) }

func key(n int) trace.Key {
	return trace.Key{TraceID: trace.TraceID{byte(n >> 8), byte(n)}, SpanID: trace.SpanID{byte(n)}}
}

func newShared(t *testing.T, maxEvents, flushBatchSize int, fake *clock.FakeClock) (*Buffer, *recorder) {
	t.Helper()
	sink := &recorder{}
	shared, err := New(Options{
		Buffer: buffer.Options{
			MaxEvents: maxEvents,
			Factory:   trace.NewChunkFactory(trace.Agent{AgentID: "test"}),
			Flusher:   sink,
			Clock:     fake,
		},
		FlushBatchSize: flushBatchSize,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return shared, sink
}

func fill(shared *Buffer, k trace.Key, count int) {
	for i := 0; i < count; i++ {
		shared.StoreEvent(&trace.Event{
			Header:   trace.Header{TraceID: k.TraceID, SpanID: k.SpanID},
			Sequence: int32(i),
		})
	}
}

func TestNewRejectsSmallFlushBatch(t *testing.T) {
	_, err := New(Options{
		Buffer: buffer.Options{
			MaxEvents: 10,
			Factory:   trace.NewChunkFactory(trace.Agent{}),
			Flusher:   &recorder{},
			Clock:     clock.Fake(epoch),
		},
		FlushBatchSize: 9,
	})
	if err == nil {
		t.Fatal("New accepted flush batch size below buffer max")
	}
}

func TestCapacitySweepFourFourFour(t *testing.T) {
	shared, sink := newShared(t, 5, 5, clock.Fake(epoch))
	for n := 1; n <= 3; n++ {
		fill(shared, key(n), 4)
	}
	if shared.Size() != 12 {
		t.Fatalf("Size() = %d, want 12", shared.Size())
	}

	shared.Flush(dispatch.FlushOverCapacity(10))

	if shared.Size() > 10 {
		t.Fatalf("Size() = %d after sweep, want <= 10", shared.Size())
	}
	if len(sink.units) == 0 {
		t.Fatal("sweep emitted nothing")
	}
	for _, unit := range sink.units {
		if unit.EventCount() > 5 {
			t.Fatalf("emitted unit with %d events, flush batch is 5", unit.EventCount())
		}
	}
	// The least recently accessed buffer goes first.
	first := sink.units[0].(*trace.PartialChunk)
	if first.Header.Key() != key(1) {
		t.Fatalf("first flushed buffer = %s, want %s", first.Header.Key(), key(1))
	}
}

func TestFlushAllCombinesBuffers(t *testing.T) {
	shared, sink := newShared(t, 5, 5, clock.Fake(epoch))
	for n := 1; n <= 3; n++ {
		fill(shared, key(n), 2)
	}

	shared.Flush(dispatch.FlushAll())

	if len(sink.units) != 2 {
		t.Fatalf("emitted %d units, want a chunk list and a partial chunk", len(sink.units))
	}
	list, ok := sink.units[0].(*trace.ChunkList)
	if !ok {
		t.Fatalf("first unit %T, want *trace.ChunkList", sink.units[0])
	}
	if len(list.Chunks) != 2 || list.Chunks[0].Header.Key() != key(1) || list.Chunks[1].Header.Key() != key(2) {
		t.Fatalf("chunk list does not carry buffers 1 and 2 side by side: %+v", list.Chunks)
	}
	if _, ok := sink.units[1].(*trace.PartialChunk); !ok {
		t.Fatalf("second unit %T, want *trace.PartialChunk", sink.units[1])
	}
	if shared.Size() != 0 || shared.Len() != 0 {
		t.Fatalf("Size()=%d Len()=%d after flush all", shared.Size(), shared.Len())
	}
}

func TestCapacitySweepProperty(t *testing.T) {
	random := rand.New(rand.NewPCG(7, 11))
	for round := 0; round < 200; round++ {
		maxEvents := 1 + random.IntN(8)
		flushBatch := maxEvents + random.IntN(10)
		shared, sink := newShared(t, maxEvents, flushBatch, clock.Fake(epoch))

		traces := 1 + random.IntN(30)
		for n := 0; n < traces; n++ {
			fill(shared, key(n), random.IntN(maxEvents))
		}
		before := shared.Size()
		capacity := random.IntN(before + 1)

		shared.Flush(dispatch.FlushOverCapacity(max(capacity, 1)))

		if after := shared.Size(); after > max(capacity, 1) {
			t.Fatalf("round %d: aggregate %d > capacity %d", round, after, capacity)
		}
		emitted := 0
		for _, unit := range sink.units {
			if unit.EventCount() > flushBatch {
				t.Fatalf("round %d: unit of %d events exceeds flush batch %d", round, unit.EventCount(), flushBatch)
			}
			emitted += unit.EventCount()
		}
		if emitted+shared.Size() != before {
			t.Fatalf("round %d: %d emitted + %d left != %d stored", round, emitted, shared.Size(), before)
		}
	}
}

func TestAgeSweepStopsAtFirstFreshBuffer(t *testing.T) {
	fake := clock.Fake(epoch)
	shared, sink := newShared(t, 5, 5, fake)

	fill(shared, key(1), 2)
	fake.Advance(time.Second)
	fill(shared, key(2), 2)
	fake.Advance(time.Second)
	fill(shared, key(3), 2)
	fake.Advance(8 * time.Second)
	fill(shared, key(4), 2)
	fake.Advance(time.Second)

	// Idle: 11s, 10s, 9s, 1s.
	shared.Flush(dispatch.FlushOlderThan(5 * time.Second))

	if len(sink.units) != 2 {
		t.Fatalf("emitted %d units, want 2", len(sink.units))
	}
	list := sink.units[0].(*trace.ChunkList)
	if list.Chunks[0].Header.Key() != key(1) || list.Chunks[1].Header.Key() != key(2) {
		t.Fatal("age sweep did not process buffers oldest first")
	}
	if chunk := sink.units[1].(*trace.PartialChunk); chunk.Header.Key() != key(3) {
		t.Fatalf("second unit from %s, want %s", chunk.Header.Key(), key(3))
	}
	if shared.Len() != 1 || shared.Size() != 2 {
		t.Fatalf("Len()=%d Size()=%d, want only the fresh buffer left", shared.Len(), shared.Size())
	}
}

func TestTouchedBufferMovesOutOfAgeWindow(t *testing.T) {
	fake := clock.Fake(epoch)
	shared, sink := newShared(t, 5, 5, fake)

	fill(shared, key(1), 1)
	fill(shared, key(2), 1)
	fake.Advance(10 * time.Second)
	fill(shared, key(1), 1)

	shared.Flush(dispatch.FlushOlderThan(5 * time.Second))
	if len(sink.units) != 1 || sink.units[0].(*trace.PartialChunk).Header.Key() != key(2) {
		t.Fatalf("expected only the untouched buffer to flush, got %d units", len(sink.units))
	}
}

func TestTargetedFlushRemovesEmptyBuffer(t *testing.T) {
	shared, sink := newShared(t, 5, 5, clock.Fake(epoch))
	fill(shared, key(1), 3)
	fill(shared, key(2), 1)

	shared.Flush(dispatch.FlushKey(key(1)))
	if len(sink.units) != 1 || sink.units[0].EventCount() != 3 {
		t.Fatalf("targeted flush emitted %d units", len(sink.units))
	}
	if shared.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", shared.Len())
	}

	shared.Close(dispatch.CloseKey(key(2)))
	if shared.Len() != 0 || len(sink.units) != 2 {
		t.Fatalf("close by key left Len()=%d, emitted %d", shared.Len(), len(sink.units))
	}
}

func TestStorePathsNeverKeepEmptyBuffers(t *testing.T) {
	shared, sink := newShared(t, 3, 3, clock.Fake(epoch))
	fill(shared, key(1), 3)
	if shared.Len() != 0 || len(sink.units) != 1 {
		t.Fatalf("full buffer left registered: Len()=%d", shared.Len())
	}

	fill(shared, key(2), 1)
	k := key(2)
	shared.StoreTrace(&trace.Trace{Header: trace.Header{TraceID: k.TraceID, SpanID: k.SpanID}})
	if shared.Len() != 0 {
		t.Fatal("completed trace left its buffer registered")
	}
	finished := sink.units[1].(*trace.Trace)
	if len(finished.Events) != 1 {
		t.Fatalf("trace carries %d events, want 1", len(finished.Events))
	}
}

func TestForceCloseReleasesEverything(t *testing.T) {
	shared, sink := newShared(t, 10, 10, clock.Fake(epoch))
	for n := 1; n <= 5; n++ {
		fill(shared, key(n), 3)
	}
	shared.Close(dispatch.ForceCloseAll())
	if shared.Len() != 0 {
		t.Fatalf("Len() = %d after forced close", shared.Len())
	}
	emitted := 0
	for _, unit := range sink.units {
		emitted += unit.EventCount()
	}
	if emitted != 15 {
		t.Fatalf("emitted %d events, want 15", emitted)
	}
}

func TestCapacitySweepCombinesSmallBuffers(t *testing.T) {
	shared, sink := newShared(t, 5, 5, clock.Fake(epoch))
	for n, size := range []int{2, 2, 3, 4} {
		fill(shared, key(n+1), size)
	}
	if shared.Size() != 11 {
		t.Fatalf("Size() = %d, want 11", shared.Size())
	}

	shared.Flush(dispatch.FlushOverCapacity(6))

	if shared.Size() > 6 {
		t.Fatalf("Size() = %d after sweep, want <= 6", shared.Size())
	}
	if len(sink.units) != 2 {
		t.Fatalf("emitted %d units, want a chunk list then a partial chunk", len(sink.units))
	}
	list, ok := sink.units[0].(*trace.ChunkList)
	if !ok {
		t.Fatalf("first unit %T, want *trace.ChunkList", sink.units[0])
	}
	if len(list.Chunks) != 2 || list.EventCount() > 5 {
		t.Fatalf("chunk list has %d chunks and %d events, want 2 chunks within batch 5",
			len(list.Chunks), list.EventCount())
	}
	if chunk := sink.units[1].(*trace.PartialChunk); chunk.Header.Key() != key(3) {
		t.Fatalf("second unit from %s, want %s", chunk.Header.Key(), key(3))
	}
	if shared.Len() != 1 || shared.Size() != 4 {
		t.Fatalf("Len()=%d Size()=%d, want only the most recent buffer left", shared.Len(), shared.Size())
	}
}

func asyncEvent(k trace.Key, asyncID, sequence int32) *trace.Event {
	return &trace.Event{
		Header:   trace.Header{TraceID: k.TraceID, SpanID: k.SpanID, AsyncID: asyncID},
		Sequence: sequence,
	}
}

func TestAsyncSubExecutionsKeepTheirOwnEvents(t *testing.T) {
	shared, sink := newShared(t, 5, 5, clock.Fake(epoch))
	span := key(1)
	shared.StoreEvent(asyncEvent(span, 1, 10))
	shared.StoreEvent(asyncEvent(span, 2, 20))
	shared.StoreEvent(asyncEvent(span, 1, 11))

	shared.StoreTrace(&trace.Trace{Header: trace.Header{TraceID: span.TraceID, SpanID: span.SpanID, AsyncID: 1}})

	if len(sink.units) != 1 {
		t.Fatalf("emitted %d units, want the async 1 trace", len(sink.units))
	}
	finished := sink.units[0].(*trace.Trace)
	if len(finished.Events) != 2 {
		t.Fatalf("async 1 trace carries %d events, want 2", len(finished.Events))
	}
	for i, event := range finished.Events {
		if event.Header.AsyncID != 1 || event.Sequence != int32(10+i) {
			t.Fatalf("async 1 trace event %d: async=%d seq=%d", i, event.Header.AsyncID, event.Sequence)
		}
	}
	if shared.Len() != 1 || shared.Size() != 1 {
		t.Fatalf("Len()=%d Size()=%d, want async 2 still buffered", shared.Len(), shared.Size())
	}
}

func TestSpanCloseReleasesEveryAsyncBuffer(t *testing.T) {
	shared, sink := newShared(t, 5, 5, clock.Fake(epoch))
	span := key(1)
	shared.StoreEvent(asyncEvent(span, 2, 20))
	shared.StoreEvent(asyncEvent(span, 1, 10))
	fill(shared, key(2), 1)

	shared.Close(dispatch.CloseKey(span))

	if len(sink.units) != 2 {
		t.Fatalf("emitted %d units, want one chunk per async buffer", len(sink.units))
	}
	for i, unit := range sink.units {
		chunk := unit.(*trace.PartialChunk)
		if chunk.Header.AsyncID != int32(i+1) || len(chunk.Events) != 1 || chunk.Events[0].Header.AsyncID != chunk.Header.AsyncID {
			t.Fatalf("chunk %d: header async=%d events=%d", i, chunk.Header.AsyncID, len(chunk.Events))
		}
	}
	if shared.Len() != 1 {
		t.Fatalf("Len() = %d, want only the unrelated trace left", shared.Len())
	}

	// An async key flushes only its own buffer.
	shared.StoreEvent(asyncEvent(span, 3, 30))
	shared.StoreEvent(asyncEvent(span, 4, 40))
	shared.Flush(dispatch.FlushKey(trace.Key{TraceID: span.TraceID, SpanID: span.SpanID, AsyncID: 4}))
	if len(sink.units) != 3 || sink.units[2].(*trace.PartialChunk).Header.AsyncID != 4 {
		t.Fatalf("async key flush emitted %d units", len(sink.units))
	}
	if shared.Len() != 2 {
		t.Fatalf("Len() = %d, want async 3 and the unrelated trace", shared.Len())
	}
}
