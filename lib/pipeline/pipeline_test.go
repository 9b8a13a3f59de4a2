// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/config"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
	"github.com/bureau-foundation/tracebuffer/lib/testutil"
	"github.com/bureau-foundation/tracebuffer/lib/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig(sharedEnabled bool) *config.Config {
	cfg := config.Default()
	cfg.Buffer.MaxEvents = 4
	cfg.Shared.Enabled = sharedEnabled
	return cfg
}

func header(n byte, asyncID int32) trace.Header {
	return trace.Header{
		TraceID: trace.TraceID{n},
		SpanID:  trace.SpanID{n, 1},
		AsyncID: asyncID,
	}
}

func event(h trace.Header, sequence int) *trace.Event {
	return &trace.Event{Header: h, Sequence: int32(sequence)}
}

func startPipeline(t *testing.T, cfg *config.Config) (*Pipeline, *transport.Recorder, *clock.FakeClock) {
	t.Helper()
	recorder := transport.NewRecorder()
	fake := clock.Fake(epoch)
	p, err := New(cfg, recorder, fake, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p, recorder, fake
}

// waitFor polls condition until it holds. Engine consumers run on
// their own goroutines; tests use this to order clock advances after
// message processing.
func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPerTraceBufferingWithoutShared(t *testing.T) {
	cfg := testConfig(false)
	p, recorder, _ := startPipeline(t, cfg)

	h := header(1, 0)
	for i := range 10 {
		p.StoreEvent(event(h, i))
	}
	p.StoreTrace(&trace.Trace{Header: h, Elapsed: 12})
	p.Stop()

	units := recorder.Units()
	if len(units) != 3 {
		t.Fatalf("got %d units, want 3: %v", len(units), units)
	}
	for i, want := range []trace.Kind{trace.KindPartialChunk, trace.KindPartialChunk, trace.KindTrace} {
		if units[i].Kind() != want {
			t.Fatalf("unit %d kind = %s, want %s", i, units[i].Kind(), want)
		}
	}
	finished := units[2].(*trace.Trace)
	if len(finished.Events) != 2 || finished.Events[0].Sequence != 8 || finished.Events[1].Sequence != 9 {
		t.Fatalf("finalized trace events = %v", finished.Events)
	}
	if finished.Agent.AgentID != cfg.Agent.AgentID {
		t.Fatalf("trace agent = %+v", finished.Agent)
	}
	if recorder.EventCount() != 10 {
		t.Fatalf("EventCount = %d, want 10", recorder.EventCount())
	}
}

func TestSharedModeBatchesSmallUnits(t *testing.T) {
	p, recorder, _ := startPipeline(t, testConfig(true))

	h := header(2, 0)
	for i := range 10 {
		p.StoreEvent(event(h, i))
	}
	p.StoreTrace(&trace.Trace{Header: h})
	p.Stop()

	units := recorder.Units()
	if len(units) != 1 {
		t.Fatalf("got %d units, want one batch: %v", len(units), units)
	}
	batch, ok := units[0].(*trace.Batch)
	if !ok {
		t.Fatalf("unit = %T, want *trace.Batch", units[0])
	}
	if len(batch.Chunks) != 2 || len(batch.Traces) != 1 || batch.EventCount() != 10 {
		t.Fatalf("batch has %d chunks, %d traces, %d events", len(batch.Chunks), len(batch.Traces), batch.EventCount())
	}
}

func TestSharedModeSendsLargeUnitsDirectly(t *testing.T) {
	cfg := testConfig(true)
	cfg.Buffer.MaxEvents = 20
	cfg.Shared.ThresholdPercent = 1 // threshold of 10 events
	p, recorder, _ := startPipeline(t, cfg)

	large := header(3, 0)
	for i := range 15 {
		p.StoreEvent(event(large, i))
	}
	p.StoreTrace(&trace.Trace{Header: large})

	small := header(4, 0)
	for i := range 3 {
		p.StoreEvent(event(small, i))
	}
	p.StoreTrace(&trace.Trace{Header: small})
	p.Stop()

	units := recorder.Units()
	if len(units) != 2 {
		t.Fatalf("got %d units, want 2: %v", len(units), units)
	}
	if units[0].Kind() != trace.KindTrace || units[0].EventCount() != 15 {
		t.Fatalf("first unit = %s with %d events, want trace with 15", units[0].Kind(), units[0].EventCount())
	}
	if units[1].Kind() != trace.KindBatch || units[1].EventCount() != 3 {
		t.Fatalf("second unit = %s with %d events, want batch with 3", units[1].Kind(), units[1].EventCount())
	}
}

func TestSharedAgeSweepFlushesIdleAsyncEvents(t *testing.T) {
	cfg := testConfig(true)
	p, recorder, fake := startPipeline(t, cfg)

	h := header(5, 7)
	for i := range 3 {
		p.StoreEvent(event(h, i))
	}
	waitFor(t, "async events processed", func() bool { return p.Stats().Async.Processed >= 3 })

	fake.Advance(cfg.Shared.Expiry.Duration + cfg.Shared.SweepPeriod.Duration)
	testutil.RequireReceive(t, recorder.Notify(), 5*time.Second, "waiting for age sweep")

	units := recorder.Units()
	chunk, ok := units[0].(*trace.PartialChunk)
	if !ok {
		t.Fatalf("unit = %T, want *trace.PartialChunk", units[0])
	}
	if len(chunk.Events) != 3 || chunk.Header.AsyncID != 7 {
		t.Fatalf("chunk = %d events, async id %d", len(chunk.Events), chunk.Header.AsyncID)
	}
}

func TestCloseTriggerReleasesAsyncStorage(t *testing.T) {
	p, recorder, _ := startPipeline(t, testConfig(false))

	// With max 4 and fill rate 70, a one-event async trace is below
	// the merge minimum and stays queued.
	asyncHeader := header(6, 1)
	p.StoreEvent(event(asyncHeader, 0))
	p.StoreTrace(&trace.Trace{Header: asyncHeader})
	waitFor(t, "async trace processed", func() bool { return p.Stats().Async.Processed >= 2 })
	if len(recorder.Units()) != 0 {
		t.Fatalf("async trace sent before its parent closed: %v", recorder.Units())
	}

	p.StoreTrace(&trace.Trace{Header: header(6, 0)})
	waitFor(t, "parent and async trace sent", func() bool { return len(recorder.Units()) == 2 })

	var released *trace.Trace
	for _, unit := range recorder.Units() {
		if finished, ok := unit.(*trace.Trace); ok && finished.Header.AsyncID == 1 {
			released = finished
		}
	}
	if released == nil || len(released.Events) != 1 {
		t.Fatalf("async trace not released: %v", recorder.Units())
	}
}

func TestSharedModeKeepsAsyncSiblingsApart(t *testing.T) {
	p, recorder, _ := startPipeline(t, testConfig(true))

	first, second := header(9, 1), header(9, 2)
	p.StoreEvent(event(first, 10))
	p.StoreEvent(event(second, 20))
	p.StoreTrace(&trace.Trace{Header: first})
	p.Stop()

	var finished *trace.Trace
	chunked := 0
	for _, unit := range recorder.Units() {
		switch unit := unit.(type) {
		case *trace.Trace:
			finished = unit
		case *trace.PartialChunk:
			if unit.Header.AsyncID != 2 || len(unit.Events) != 1 || unit.Events[0].Sequence != 20 {
				t.Fatalf("chunk async=%d events=%d, want the async 2 event", unit.Header.AsyncID, len(unit.Events))
			}
			chunked++
		}
	}
	if finished == nil || finished.Header.AsyncID != 1 {
		t.Fatalf("async 1 trace not sent: %v", recorder.Units())
	}
	if len(finished.Events) != 1 || finished.Events[0].Sequence != 10 {
		t.Fatalf("async 1 trace carries %d events, want only its own", len(finished.Events))
	}
	if chunked != 1 {
		t.Fatalf("async 2 event sent in %d chunks, want 1", chunked)
	}
}

func TestStopFlushesAfterStartContextCancelled(t *testing.T) {
	recorder := transport.NewRecorder()
	p, err := New(testConfig(true), recorder, clock.Fake(epoch), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h := header(10, 0)
	p.StoreEvent(event(h, 0))
	p.StoreEvent(event(h, 1))
	waitFor(t, "events processed", func() bool { return p.Stats().Trace.Processed >= 2 })
	cancel()
	p.Stop()

	if got := recorder.EventCount(); got != 2 {
		t.Fatalf("sent %d of 2 events after the start context was cancelled", got)
	}
	if pending := p.Stats().BatchPending; pending != 0 {
		t.Fatalf("%d units left in the batcher", pending)
	}
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	p, recorder, _ := startPipeline(t, testConfig(true))
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("second Start succeeded")
	}
	p.Stop()
	p.Stop()

	p.StoreEvent(event(header(7, 0), 0))
	p.StoreTrace(&trace.Trace{Header: header(7, 0)})
	if len(recorder.Units()) != 0 {
		t.Fatalf("units sent after Stop: %v", recorder.Units())
	}
	if err := p.Start(context.Background()); err == nil {
		t.Fatalf("Start after Stop succeeded")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(true)
	cfg.Shared.FlushBatchSize = 2
	if _, err := New(cfg, transport.Discard, clock.Fake(epoch), nil); err == nil {
		t.Fatalf("New accepted flush batch size below buffer max")
	}
	if _, err := New(testConfig(true), nil, clock.Fake(epoch), nil); err == nil {
		t.Fatalf("New accepted a nil sender")
	}
}

func TestNewStreamSenderFromConfig(t *testing.T) {
	cfg := config.Default()
	sender, err := NewStreamSender(cfg, clock.Fake(epoch), nil)
	if err != nil {
		t.Fatalf("NewStreamSender: %v", err)
	}
	if stats := sender.Stats(); stats.Queued != 0 {
		t.Fatalf("new sender has queued frames: %+v", stats)
	}

	cfg.Transport.Compression = "brotli"
	if _, err := NewStreamSender(cfg, clock.Fake(epoch), nil); err == nil {
		t.Fatalf("NewStreamSender accepted unknown compression")
	}
}
