// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package buffer

import (
	"testing"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

func TestTriggerRunsHooksAfterDelegating(t *testing.T) {
	sink := &recorder{}
	key := testKey(1)
	inner := New(key, testOptions(10, sink, clock.Fake(epoch)))

	var calls []string
	trigger := NewTrigger(inner, Hooks{
		OnStoreEvent: func(event *trace.Event) {
			if inner.Size() == 0 {
				t.Error("OnStoreEvent ran before the inner store")
			}
			calls = append(calls, "event")
		},
		OnStoreTrace: func(finished *trace.Trace) {
			if len(sink.units) == 0 {
				t.Error("OnStoreTrace ran before the trace was emitted")
			}
			calls = append(calls, "trace")
		},
		OnClose: func() { calls = append(calls, "close") },
	})

	trigger.StoreEvent(newEvent(key, 0))
	trigger.StoreTrace(&trace.Trace{})
	trigger.Flush()
	trigger.Close()

	want := []string{"event", "trace", "close"}
	if len(calls) != len(want) {
		t.Fatalf("hook calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("hook calls = %v, want %v", calls, want)
		}
	}
	if trigger.Inner() != Storage(inner) {
		t.Fatal("Inner() did not return the wrapped storage")
	}
	if !trigger.IsEmpty() || trigger.Size() != 0 || !trigger.LastAccessTime().Equal(inner.LastAccessTime()) {
		t.Fatal("Trigger queries do not reflect the inner storage")
	}
}
