// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sync"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// Sender delivers wire units. Send is fire-and-forget: it must not
// block for long, and delivery failures are the sender's own concern.
// The pipeline assumes at-most-once delivery.
type Sender interface {
	Send(unit trace.Unit)
}

// Discard drops every unit.
var Discard Sender = discard{}

type discard struct{}

func (discard) Send(trace.Unit) {}

// Recorder keeps every unit in memory. Safe for concurrent use. Used
// by tests.
type Recorder struct {
	mu     sync.Mutex
	units  []trace.Unit
	notify chan struct{}
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) Send(unit trace.Unit) {
	r.mu.Lock()
	r.units = append(r.units, unit)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Notify receives a signal (coalesced) after each Send.
func (r *Recorder) Notify() <-chan struct{} { return r.notify }

// Units returns a copy of everything sent so far.
func (r *Recorder) Units() []trace.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]trace.Unit(nil), r.units...)
}

// EventCount sums EventCount over everything sent so far.
func (r *Recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, unit := range r.units {
		total += unit.EventCount()
	}
	return total
}
