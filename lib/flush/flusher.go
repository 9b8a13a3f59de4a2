// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package flush

import (
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
	"github.com/bureau-foundation/tracebuffer/lib/transport"
)

// Flusher accepts a ready wire unit. Implementations must not block
// for long: buffers call Flush on a dispatch engine's consumer
// goroutine.
type Flusher interface {
	Flush(unit trace.Unit)
}

// FlusherFunc adapts a function to Flusher.
type FlusherFunc func(unit trace.Unit)

func (f FlusherFunc) Flush(unit trace.Unit) { f(unit) }

// Remote hands every unit straight to a sender.
type Remote struct {
	sender transport.Sender
	logger *slog.Logger
}

// NewRemote returns a Flusher that forwards to sender. A nil logger
// disables debug output.
func NewRemote(sender transport.Sender, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Remote{sender: sender, logger: logger}
}

func (r *Remote) Flush(unit trace.Unit) {
	r.logger.Debug("sending unit", "kind", unit.Kind(), "events", unit.EventCount())
	r.sender.Send(unit)
}

// Log counts units and writes a debug line for each instead of
// sending it. It is also a transport.Sender, which is how the load
// driver's dry-run mode plugs it in under the whole pipeline. Safe for
// concurrent use.
type Log struct {
	logger *slog.Logger
	units  atomic.Uint64
	events atomic.Uint64
}

var _ transport.Sender = (*Log)(nil)

// NewLog returns a Log flusher. A nil logger only counts.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Log{logger: logger}
}

func (l *Log) Flush(unit trace.Unit) {
	l.units.Add(1)
	l.events.Add(uint64(unit.EventCount()))
	l.logger.Debug("unit not sent", "kind", unit.Kind(), "events", unit.EventCount())
}

func (l *Log) Send(unit trace.Unit) { l.Flush(unit) }

// Units is the number of units seen so far.
func (l *Log) Units() uint64 { return l.units.Load() }

// Events is the number of events across every unit seen so far.
func (l *Log) Events() uint64 { return l.events.Load() }
