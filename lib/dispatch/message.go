// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/schema/trace"
)

// message is the sealed set of values the engine queue carries.
type message interface {
	kind() string
}

type eventMessage struct{ event *trace.Event }

type traceMessage struct{ trace *trace.Trace }

func (eventMessage) kind() string { return "event" }
func (traceMessage) kind() string { return "trace" }
func (FlushRequest) kind() string { return "flush" }
func (CloseRequest) kind() string { return "close" }

// FlushRequest asks a handler to emit buffered events without
// finalizing traces. With All unset it targets Key alone. With All set
// it sweeps: MaxAge limits the sweep to storages idle longer than
// MaxAge, MaxCapacity stops it once the aggregate size is at most
// MaxCapacity, and with neither set every storage is flushed.
type FlushRequest struct {
	Key         trace.Key
	All         bool
	MaxAge      time.Duration
	MaxCapacity int
}

// CloseRequest asks a handler to release storages. It mirrors
// FlushRequest; Force releases every storage regardless of content.
type CloseRequest struct {
	Key         trace.Key
	All         bool
	Force       bool
	MaxAge      time.Duration
	MaxCapacity int
}

// FlushKey targets one trace.
func FlushKey(key trace.Key) FlushRequest { return FlushRequest{Key: key} }

// FlushAll flushes every storage.
func FlushAll() FlushRequest { return FlushRequest{All: true} }

// FlushOlderThan flushes storages idle longer than age.
func FlushOlderThan(age time.Duration) FlushRequest {
	return FlushRequest{All: true, MaxAge: age}
}

// FlushOverCapacity flushes until at most capacity events remain.
func FlushOverCapacity(capacity int) FlushRequest {
	return FlushRequest{All: true, MaxCapacity: capacity}
}

// CloseKey targets one trace.
func CloseKey(key trace.Key) CloseRequest { return CloseRequest{Key: key} }

// CloseAll flushes every storage and releases the empty ones.
func CloseAll() CloseRequest { return CloseRequest{All: true} }

// ForceCloseAll releases every storage. Engines issue it last on Stop.
func ForceCloseAll() CloseRequest { return CloseRequest{All: true, Force: true} }

// CloseIdle releases storages idle longer than age.
func CloseIdle(age time.Duration) CloseRequest {
	return CloseRequest{All: true, MaxAge: age}
}

// Handler executes dequeued messages. Every call happens on the
// engine's consumer goroutine, one at a time, in queue order.
type Handler interface {
	StoreEvent(event *trace.Event)
	StoreTrace(t *trace.Trace)
	Flush(request FlushRequest)
	Close(request CloseRequest)
}
