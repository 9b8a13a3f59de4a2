// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch moves producer calls off the traced application's
// goroutines and onto a single consumer.
//
// An [Engine] owns a bounded channel and one goroutine that drains it
// in batches and hands each message to a [Handler]. Producers never
// block for long and never see an error: a full queue drops (or waits
// up to a configured timeout and then drops), and anything arriving
// after Stop is ignored. A panicking handler call is logged and
// counted and the loop carries on.
//
// Because one goroutine runs every handler call, handlers and the
// buffers behind them need no locks, and events for the same trace
// are handled in submission order.
//
// [Dispatcher] is the handler for per-trace storages. The shared
// buffer in lib/shared is the other handler an engine runs.
//
// Stop drains everything already accepted, then runs a final
// [FlushAll] and [ForceCloseAll] on the consumer goroutine itself, so
// shutdown never races the consumer.
package dispatch
