// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package buffer holds trace events between the producer and the
// flush path.
//
// A [Buffer] owns the events of one trace. It emits a partial chunk
// whenever it reaches its maximum, and attaches whatever is left to
// the trace when the trace is stored. An [AsyncBuffer] does the same
// for the async sub-executions of one parent span and merges
// completed sub-traces into async chunks.
//
// [Repository] maps trace keys to storages and keeps them in access
// order for sweeps. [Trigger] wraps any [Storage] with hooks that run
// after each call.
//
// Nothing in this package locks. Every type is owned by exactly one
// dispatch engine consumer goroutine (see lib/dispatch), which is what
// makes per-trace ordering hold.
package buffer
