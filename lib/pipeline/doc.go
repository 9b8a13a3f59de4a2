// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipeline assembles the buffering core from a config.Config.
//
// Two dispatch engines run side by side. The trace engine owns one
// buffer per trace. The second engine owns async work: with the shared
// buffer enabled it is the shared buffer, whose age and capacity
// sweeps bound memory across every trace; otherwise it is a dispatcher
// over async buffers that merge completed async sub-executions.
//
// With the shared buffer enabled, small partial chunks and traces from
// the trace engine go through a flush chain into the periodic batcher;
// anything over the threshold goes straight to the sender.
//
// Closing a stored trace's buffer releases that trace's async storage
// through a targeted close on the second engine.
package pipeline
