// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// tracebuffer-agent is a synthetic load driver for the buffering
// pipeline. Producer goroutines play the part of instrumented
// application threads, storing events and completed traces
// concurrently; the pipeline turns them into wire units and streams
// them to a collector over a Unix or TCP socket.
//
// Configuration comes from --config, else $TRACEBUFFER_CONFIG, else
// the built-in defaults. With --dry-run units are counted and logged
// at debug level, and no collector is needed.
//
// On SIGINT or SIGTERM the producers stop, the pipeline flushes
// everything it holds, and the stream sender makes a bounded final
// drain before exit.
package main
