// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package flush decides how ready units leave the process.
//
// Everything that emits a unit does so through a [Flusher]. [Remote]
// hands units to a transport.Sender, [Log] only logs them, and
// [Chain] routes each unit to the first rule whose [Condition]
// matches. [Threshold] is the built-in size condition: the pipeline
// routes units of at most a percentage of the shared capacity into
// the [Batcher] and sends larger units straight out.
//
// The [Batcher] collects partial chunks and traces from any number of
// transactions. On every tick it takes what has accumulated and packs
// it greedily, in arrival order, into trace.Batch units of at most
// MaxEvents events. No unit is ever dropped: whatever does not fit
// the batcher is forwarded on its own.
package flush
