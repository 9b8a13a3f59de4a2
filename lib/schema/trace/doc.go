// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace defines the data model that flows through the
// buffering pipeline: trace identity, events, finalized traces, and
// the wire units the pipeline hands to a sender.
//
// Producers create a [Trace] at transaction start and a stream of
// [Event] values while it runs. Each Event carries a copy of its
// trace's [Header] so that the consumer goroutine can route it by
// [Key] without touching the Trace. The pipeline emits one of five
// [Unit] kinds:
//
//   - [Trace]: a finalized transaction with all of its buffered events
//   - [PartialChunk]: events emitted before the trace finished
//   - [ChunkList]: event runs of several traces drained together
//   - [AsyncChunk]: completed async sub-executions of one parent span
//   - [Batch]: chunks and traces packed by the periodic batcher
//
// [Unit.EventCount] is the size measure behind every capacity rule.
// The Unit interface is sealed so that type switches over it are
// exhaustive.
//
// All wire types encode as CBOR via lib/codec. IDs encode as raw byte
// strings.
package trace
