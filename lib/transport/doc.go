// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport delivers wire units to a collector.
//
// [Sender] is the narrow interface the pipeline flushes into. The
// production implementation, [StreamSender], encodes each unit as CBOR
// (see lib/codec), compresses it with LZ4 or zstd when that helps, and
// frames it with a length prefix and a BLAKE3 digest of the
// uncompressed payload. Frames wait in a byte-bounded [Queue] that
// drops the oldest frame when full, and one writer goroutine ships
// them over a Unix or TCP stream. Every connection opens with a
// [Hello] frame naming the agent and its version.
//
// [ReadFrame], [DecodeUnit] and [DecodeHello] are the receiving side,
// used by collectors and tests.
//
// [Recorder] and [Discard] are in-memory senders for tests and dry
// runs.
package transport
