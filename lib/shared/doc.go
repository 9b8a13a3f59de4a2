// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shared bounds memory across all concurrently traced
// transactions.
//
// A shared [Buffer] keeps one per-trace buffer for every trace that
// has events waiting and never holds an empty one. Flush requests
// drive two sweeps:
//
//   - capacity: flush least recently accessed buffers until the
//     aggregate event count is at most the requested capacity
//   - age: flush buffers idle past an expiry, oldest first, stopping
//     at the first buffer still inside the window
//
// Both sweeps pack buffers greedily into batches of at most
// FlushBatchSize events. A batch of one buffer goes out as that
// buffer's partial chunk; two or more are drained into a single chunk
// list. Requiring FlushBatchSize to be at least the per-trace maximum
// guarantees every batch selects at least one buffer.
//
// The shared buffer is a dispatch.Handler: it runs on its own engine
// and is never touched from any other goroutine.
package shared
