// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used across
// tracebuffer.
//
// Buffers record their last-access time from it, the shared buffer
// computes age cutoffs from it, and the scheduler, periodic batcher
// and transport shipper wait on it. Nothing in the pipeline calls the
// time package directly, so every time-driven path can be exercised
// deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	scheduler := schedule.New(fake, logger)
//	scheduler.Every("flush", time.Second, sweep)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second) // sweep runs synchronously here
//
// AfterFunc callbacks on a FakeClock run synchronously inside Advance,
// in deadline order. Channel deliveries (After, NewTicker) are
// non-blocking sends, so a test that advances past several ticker
// intervals sees at most one buffered tick.
package clock
