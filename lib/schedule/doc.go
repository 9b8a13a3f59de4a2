// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package schedule drives the pipeline's periodic sweeps. The
// pipeline registers a flush-all sweep and an idle-close sweep against
// the per-trace engine, and an age and capacity sweep against the
// shared buffer's engine. Each task only enqueues a request, so runs
// are short and never touch buffers directly.
package schedule
