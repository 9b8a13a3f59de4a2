// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the tracebuffer agent's YAML configuration.
//
// Configuration comes from a single file named either by the
// TRACEBUFFER_CONFIG environment variable ([Load]) or a --config flag
// ([LoadFile]). There is no search path and no environment override of
// individual values, so the file on disk is the whole story.
//
// The file may carry development/staging/production sections that
// override base values when [Config].Environment matches. Production
// is stricter by default: a full dispatch queue drops instead of
// blocking the producer.
//
// ${VAR} and ${VAR:-default} are expanded in the transport address
// after loading.
//
// [Config.Validate] enforces the invariants the pipeline relies on,
// most importantly that the shared buffer's flush batch size is at
// least the per-trace buffer maximum. Without it a capacity sweep
// could select nothing and never reach its target.
package config
