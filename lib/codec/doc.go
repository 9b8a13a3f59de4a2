// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration every wire unit is
// encoded with.
//
// Units leave the process as CBOR inside transport frames. Encoding is
// Core Deterministic (sorted map keys, shortest integers, no
// indefinite lengths), which lets the transport compute a digest over
// the payload and lets tests compare encoded bytes directly.
//
// Struct tags on wire types use `cbor:"..."` with short keys; the
// types are never serialized as JSON.
package codec
