// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the timeout helpers shared by pipeline tests.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-deadline
// pattern so that individual tests never call time.After themselves.
// Everything else in the test suite runs on lib/clock's fake clock;
// these helpers are the only wall-clock timeouts, and they exist only
// to turn a hang into a failure.
//
// [SocketDir] returns a short directory for Unix sockets, which have a
// 108-byte path limit that t.TempDir() can exceed.
package testutil
