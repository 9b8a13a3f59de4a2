// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger writes human-readable text when stderr is a terminal and
// JSON records otherwise, so piped output can be ingested as-is.
func newLogger(level slog.Level) *slog.Logger {
	return newLoggerFor(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level)
}

func newLoggerFor(output io.Writer, terminal bool, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(output, options))
	}
	return slog.New(slog.NewJSONHandler(output, options))
}
