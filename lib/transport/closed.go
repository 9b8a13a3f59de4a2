// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// isPeerClosed reports whether err means the collector went away:
// EOF, a closed connection, a broken pipe, a reset, or nothing
// listening on the address. The writer reconnects quietly after these
// and logs anything else as a warning.
func isPeerClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EPIPE, syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ENOENT:
			return true
		}
	}
	return false
}
