// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies the network errors pfex treats as routine.
package netutil

import (
	"errors"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, use of a closed connection, broken pipe or reset. An
// acquisition script that exits without closing its socket produces a
// reset; none of these deserve an error log.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}

// IsAddressInUse reports whether a listen failed because the address is
// still bound, typically by the previous run iteration's listener.
func IsAddressInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
