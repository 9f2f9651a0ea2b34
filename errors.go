// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"golang.org/x/sys/unix"
)

// Error kinds (spec §7). These are realized directly as unix.Errno values:
// both the original C library and the spec name POSIX errno symbols, so
// there is no translation layer between the Go sentinel and the wire status
// code sent back to a remote caller on ENOENT (see sendControlError in
// server.go).
var (
	// ErrAlreadyInitialized is returned by Server.Init when called twice.
	ErrAlreadyInitialized error = unix.EALREADY

	// ErrInvalidArgument reports a nil/invalid configuration argument.
	ErrInvalidArgument error = unix.EINVAL

	// ErrNotSupported reports that a Link cannot provide a requested
	// transport kind (STREAM or DGRAM).
	ErrNotSupported error = unix.ENOTSUP

	// ErrOutOfMemory reports an allocation failure (arena or static buffers).
	ErrOutOfMemory error = unix.ENOMEM

	// ErrTooLong reports a frame exceeding max_message_size.
	ErrTooLong error = unix.E2BIG

	// ErrBrokenFrame reports a short read/write that left a frame partially
	// transferred; the owning connection is torn down.
	ErrBrokenFrame error = unix.EPIPE

	// ErrNoData reports that a non-blocking drain found nothing pending.
	ErrNoData error = unix.ENODATA

	// ErrUnknownAction reports a (protocol, action) pair with no registered
	// handler. Never surfaced to the server's caller: reported to the
	// remote sender as a control error event instead (see sendControlError
	// in server.go).
	ErrUnknownAction error = unix.ENOENT
)

// wireStatus returns the numeric errno to encode in a control error event's
// scalar parameter for err: any unix.Errno is passed through as is, and
// ErrUnknownAction's code is used when err is not a unix.Errno.
func wireStatus(err error) uint32 {
	if errno, ok := err.(unix.Errno); ok {
		return uint32(errno)
	}
	return uint32(unix.ENOENT)
}
