// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// listenUnixStream creates a non-blocking AF_UNIX/SOCK_STREAM listener bound
// to path, removing any stale socket file left behind by a prior run.
func listenUnixStream(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// bindUnixDatagram creates a non-blocking AF_UNIX/SOCK_DGRAM socket bound to
// path, removing any stale socket file left behind by a prior run.
func bindUnixDatagram(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	_ = unix.Unlink(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// readWaitAll fills buf completely from fd, busy-retrying on EAGAIN the way
// the teacher's framer codec retries iox.ErrWouldBlock (readOnce /
// waitOnceOnWouldBlock): the fd is non-blocking because the reactor
// multiplexes it, but once a frame has started arriving spec.md §4.1
// demands wait-all semantics for the remainder of it.
//
// Returns ErrNoData if not a single byte was available (the common case
// when draining a handle after the reactor's readiness notification has
// already been satisfied by an earlier call), or ErrBrokenFrame if the
// connection closed or errored after partial progress (spec.md §8 B4).
func readWaitAll(fd int, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := unix.Read(fd, buf[got:])
		if n > 0 {
			got += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			if got == 0 {
				return ErrNoData
			}
			runtime.Gosched()
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if got == 0 && err == nil {
			return ErrNoData
		}
		return ErrBrokenFrame
	}
	return nil
}

// writeWaitAll writes every byte of buf to fd, retrying on EAGAIN/EINTR.
// A partial write that cannot be completed (any other error) is reported as
// ErrBrokenFrame: spec.md §4.1 requires send_client to write the full frame
// atomically from the caller's perspective.
func writeWaitAll(fd int, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, err := unix.Write(fd, buf[sent:])
		if n > 0 {
			sent += n
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			runtime.Gosched()
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return ErrBrokenFrame
	}
	return nil
}

// writevWaitAll performs a gathered write of iovecs to fd (spec.md §4.1
// "the first I/O-vector is the fixed header + descriptor table; each
// subsequent vector is one inline BUFFER parameter's payload"), retrying on
// partial progress until every byte of every segment has been written.
func writevWaitAll(fd int, iovecs [][]byte) error {
	segs := make([][]byte, 0, len(iovecs))
	for _, v := range iovecs {
		if len(v) > 0 {
			segs = append(segs, v)
		}
	}
	for len(segs) > 0 {
		n, err := unix.Writev(fd, segs)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			runtime.Gosched()
			continue
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil && n == 0 {
			return ErrBrokenFrame
		}
		for n > 0 && len(segs) > 0 {
			if n < len(segs[0]) {
				segs[0] = segs[0][n:]
				n = 0
				break
			}
			n -= len(segs[0])
			segs = segs[1:]
		}
		if err != nil && len(segs) > 0 {
			return ErrBrokenFrame
		}
	}
	return nil
}
