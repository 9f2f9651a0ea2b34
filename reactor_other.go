// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package gracht

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollReactor implements Reactor on poll(2) for non-Linux unix platforms
// that lack epoll (darwin, *bsd). Same readiness contract as
// reactor_linux.go's epollReactor, traded for O(n) scan-per-wait instead of
// O(1): acceptable here since the reactor only ever watches the listener
// handles plus one entry per connected client, not a web-scale fd count.
type pollReactor struct {
	mu      sync.Mutex
	handles []int
	wakeR   int
	wakeW   int
	closed  bool
}

// NewReactor creates an owned poll-backed Reactor.
func NewReactor() (Reactor, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, err
	}
	return &pollReactor{wakeR: fds[0], wakeW: fds[1], handles: []int{fds[0]}}, nil
}

func (r *pollReactor) Owned() bool { return true }

func (r *pollReactor) Add(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.handles {
		if h == handle {
			return nil
		}
	}
	r.handles = append(r.handles, handle)
	return nil
}

func (r *pollReactor) Remove(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handles {
		if h == handle {
			r.handles = append(r.handles[:i], r.handles[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r *pollReactor) Wait(events []Event) (int, error) {
	for {
		r.mu.Lock()
		closed := r.closed
		fds := make([]unix.PollFd, len(r.handles))
		for i, h := range r.handles {
			fds[i] = unix.PollFd{Fd: int32(h), Events: unix.POLLIN}
		}
		r.mu.Unlock()
		if closed {
			return 0, errReactorClosed
		}

		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			continue
		}

		count := 0
		for _, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == r.wakeR {
				r.mu.Lock()
				closed := r.closed
				r.mu.Unlock()
				if closed {
					_ = unix.Close(r.wakeR)
					_ = unix.Close(r.wakeW)
					return 0, errReactorClosed
				}
				continue
			}
			if count >= len(events) {
				break
			}
			events[count] = Event{
				Handle:     int(pfd.Fd),
				In:         pfd.Revents&unix.POLLIN != 0,
				Disconnect: pfd.Revents&(unix.POLLHUP|unix.POLLERR) != 0,
			}
			count++
		}
		if count == 0 {
			continue
		}
		return count, nil
	}
}

func (r *pollReactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var b [1]byte
	_, _ = unix.Write(r.wakeW, b[:])
	return nil
}
