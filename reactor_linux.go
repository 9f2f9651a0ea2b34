// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build linux

package gracht

import (
	"sync"

	"golang.org/x/sys/unix"
)

// epollReactor implements Reactor on epoll. This is the "real" readiness
// primitive; reactor_other.go provides a poll(2)-based fallback for the
// rest of the unix family using the same per-platform-file idiom the
// teacher uses for internal/bo's byteorder_{be,le,unknown}.go.
type epollReactor struct {
	epfd   int
	wakeR  int
	wakeW  int
	owned  bool
	mu     sync.Mutex
	closed bool
}

// NewReactor creates an owned epoll-backed Reactor.
func NewReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	r := &epollReactor{epfd: epfd, wakeR: fds[0], wakeW: fds[1], owned: true}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, r.wakeR, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(r.wakeR),
	}); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(r.wakeR)
		_ = unix.Close(r.wakeW)
		return nil, err
	}
	return r, nil
}

func (r *epollReactor) Owned() bool { return r.owned }

func (r *epollReactor) Add(handle int) error {
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, handle, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(handle),
	})
}

func (r *epollReactor) Remove(handle int) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, handle, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *epollReactor) Wait(events []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(r.epfd, raw, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		count := 0
		for i := 0; i < n; i++ {
			fd := int(raw[i].Fd)
			if fd == r.wakeR {
				r.mu.Lock()
				closed := r.closed
				r.mu.Unlock()
				if closed {
					_ = unix.Close(r.epfd)
					_ = unix.Close(r.wakeR)
					_ = unix.Close(r.wakeW)
					return 0, errReactorClosed
				}
				continue
			}
			events[count] = Event{
				Handle:     fd,
				In:         raw[i].Events&unix.EPOLLIN != 0,
				Disconnect: raw[i].Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
			}
			count++
		}
		if count == 0 {
			continue
		}
		return count, nil
	}
}

// Close signals a blocked Wait to return errReactorClosed. Actual fd
// teardown happens inside Wait itself once it observes the shutdown signal:
// epfd/wakeR/wakeW are only ever closed by the goroutine blocked in Wait, so
// Close never closes an fd out from under a blocked epoll_wait.
func (r *epollReactor) Close() error {
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
