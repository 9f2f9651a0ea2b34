// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"golang.org/x/sys/unix"
)

// streamPrivate is a stream client's link-private state (spec.md §3 "Client
// record": "file descriptor for stream"). The fd doubles as the
// ClientHandle.Handle so the reactor, the client table and the link all key
// the same connection by one integer (spec.md §9).
type streamPrivate struct {
	fd int
}

func (p *streamPrivate) Destroy() {
	if p.fd >= 0 {
		_ = unix.Close(p.fd)
		p.fd = -1
	}
}

// Accept produces a new stream client record. Only valid once the reactor
// reports the stream listen handle readable.
func (l *unixLink) Accept() (*ClientHandle, error) {
	if l.streamFD < 0 {
		return nil, ErrNotSupported
	}
	fd, _, err := unix.Accept4(l.streamFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrNoData
		}
		return nil, err
	}
	return &ClientHandle{Handle: fd, private: &streamPrivate{fd: fd}}, nil
}

// RecvClient reads exactly one frame from a stream client: the fixed header,
// then the descriptor table (phase 1), then the payload (phase 2), with
// wait-all semantics throughout once the frame has started arriving
// (spec.md §4.1).
func (l *unixLink) RecvClient(c *ClientHandle, buf []byte) (*Frame, error) {
	sp, ok := c.private.(*streamPrivate)
	if !ok {
		return nil, ErrInvalidArgument
	}
	if len(buf) < headerLen {
		return nil, ErrInvalidArgument
	}

	if err := readWaitAll(sp.fd, buf[:headerLen]); err != nil {
		return nil, err
	}

	total := int(uint32(buf[4]) | uint32(buf[5])<<8 | uint32(buf[6])<<16 | uint32(buf[7])<<24)
	if total < headerLen {
		return nil, ErrBrokenFrame
	}
	if l.maxMessageSize > 0 && uint32(total) > l.maxMessageSize {
		return nil, ErrTooLong
	}
	if total > len(buf) {
		return nil, ErrTooLong
	}

	nIn := int(buf[10])
	nOut := int(buf[11])
	descEnd := headerLen + (nIn+nOut)*descriptorLen
	if descEnd > total {
		return nil, ErrBrokenFrame
	}

	if descEnd > headerLen {
		if err := readWaitAll(sp.fd, buf[headerLen:descEnd]); err != nil {
			return nil, err
		}
	}
	if total > descEnd {
		if err := readWaitAll(sp.fd, buf[descEnd:total]); err != nil {
			return nil, err
		}
	}

	return DecodeFrame(buf[:total], l.maxMessageSize)
}

// SendClient writes buf (a fully-encoded frame, see EncodeFrame) to c's
// connection with wait-all semantics. A short write tears down the
// connection (spec.md §4.1, §7 EPIPE).
func (l *unixLink) SendClient(c *ClientHandle, buf []byte) error {
	sp, ok := c.private.(*streamPrivate)
	if !ok {
		// Datagram client: route through its own socket via sendto.
		return l.sendDatagram(c, buf)
	}
	return writevWaitAll(sp.fd, [][]byte{buf})
}
