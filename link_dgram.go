// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"hash/fnv"

	"golang.org/x/sys/unix"
)

// dgramHandleBase separates synthetic datagram client handles from real
// stream file descriptors, which the kernel always hands out as small
// non-negative integers: keying both kinds of client by one integer handle
// (spec.md §9) only works if the two ranges cannot collide.
const dgramHandleBase = 1 << 32

// dgramPrivate is a datagram client's link-private state: a peer address on
// the shared datagram socket, not a private file descriptor (spec.md §3
// "Client record": "peer address for datagram").
type dgramPrivate struct {
	addr unix.Sockaddr
}

func (p *dgramPrivate) Destroy() {}

// OriginHandle derives a stable integer handle for a datagram peer address,
// so the same peer always maps to the same ClientTable entry without the
// link and the server core needing to share an address-keyed index.
func (l *unixLink) OriginHandle(origin *datagramOrigin) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sockaddrKey(origin.addr)))
	return int(dgramHandleBase + int64(h.Sum64()&0x7fffffff))
}

func sockaddrKey(addr unix.Sockaddr) string {
	switch a := addr.(type) {
	case *unix.SockaddrUnix:
		return "unix:" + a.Name
	default:
		return ""
	}
}

// RecvPacket performs one atomic datagram receive (spec.md §4.1): either a
// full frame is decoded, or ErrNoData/err is returned and nothing is
// dispatched (spec.md §8 B3).
func (l *unixLink) RecvPacket(buf []byte) (*Frame, *datagramOrigin, error) {
	if l.dgramFD < 0 {
		return nil, nil, ErrNotSupported
	}
	for {
		n, from, err := unix.Recvfrom(l.dgramFD, buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil, ErrNoData
		}
		if err != nil {
			return nil, nil, err
		}
		if n < headerLen || from == nil {
			return nil, nil, ErrNoData
		}
		origin := &datagramOrigin{addr: from}
		frame, err := DecodeFrame(buf[:n], l.maxMessageSize)
		if err != nil {
			// origin is still returned: the frame is malformed but the
			// packet boundary and sender address are intact, so the error
			// is addressable (spec.md §3 I3).
			return nil, origin, err
		}
		return frame, origin, nil
	}
}

// Respond replies to a datagram origin directly by address, used when no
// ClientHandle exists (spec.md §4.1).
func (l *unixLink) Respond(origin *datagramOrigin, buf []byte) error {
	if l.dgramFD < 0 {
		return ErrNotSupported
	}
	return l.sendto(origin.addr, buf)
}

// CreateClient synthesizes a client record for a datagram peer first seen
// via a subscribe control message (spec.md §4.6).
func (l *unixLink) CreateClient(origin *datagramOrigin) (*ClientHandle, error) {
	return &ClientHandle{
		Handle:  l.OriginHandle(origin),
		private: &dgramPrivate{addr: origin.addr},
	}, nil
}

func (l *unixLink) sendDatagram(c *ClientHandle, buf []byte) error {
	dp, ok := c.private.(*dgramPrivate)
	if !ok {
		return ErrInvalidArgument
	}
	return l.sendto(dp.addr, buf)
}

func (l *unixLink) sendto(addr unix.Sockaddr, buf []byte) error {
	for {
		err := unix.Sendto(l.dgramFD, buf, 0, addr)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			continue
		}
		if err != nil {
			return ErrBrokenFrame
		}
		return nil
	}
}
