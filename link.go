// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"golang.org/x/sys/unix"
)

// LinkKind selects one of the two transport duplexes a Link may expose
// (spec.md §4.1).
type LinkKind uint8

const (
	LinkStream   LinkKind = 1
	LinkDatagram LinkKind = 2
)

// SocketConfig names the local/UNIX-domain address a Link listens on
// (spec.md §6 "Socket link configuration"). Cross-host transport is out of
// scope (spec.md §1 Non-goals), so Address is always a filesystem path for
// AF_UNIX, never a host:port.
type SocketConfig struct {
	StreamAddress   string // "" disables the stream listener
	DatagramAddress string // "" disables the datagram listener
}

// Link is the transport duplex abstraction of spec.md §4.1: a stream mode
// (one connection per client) and a datagram mode (one shared socket),
// either of which a concrete implementation may decline to support.
type Link interface {
	// Listen returns the OS handle of kind's listening socket, or
	// ErrNotSupported if this Link cannot provide that kind. It does not
	// touch any Reactor: the caller registers the handle itself.
	Listen(kind LinkKind) (handle int, err error)

	// Accept produces a new stream client record for a ready stream
	// listener handle. Must only be called after the reactor reports the
	// stream listen handle readable.
	Accept() (*ClientHandle, error)

	// RecvPacket performs one atomic datagram receive: either a full frame
	// is decoded, or ErrNoData/err is returned and nothing is dispatched.
	// The returned origin carries the sender's address for CreateClient.
	RecvPacket(buf []byte) (*Frame, *datagramOrigin, error)

	// RecvClient reads exactly one frame from a stream client: the header
	// and descriptor table, then the payload, with wait-all semantics. A
	// partial read is fatal for the connection (ErrBrokenFrame).
	RecvClient(c *ClientHandle, buf []byte) (*Frame, error)

	// SendClient writes buf as a single gathered frame write. A short
	// write is reported as ErrBrokenFrame.
	SendClient(c *ClientHandle, buf []byte) error

	// Respond replies to a datagram origin directly by address, used when
	// no ClientHandle exists yet (e.g. rejecting an over-size first packet).
	Respond(origin *datagramOrigin, buf []byte) error

	// CreateClient synthesizes a client record for a datagram peer seen for
	// the first time via a subscribe control message.
	CreateClient(origin *datagramOrigin) (*ClientHandle, error)

	// OriginHandle derives the stable integer handle a datagram peer address
	// maps to, so the server core can look up an existing ClientTable entry
	// before calling CreateClient again for the same peer.
	OriginHandle(origin *datagramOrigin) int

	// DestroyClient releases a client's transport state. Idempotent.
	DestroyClient(c *ClientHandle) error

	// Destroy releases both listening handles. Idempotent.
	Destroy() error
}

// datagramOrigin carries a datagram sender's address across the
// Link.RecvPacket -> control.subscribe -> Link.CreateClient path (spec.md
// §4.6).
type datagramOrigin struct {
	addr unix.Sockaddr
}

// unixLink implements Link over AF_UNIX sockets (SOCK_STREAM and
// SOCK_DGRAM), matching spec.md §6's local-domain-only configuration. I/O
// is done on raw non-blocking file descriptors so that partial-progress
// retries map directly onto the gather-write/wait-all state machine adapted
// from the teacher's framer codec (see link_codec.go).
type unixLink struct {
	streamPath string
	dgramPath  string

	streamFD int // -1 if unsupported
	dgramFD  int // -1 if unsupported

	maxMessageSize uint32
}

// NewUnixLink creates listening/bound sockets per cfg. An empty address
// leaves that kind unsupported; every configured address must bind, and a
// failure on either closes any socket already opened and returns that
// error. Returns ErrNotSupported if neither address is configured.
// maxMessageSize bounds every decoded frame
// (spec.md §3 I3, §7 E2BIG).
func NewUnixLink(cfg SocketConfig, maxMessageSize uint32) (Link, error) {
	l := &unixLink{streamFD: -1, dgramFD: -1, maxMessageSize: maxMessageSize}

	if cfg.StreamAddress != "" {
		fd, err := listenUnixStream(cfg.StreamAddress)
		if err != nil {
			return nil, err
		}
		l.streamFD = fd
		l.streamPath = cfg.StreamAddress
	}
	if cfg.DatagramAddress != "" {
		fd, err := bindUnixDatagram(cfg.DatagramAddress)
		if err != nil {
			if l.streamFD >= 0 {
				_ = unix.Close(l.streamFD)
			}
			return nil, err
		}
		l.dgramFD = fd
		l.dgramPath = cfg.DatagramAddress
	}
	if l.streamFD < 0 && l.dgramFD < 0 {
		return nil, ErrNotSupported
	}
	return l, nil
}

func (l *unixLink) Listen(kind LinkKind) (int, error) {
	switch kind {
	case LinkStream:
		if l.streamFD < 0 {
			return 0, ErrNotSupported
		}
		return l.streamFD, nil
	case LinkDatagram:
		if l.dgramFD < 0 {
			return 0, ErrNotSupported
		}
		return l.dgramFD, nil
	default:
		return 0, ErrInvalidArgument
	}
}

// DestroyClient releases c's transport state, dispatching on whichever
// private kind it carries. Idempotent (spec.md §9 supplemented feature).
func (l *unixLink) DestroyClient(c *ClientHandle) error {
	if c == nil || c.private == nil {
		return nil
	}
	c.private.Destroy()
	return nil
}

func (l *unixLink) Destroy() error {
	if l.streamFD >= 0 {
		_ = unix.Close(l.streamFD)
		_ = unix.Unlink(l.streamPath)
		l.streamFD = -1
	}
	if l.dgramFD >= 0 {
		_ = unix.Close(l.dgramFD)
		_ = unix.Unlink(l.dgramPath)
		l.dgramFD = -1
	}
	return nil
}
