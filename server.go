// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Callbacks are the optional connect/disconnect notifications (spec.md §4.3
// Initialization "callbacks (onConnect, onDisconnect)"). They run on the
// goroutine that connects or disconnects the client: usually the reactor
// goroutine, but a worker goroutine when a control-protocol subscribe or a
// failed send happens inside a pooled handler, and the caller's goroutine
// for clients destroyed by Shutdown.
type Callbacks struct {
	OnConnect    func(handle int)
	OnDisconnect func(handle int)
}

// Config configures a Server (spec.md §6 "Server configuration").
type Config struct {
	// Link is the transport duplex the server drives. Required.
	Link Link

	Callbacks Callbacks

	// MaxMessageSize bounds every frame; zero uses DefaultMaxMessageSize.
	MaxMessageSize uint32

	// ServerWorkers selects dispatch mode: >1 enables the worker pool
	// (multi-threaded), otherwise handlers run inline on the reactor thread.
	ServerWorkers int

	// Reactor, if non-nil, is an externally-owned readiness primitive the
	// server will not destroy on Shutdown (spec.md §6 "set_descriptor").
	Reactor Reactor

	// Logger and Metrics are optional; nil disables each.
	Logger  Logger
	Metrics *Metrics
}

// Server is the value-type server core of spec.md §4.3: initialization, the
// reactor event loop, event demultiplexing, buffer provisioning, dispatch
// mode selection, broadcast and shutdown. Construct with &Server{} and call
// Init; the zero value is not otherwise usable.
type Server struct {
	stateMu     sync.Mutex
	initialized bool
	shutdown    bool

	link     Link
	reactor  Reactor
	registry *Registry
	clients  *ClientTable
	arena    *Arena
	pool     *workerPool

	sendBuf      []byte
	recvBuf      []byte
	broadcastBuf []byte
	broadcastMu  sync.Mutex

	maxMessageSize uint32

	listenStreamHandle int
	listenDgramHandle  int

	// wakeR/wakeW are a self-pipe registered with the reactor purely to
	// unblock Run's Wait on Shutdown. An externally-owned reactor (spec.md
	// §4.3 "if provided, server does not destroy it") is never closed by
	// the server, so Run cannot rely on errReactorClosed in that case; the
	// wake pipe gives Shutdown an exit signal that works the same way for
	// both owned and external reactors.
	wakeR int
	wakeW int

	callbacks Callbacks
	logger    Logger
	metrics   *Metrics
}

// Init brings up the server per cfg: computes slot_size, allocates the
// arena and worker pool (ServerWorkers > 1) or the two static buffers
// (single-threaded), registers the built-in control protocol, and wires the
// reactor to the link's listening handles. Fails with ErrAlreadyInitialized
// if called twice, with allocations made so far unwound on any failure
// (spec.md §4.3, §7).
func (s *Server) Init(cfg Config) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.initialized {
		return ErrAlreadyInitialized
	}
	if cfg.Link == nil {
		return ErrInvalidArgument
	}

	var cleanups []func()
	rollback := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	maxMsg := cfg.MaxMessageSize
	if maxMsg == 0 {
		maxMsg = DefaultMaxMessageSize
	}
	ss := slotSize(maxMsg)

	s.link = cfg.Link
	s.maxMessageSize = maxMsg
	s.callbacks = cfg.Callbacks
	s.logger = cfg.Logger
	if s.logger == nil {
		s.logger = nopLogger{}
	}
	s.metrics = cfg.Metrics

	if cfg.ServerWorkers > 1 {
		arena, err := NewArena(cfg.ServerWorkers, maxMsg)
		if err != nil {
			rollback()
			return err
		}
		s.arena = arena
		s.pool = newWorkerPool(cfg.ServerWorkers, ss, s.invoke, s.metrics)
		cleanups = append(cleanups, func() { s.pool.Shutdown() })
	} else {
		s.sendBuf = make([]byte, ss)
		s.recvBuf = make([]byte, ss)
	}
	s.broadcastBuf = make([]byte, ss)

	s.registry = NewRegistry()
	s.registerControlProtocol()
	s.clients = NewClientTable()

	if cfg.Reactor != nil {
		s.reactor = cfg.Reactor
	} else {
		r, err := NewReactor()
		if err != nil {
			rollback()
			return err
		}
		s.reactor = r
		cleanups = append(cleanups, func() { _ = r.Close() })
	}

	var wakeFDs [2]int
	if err := unix.Pipe2(wakeFDs[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		rollback()
		return err
	}
	s.wakeR, s.wakeW = wakeFDs[0], wakeFDs[1]
	if err := s.reactor.Add(s.wakeR); err != nil {
		_ = unix.Close(s.wakeR)
		_ = unix.Close(s.wakeW)
		rollback()
		return err
	}
	cleanups = append(cleanups, func() {
		_ = s.reactor.Remove(s.wakeR)
		_ = unix.Close(s.wakeR)
		_ = unix.Close(s.wakeW)
	})

	s.listenStreamHandle = -1
	s.listenDgramHandle = -1

	if h, err := s.link.Listen(LinkStream); err == nil {
		s.listenStreamHandle = h
		if err := s.reactor.Add(h); err != nil {
			rollback()
			return err
		}
		cleanups = append(cleanups, func() { _ = s.reactor.Remove(h) })
	} else if err != ErrNotSupported {
		rollback()
		return err
	}

	if h, err := s.link.Listen(LinkDatagram); err == nil {
		s.listenDgramHandle = h
		if err := s.reactor.Add(h); err != nil {
			rollback()
			return err
		}
		cleanups = append(cleanups, func() { _ = s.reactor.Remove(h) })
	} else if err != ErrNotSupported {
		rollback()
		return err
	}

	if s.listenStreamHandle < 0 && s.listenDgramHandle < 0 {
		rollback()
		return ErrNotSupported
	}

	s.initialized = true
	return nil
}

// Register installs h as the handler for (protocolID, actionID). protocolID
// 0 is reserved for the control protocol and cannot be registered here
// (spec.md §4.6, §9).
func (s *Server) Register(protocolID, actionID uint8, h Handler) error {
	if protocolID == controlProtocolID {
		return ErrInvalidArgument
	}
	return s.registry.Register(protocolID, actionID, h)
}

// Run drives the reactor event loop until Shutdown signals the server's wake
// pipe (or the reactor reports it was closed). It
// is safe to call Run from any goroutine; Shutdown may be called
// concurrently from another.
func (s *Server) Run() error {
	events := make([]Event, 64)
	for {
		n, err := s.reactor.Wait(events)
		if err != nil {
			if err == errReactorClosed {
				return nil
			}
			return err
		}
		for i := 0; i < n; i++ {
			if events[i].Handle == s.wakeR {
				return nil
			}
			s.handleEvent(events[i])
		}
	}
}

func (s *Server) handleEvent(ev Event) {
	switch ev.Handle {
	case s.listenStreamHandle:
		s.acceptLoop()
	case s.listenDgramHandle:
		s.drainDatagram()
	default:
		s.handleStreamClient(ev)
	}
}

func (s *Server) acceptLoop() {
	for {
		c, err := s.link.Accept()
		if err == ErrNoData {
			return
		}
		if err != nil {
			s.logger.Error("gracht: accept failed", err)
			return
		}
		if err := s.clients.Insert(c); err != nil {
			_ = s.link.DestroyClient(c)
			continue
		}
		if err := s.reactor.Add(c.Handle); err != nil {
			s.clients.Remove(c.Handle)
			_ = s.link.DestroyClient(c)
			continue
		}
		s.fireConnect(c.Handle)
		if s.metrics != nil {
			s.metrics.connects.Inc()
		}
	}
}

func (s *Server) drainDatagram() {
	for {
		buf, slot, err := s.recvBuffer()
		if err != nil {
			s.logger.Error("gracht: recv buffer unavailable", err)
			return
		}
		frame, origin, err := s.link.RecvPacket(buf)
		if err == ErrNoData {
			s.freeSlot(slot)
			return
		}
		if err != nil {
			if origin != nil {
				s.reportDatagramError(origin, err, buf)
			}
			s.freeSlot(slot)
			s.logger.Warn("gracht: dropping datagram: " + err.Error())
			if s.metrics != nil {
				s.metrics.dropped.Inc()
			}
			continue
		}
		handle := s.link.OriginHandle(origin)
		client, _ := s.clients.Get(handle)
		env := &Envelope{Client: client, Frame: frame, origin: origin, slot: slot}
		s.routeDispatch(env)
	}
}

func (s *Server) handleStreamClient(ev Event) {
	client, ok := s.clients.Get(ev.Handle)
	if !ok {
		return
	}
	if ev.Disconnect {
		s.disconnectClient(client)
		return
	}
	for {
		buf, slot, err := s.recvBuffer()
		if err != nil {
			s.logger.Error("gracht: recv buffer unavailable", err)
			return
		}
		frame, err := s.link.RecvClient(client, buf)
		if err == ErrNoData {
			s.freeSlot(slot)
			return
		}
		if err == ErrBrokenFrame || err == ErrTooLong || err == ErrNotSupported {
			// A malformed or over-size stream frame cannot be skipped
			// without resynchronizing to the next frame boundary, which the
			// wire format gives no way to locate reliably; tear the
			// connection down instead (spec.md §3 I3, §7 EPIPE).
			s.freeSlot(slot)
			s.disconnectClient(client)
			return
		}
		if err != nil {
			s.freeSlot(slot)
			s.logger.Warn("gracht: dropping frame: " + err.Error())
			if s.metrics != nil {
				s.metrics.dropped.Inc()
			}
			continue
		}
		env := &Envelope{Client: client, Frame: frame, slot: slot}
		s.routeDispatch(env)
	}
}

func (s *Server) recvBuffer() ([]byte, *Slot, error) {
	if s.arena == nil {
		return s.recvBuf, nil, nil
	}
	slot, err := s.arena.Allocate()
	if err != nil {
		return nil, nil, err
	}
	return slot.Bytes(), slot, nil
}

func (s *Server) freeSlot(slot *Slot) {
	if slot != nil {
		_ = s.arena.Free(slot)
	}
}

func (s *Server) routeDispatch(env *Envelope) {
	if s.pool != nil {
		s.pool.Dispatch(env)
		return
	}
	s.invoke(env, s.sendBuf)
}

// invoke performs spec.md §4.3 "Handler invocation": look up (protocol,
// action) under the registry lock, send {messageId, ENOENT} on a miss, else
// advance the cursor and call the handler. It frees env's arena slot
// exactly once on return (I1, P3), whichever dispatch path invoked it.
func (s *Server) invoke(env *Envelope, out []byte) {
	defer s.freeSlot(env.slot)

	f := env.Frame
	h, ok := s.registry.Lookup(f.ProtocolID, f.ActionID)
	if !ok {
		s.sendControlError(env, out)
		if s.metrics != nil {
			s.metrics.dropped.Inc()
		}
		return
	}
	env.Reset()
	n, err := h(env, out)
	if err != nil {
		s.logger.WithFields(map[string]any{
			"protocol": f.ProtocolID,
			"action":   f.ActionID,
		}).Error("gracht: handler error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.dispatched.Inc()
	}
	if n > 0 {
		s.sendEncoded(env, out[:n])
	}
}

// sendControlError reports ErrUnknownAction to the originating client via
// the control protocol (spec.md §4.3, §7: "never surfaced to the server's
// caller").
func (s *Server) sendControlError(env *Envelope, out []byte) {
	n, err := EncodeFrame(out, env.Frame.MessageID, controlProtocolID, controlActionError, nil,
		[]OutParam{{Tag: ParamScalar, Scalar: uint64(wireStatus(ErrUnknownAction))}})
	if err != nil {
		s.logger.Error("gracht: failed to encode control error", err)
		return
	}
	s.sendEncoded(env, out[:n])
}

// reportDatagramError replies to a malformed datagram's sender with a
// control error event carrying err's wire status (spec.md §3 I3: "dropped
// with an error reported to the sender if addressable"). buf is reused to
// encode the reply before the caller frees its backing slot.
func (s *Server) reportDatagramError(origin *datagramOrigin, err error, buf []byte) {
	n, encErr := EncodeFrame(buf, 0, controlProtocolID, controlActionError, nil,
		[]OutParam{{Tag: ParamScalar, Scalar: uint64(wireStatus(err))}})
	if encErr != nil {
		return
	}
	_ = s.link.Respond(origin, buf[:n])
}

// sendEncoded writes buf back to env's origin: via the client record if one
// exists, else directly to the datagram origin address.
func (s *Server) sendEncoded(env *Envelope, buf []byte) {
	if env.Client != nil {
		if err := s.link.SendClient(env.Client, buf); err != nil {
			s.disconnectClient(env.Client)
		}
		return
	}
	if env.origin != nil {
		_ = s.link.Respond(env.origin, buf)
	}
}

// Broadcast sends buf to every client whose subscription bit for protocol is
// set (spec.md §4.3, P4). A failed send to one client does not abort the
// broadcast.
func (s *Server) Broadcast(protocol uint8, buf []byte) {
	s.clients.Range(func(c *ClientHandle) bool {
		if c.Subs.Test(protocol) {
			if err := s.link.SendClient(c, buf); err != nil {
				s.disconnectClient(c)
			} else if s.metrics != nil {
				s.metrics.broadcast.Inc()
			}
		}
		return true
	})
}

// BroadcastEvent encodes {id=0, protocol, action, params} (spec.md §9
// "events are unsolicited and carry id=0 by convention") and broadcasts it.
func (s *Server) BroadcastEvent(protocol, action uint8, params []OutParam) error {
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	n, err := EncodeFrame(s.broadcastBuf, 0, protocol, action, nil, params)
	if err != nil {
		return err
	}
	s.Broadcast(protocol, s.broadcastBuf[:n])
	return nil
}

// SendEvent encodes {id=0, protocol, action, params} and sends it to a
// single client by handle, returning ErrUnknownAction if handle is not in
// the client table (spec.md §8 S4: "subsequent send_event(handle=...) fails
// ENOENT").
func (s *Server) SendEvent(handle int, protocol, action uint8, params []OutParam) error {
	c, ok := s.clients.Get(handle)
	if !ok {
		return ErrUnknownAction
	}
	s.broadcastMu.Lock()
	defer s.broadcastMu.Unlock()
	n, err := EncodeFrame(s.broadcastBuf, 0, protocol, action, nil, params)
	if err != nil {
		return err
	}
	return s.link.SendClient(c, s.broadcastBuf[:n])
}

func (s *Server) disconnectClient(c *ClientHandle) {
	if _, ok := s.clients.Remove(c.Handle); !ok {
		return
	}
	_ = s.reactor.Remove(c.Handle)
	_ = s.link.DestroyClient(c)
	s.fireDisconnect(c.Handle)
	if s.metrics != nil {
		s.metrics.disconnects.Inc()
	}
}

func (s *Server) fireConnect(handle int) {
	if s.callbacks.OnConnect != nil {
		s.callbacks.OnConnect(handle)
	}
}

func (s *Server) fireDisconnect(handle int) {
	if s.callbacks.OnDisconnect != nil {
		s.callbacks.OnDisconnect(handle)
	}
}

// Shutdown enumerates and destroys every client, stops the reactor and
// worker pool, and destroys the link. Idempotent (spec.md §4.3, §9).
func (s *Server) Shutdown() error {
	s.stateMu.Lock()
	if !s.initialized || s.shutdown {
		s.stateMu.Unlock()
		return nil
	}
	s.shutdown = true
	s.stateMu.Unlock()

	s.clients.Range(func(c *ClientHandle) bool {
		s.disconnectClient(c)
		return true
	})

	var wakeByte [1]byte
	_, _ = unix.Write(s.wakeW, wakeByte[:])
	if s.reactor.Owned() {
		_ = s.reactor.Close()
	}

	if s.pool != nil {
		s.pool.Shutdown()
	}

	return s.link.Destroy()
}

// defaultServer is the opt-in process-wide singleton called out in spec.md
// §9 "Design Notes"; constructed lazily and guarded by sync.Once.
var (
	defaultServerOnce sync.Once
	defaultServer     *Server
)

// DefaultServer returns the process-wide Server, constructing (but not
// initializing) it on first use.
func DefaultServer() *Server {
	defaultServerOnce.Do(func() {
		defaultServer = &Server{}
	})
	return defaultServer
}
