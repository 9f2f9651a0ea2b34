// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "testing"

// fakeReactor is a minimal Reactor used to exercise Server.disconnectClient
// without any real OS readiness primitive.
type fakeReactor struct {
	removed []int
}

func (r *fakeReactor) Add(int) error           { return nil }
func (r *fakeReactor) Remove(h int) error      { r.removed = append(r.removed, h); return nil }
func (r *fakeReactor) Wait([]Event) (int, error) { return 0, errReactorClosed }
func (r *fakeReactor) Close() error            { return nil }
func (r *fakeReactor) Owned() bool             { return true }

// fakeLink is a minimal Link used to exercise the control protocol without a
// real socket: it only implements the CreateClient/DestroyClient paths the
// control protocol drives.
type fakeLink struct {
	createClientCalls int
	destroyed         []int
}

func (l *fakeLink) Listen(LinkKind) (int, error)                  { return 0, ErrNotSupported }
func (l *fakeLink) Accept() (*ClientHandle, error)                { return nil, ErrNotSupported }
func (l *fakeLink) RecvPacket([]byte) (*Frame, *datagramOrigin, error) {
	return nil, nil, ErrNotSupported
}
func (l *fakeLink) RecvClient(*ClientHandle, []byte) (*Frame, error) { return nil, ErrNotSupported }
func (l *fakeLink) SendClient(*ClientHandle, []byte) error           { return nil }
func (l *fakeLink) Respond(*datagramOrigin, []byte) error            { return nil }

func (l *fakeLink) CreateClient(origin *datagramOrigin) (*ClientHandle, error) {
	l.createClientCalls++
	return &ClientHandle{Handle: l.OriginHandle(origin), private: &noopPrivate{}}, nil
}

func (l *fakeLink) OriginHandle(origin *datagramOrigin) int { return dgramHandleBase + 1 }

func (l *fakeLink) DestroyClient(c *ClientHandle) error {
	l.destroyed = append(l.destroyed, c.Handle)
	return nil
}

func (l *fakeLink) Destroy() error { return nil }

func newTestServer(link Link) *Server {
	s := &Server{
		link:     link,
		reactor:  &fakeReactor{},
		registry: NewRegistry(),
		clients:  NewClientTable(),
		logger:   nopLogger{},
	}
	s.registerControlProtocol()
	return s
}

func subscribeEnvelope(protocol uint8, client *ClientHandle, origin *datagramOrigin) *Envelope {
	return &Envelope{
		Client: client,
		Frame:  &Frame{ParamsIn: []ParamDescriptor{{Tag: ParamScalar, Scalar: uint64(protocol)}}},
		origin: origin,
	}
}

func TestControlSubscribe_ExistingClient(t *testing.T) {
	s := newTestServer(&fakeLink{})
	client := &ClientHandle{Handle: 1}
	_ = s.clients.Insert(client)

	env := subscribeEnvelope(9, client, nil)
	n, err := s.controlSubscribe(env, nil)
	if err != nil || n != 0 {
		t.Fatalf("controlSubscribe: n=%d err=%v", n, err)
	}
	if !client.Subs.Test(9) {
		t.Fatalf("protocol 9 should be subscribed")
	}
}

func TestControlSubscribe_DatagramFirstContact(t *testing.T) {
	link := &fakeLink{}
	s := newTestServer(link)

	origin := &datagramOrigin{}
	env := subscribeEnvelope(4, nil, origin)
	n, err := s.controlSubscribe(env, nil)
	if err != nil || n != 0 {
		t.Fatalf("controlSubscribe: n=%d err=%v", n, err)
	}
	if link.createClientCalls != 1 {
		t.Fatalf("createClientCalls = %d, want 1", link.createClientCalls)
	}
	if env.Client == nil {
		t.Fatalf("env.Client should be populated after first contact")
	}
	if !env.Client.Subs.Test(4) {
		t.Fatalf("protocol 4 should be subscribed on the synthesized client")
	}
	if _, ok := s.clients.Get(env.Client.Handle); !ok {
		t.Fatalf("synthesized client should be inserted into the client table")
	}
}

func TestControlSubscribe_DatagramNoOriginIsInvalid(t *testing.T) {
	s := newTestServer(&fakeLink{})
	env := subscribeEnvelope(1, nil, nil)
	if _, err := s.controlSubscribe(env, nil); err != ErrInvalidArgument {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestControlUnsubscribe_ClearsBit(t *testing.T) {
	s := newTestServer(&fakeLink{})
	client := &ClientHandle{Handle: 1}
	client.Subs.Set(9)
	_ = s.clients.Insert(client)

	env := subscribeEnvelope(9, client, nil)
	if _, err := s.controlUnsubscribe(env, nil); err != nil {
		t.Fatalf("controlUnsubscribe: %v", err)
	}
	if client.Subs.Test(9) {
		t.Fatalf("protocol 9 should be unsubscribed")
	}
	if _, ok := s.clients.Get(1); !ok {
		t.Fatalf("client should remain in the table after a single-protocol unsubscribe")
	}
}

func TestControlUnsubscribe_AllProtocolsDisconnects(t *testing.T) {
	link := &fakeLink{}
	s := newTestServer(link)
	client := &ClientHandle{Handle: 1}
	client.Subs.Set(allProtocols)
	_ = s.clients.Insert(client)

	env := subscribeEnvelope(allProtocols, client, nil)
	if _, err := s.controlUnsubscribe(env, nil); err != nil {
		t.Fatalf("controlUnsubscribe: %v", err)
	}
	if _, ok := s.clients.Get(1); ok {
		t.Fatalf("client should be removed from the table after unsubscribe(0xFF)")
	}
	if len(link.destroyed) != 1 || link.destroyed[0] != 1 {
		t.Fatalf("link.DestroyClient should have been called for handle 1, got %v", link.destroyed)
	}
}

func TestControlUnsubscribe_NoClientIsNoop(t *testing.T) {
	s := newTestServer(&fakeLink{})
	env := subscribeEnvelope(1, nil, nil)
	if _, err := s.controlUnsubscribe(env, nil); err != nil {
		t.Fatalf("controlUnsubscribe with no client: %v", err)
	}
}

func TestRegisterRejectsControlProtocol(t *testing.T) {
	s := newTestServer(&fakeLink{})
	if err := s.Register(controlProtocolID, 5, noopHandler); err != ErrInvalidArgument {
		t.Fatalf("Register(protocol 0): err = %v, want ErrInvalidArgument", err)
	}
}
