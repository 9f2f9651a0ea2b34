// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "sync"

// allProtocols is the subscription-bitmap sentinel meaning "all protocols"
// (spec.md §3 I4).
const allProtocols uint8 = 0xFF

// Subscriptions is a 256-bit bitmap indexed by protocol id, one bit per
// possible protocol id 0..255 (spec.md §3 "Client record").
type Subscriptions [32]byte

// Set marks protocol as subscribed. Setting protocol 0xFF sets every bit.
func (s *Subscriptions) Set(protocol uint8) {
	if protocol == allProtocols {
		for i := range s {
			s[i] = 0xFF
		}
		return
	}
	s[protocol/8] |= 1 << (protocol % 8)
}

// Clear unmarks protocol. Clearing protocol 0xFF clears every bit.
func (s *Subscriptions) Clear(protocol uint8) {
	if protocol == allProtocols {
		for i := range s {
			s[i] = 0
		}
		return
	}
	s[protocol/8] &^= 1 << (protocol % 8)
}

// Test reports whether protocol is subscribed.
func (s *Subscriptions) Test(protocol uint8) bool {
	return s[protocol/8]&(1<<(protocol%8)) != 0
}

// linkPrivate is the transport-specific state a Link attaches to a client
// record: a peer address for datagram clients, or a file descriptor plus
// reactor registration for stream clients (spec.md §3 "Client record").
type linkPrivate interface {
	// Destroy releases this client's transport resources. Idempotent.
	Destroy()
}

// ClientHandle is the Go shape of spec.md §3's "Client record": a stable
// integer handle, a subscription bitmap, and link-private transport state.
// Client and link code must key across the client-table/link boundary by
// this integer handle, never by pointer (spec.md §9 "break by always keying
// across the boundary by the integer connection handle").
type ClientHandle struct {
	Handle  int
	Subs    Subscriptions
	private linkPrivate
}

// ClientTable maps connection handle to ClientHandle (spec.md §4.3
// "Client table"). Guarded by its own mutex (spec.md §5 groups it with the
// registry under one "sync_object"; this implementation gives each its own
// narrower lock — see DESIGN.md — since nothing requires atomicity across
// the two).
type ClientTable struct {
	mu      sync.Mutex
	clients map[int]*ClientHandle
}

// NewClientTable returns an empty ClientTable.
func NewClientTable() *ClientTable {
	return &ClientTable{clients: make(map[int]*ClientHandle)}
}

// Insert adds c, keyed by c.Handle. Returns ErrInvalidArgument if an entry
// already exists for that handle (I2: "no duplicate entries").
func (t *ClientTable) Insert(c *ClientHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.clients[c.Handle]; exists {
		return ErrInvalidArgument
	}
	t.clients[c.Handle] = c
	return nil
}

// Remove deletes the entry for handle, if any, and returns it.
func (t *ClientTable) Remove(handle int) (*ClientHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[handle]
	if ok {
		delete(t.clients, handle)
	}
	return c, ok
}

// Get returns the client record for handle.
func (t *ClientTable) Get(handle int) (*ClientHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.clients[handle]
	return c, ok
}

// Len returns the number of connected clients.
func (t *ClientTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Range calls fn for every client in table iteration order, stopping early
// if fn returns false. Used by Broadcast (spec.md §4.3 "iterate the client
// table") and by Shutdown to enumerate and destroy every client. Range
// snapshots the handle set before calling fn so fn may safely call Remove.
func (t *ClientTable) Range(fn func(*ClientHandle) bool) {
	t.mu.Lock()
	snapshot := make([]*ClientHandle, 0, len(t.clients))
	for _, c := range t.clients {
		snapshot = append(snapshot, c)
	}
	t.mu.Unlock()

	for _, c := range snapshot {
		if !fn(c) {
			return
		}
	}
}
