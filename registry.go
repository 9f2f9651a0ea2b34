// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "sync"

// Handler processes one received message. env exposes the frame and a
// cursor over its input parameters; out is the outgoing-buffer the handler
// must encode its response into (the static send buffer in single-threaded
// mode, or the invoking worker's scratchpad in multi-threaded mode — see
// server.go). A handler that has nothing to send back returns (0, nil).
type Handler func(env *Envelope, out []byte) (int, error)

// protocolRecord is the Go shape of spec.md §3's "Protocol record":
// {id, mapping action-id -> handler address, number of actions}.
type protocolRecord struct {
	id      uint8
	actions map[uint8]Handler
}

// Registry maps protocol id -> action id -> Handler (spec.md §4.3
// "Protocol registry"). All lookups and mutations take the same lock
// (I5: "handler lookup is serialized with respect to protocol
// registration/removal").
type Registry struct {
	mu        sync.RWMutex
	protocols map[uint8]*protocolRecord
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{protocols: make(map[uint8]*protocolRecord)}
}

// Register installs h as the handler for (protocolID, actionID), creating
// the protocol record if it does not already exist.
func (r *Registry) Register(protocolID, actionID uint8, h Handler) error {
	if h == nil {
		return ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.protocols[protocolID]
	if !ok {
		p = &protocolRecord{id: protocolID, actions: make(map[uint8]Handler)}
		r.protocols[protocolID] = p
	}
	p.actions[actionID] = h
	return nil
}

// RemoveProtocol removes every handler registered under protocolID.
func (r *Registry) RemoveProtocol(protocolID uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.protocols, protocolID)
}

// Lookup returns the handler for (protocolID, actionID), or ok==false if
// nothing is registered — the caller reports ErrUnknownAction to the
// originating client (spec.md §4.3 "Handler invocation").
func (r *Registry) Lookup(protocolID, actionID uint8) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.protocols[protocolID]
	if !ok {
		return nil, false
	}
	h, ok := p.actions[actionID]
	return h, ok
}

// ActionCount returns the number of actions registered under protocolID.
func (r *Registry) ActionCount(protocolID uint8) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[protocolID]
	if !ok {
		return 0
	}
	return len(p.actions)
}
