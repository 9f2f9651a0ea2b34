// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import (
	"errors"
	"testing"
)

func noopHandler(*Envelope, []byte) (int, error) { return 0, nil }

func TestRegistry_LookupUnknown(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup(1, 1); ok {
		t.Fatalf("Lookup on empty registry reported ok=true")
	}
}

func TestRegistry_RegisterRejectsNilHandler(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(1, 1, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Register(nil): err = %v, want ErrInvalidArgument", err)
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(3, 7, noopHandler); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h, ok := r.Lookup(3, 7)
	if !ok || h == nil {
		t.Fatalf("Lookup(3,7) = %v, %v", h, ok)
	}
	if _, ok := r.Lookup(3, 8); ok {
		t.Fatalf("Lookup(3,8) should miss")
	}
	if _, ok := r.Lookup(4, 7); ok {
		t.Fatalf("Lookup(4,7) should miss")
	}
}

func TestRegistry_RegisterOverwritesAction(t *testing.T) {
	r := NewRegistry()
	called := 0
	first := func(*Envelope, []byte) (int, error) { called = 1; return 0, nil }
	second := func(*Envelope, []byte) (int, error) { called = 2; return 0, nil }

	_ = r.Register(1, 1, first)
	_ = r.Register(1, 1, second)

	h, ok := r.Lookup(1, 1)
	if !ok {
		t.Fatalf("Lookup after overwrite should hit")
	}
	_, _ = h(nil, nil)
	if called != 2 {
		t.Fatalf("called = %d, want 2 (second registration should win)", called)
	}
}

func TestRegistry_ActionCount(t *testing.T) {
	r := NewRegistry()
	if r.ActionCount(1) != 0 {
		t.Fatalf("ActionCount on unknown protocol should be 0")
	}
	_ = r.Register(1, 1, noopHandler)
	_ = r.Register(1, 2, noopHandler)
	if got := r.ActionCount(1); got != 2 {
		t.Fatalf("ActionCount(1) = %d, want 2", got)
	}
}

func TestRegistry_RemoveProtocol(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(2, 1, noopHandler)
	r.RemoveProtocol(2)
	if _, ok := r.Lookup(2, 1); ok {
		t.Fatalf("Lookup after RemoveProtocol should miss")
	}
	// Removing an already-absent protocol is a no-op, not an error.
	r.RemoveProtocol(2)
}
