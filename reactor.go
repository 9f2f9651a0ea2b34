// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

// Event is one readiness notification delivered by a Reactor (spec.md §4.2).
type Event struct {
	Handle     int
	In         bool // readable
	Disconnect bool // peer closed / hang-up
}

// Reactor abstracts the readiness-notification primitive the server core
// polls for I/O events. spec.md treats the underlying primitive as an
// external collaborator "specified only by its event model" (§1); Add,
// Remove, Wait and Close are that event model. Edge- vs level-triggered
// semantics are an implementation detail: Wait may be called repeatedly
// after a single readiness notification (the server core drains handles
// until ErrNoData, see server.go).
type Reactor interface {
	// Add registers handle for IN/DISCONNECT notifications. The server
	// calls Add from Init and from the reactor goroutine; it calls Remove
	// from the reactor goroutine, from worker goroutines and from Shutdown,
	// so implementations must accept Add/Remove concurrently with each
	// other and with a blocked Wait.
	Add(handle int) error

	// Remove unregisters handle. A no-op if handle was never added.
	Remove(handle int) error

	// Wait blocks until at least one event is available or the reactor is
	// closed, filling events and returning the count. Returns
	// errReactorClosed once Close has been called and no further events
	// will be produced.
	Wait(events []Event) (int, error)

	// Close releases the reactor's resources and unblocks any in-progress
	// Wait with errReactorClosed. Close is idempotent.
	Close() error

	// Owned reports whether the server created (and so must destroy) this
	// reactor, vs. one supplied externally via Config.Reactor (spec.md §4.3
	// "optional externally-provided reactor handle").
	Owned() bool
}

// errReactorClosed is returned by Wait after Close, and is how the server's
// event loop recognizes a cooperative shutdown (spec.md §5 "Shutdown is
// cooperative").
type reactorClosedError struct{}

func (reactorClosedError) Error() string { return "gracht: reactor closed" }

var errReactorClosed error = reactorClosedError{}

// externalReactor wraps a Reactor supplied by the caller so Owned reports
// false without each platform implementation needing to special-case it.
type externalReactor struct {
	Reactor
}

func (externalReactor) Owned() bool { return false }

// WrapExternalReactor adapts an externally-owned Reactor (already created
// and later destroyed by the caller) for use as Config.Reactor.
func WrapExternalReactor(r Reactor) Reactor {
	return externalReactor{Reactor: r}
}
