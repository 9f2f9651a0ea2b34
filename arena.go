// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "sync"

// slotsPerWorker is the fixed per-worker slot count baked into the arena
// sizing formula from spec.md §3: "workers × slot_size × 32 bytes".
const slotsPerWorker = 32

// Slot is a fixed-size region carved out of an Arena. A Slot's buffer is
// exactly slotSize bytes (max_message_size + 512 reserved for envelope
// metadata ahead of the payload); it is reused across its lifetime and
// never grows.
type Slot struct {
	buf    []byte
	index  int
	inUse  bool
}

// Bytes returns the slot's backing buffer.
func (s *Slot) Bytes() []byte { return s.buf }

// Arena is a bump-pointer allocator over a single contiguous region, carved
// into fixed-size slots, with a free list of released slots and a single
// mutex guarding both (spec.md §4.5). It does not compact.
type Arena struct {
	mu       sync.Mutex
	region   []byte
	slotSize int
	numSlots int
	next     int
	free     []*Slot
	slots    []*Slot
}

// NewArena allocates a contiguous region of workers*slotSize*32 bytes and
// prepares it for slot allocation. workers and maxMessageSize must be > 0.
func NewArena(workers int, maxMessageSize uint32) (*Arena, error) {
	if workers <= 0 || maxMessageSize == 0 {
		return nil, ErrInvalidArgument
	}
	ss := slotSize(maxMessageSize)
	numSlots := workers * slotsPerWorker
	region := make([]byte, ss*numSlots)
	a := &Arena{
		region:   region,
		slotSize: ss,
		numSlots: numSlots,
		slots:    make([]*Slot, numSlots),
	}
	for i := 0; i < numSlots; i++ {
		a.slots[i] = &Slot{buf: region[i*ss : (i+1)*ss : (i+1)*ss], index: i}
	}
	return a, nil
}

// Allocate returns a free slot, reusing one from the free list before
// bumping into never-used slots, or ErrOutOfMemory once both are exhausted.
func (a *Arena) Allocate() (*Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		s := a.free[n-1]
		a.free = a.free[:n-1]
		s.inUse = true
		return s, nil
	}
	if a.next < a.numSlots {
		s := a.slots[a.next]
		a.next++
		s.inUse = true
		return s, nil
	}
	return nil, ErrOutOfMemory
}

// Free returns s to the free list. Freeing a slot that is not currently
// allocated is a no-op that reports ErrInvalidArgument: it is the single
// guard against the double-free bug the concurrency model calls out as the
// sharpest correctness risk on the message handoff path (spec.md §5).
func (a *Arena) Free(s *Slot) error {
	if s == nil {
		return ErrInvalidArgument
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if !s.inUse {
		return ErrInvalidArgument
	}
	s.inUse = false
	a.free = append(a.free, s)
	return nil
}

// Outstanding returns the number of slots currently allocated (not on the
// free list and not unused-bump-reserve). Used by tests to assert the free
// list returns to its initial size at quiescence (spec.md §8 S5).
func (a *Arena) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next - len(a.free)
}
