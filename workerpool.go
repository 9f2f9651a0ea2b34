// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

import "sync"

// workerPool is a fixed set of worker goroutines draining a bounded FIFO
// queue of received envelopes (spec.md §4.4). Each worker owns a private
// scratchpad buffer used as the outgoing response buffer, distinct from the
// arena slot backing the inbound message so a worker can read its inbound
// frame while composing the response (spec.md §4.3 "Dispatch mode").
type workerPool struct {
	queue   chan *Envelope
	wg      sync.WaitGroup
	invoke  func(env *Envelope, out []byte)
	scratch [][]byte
	metrics *Metrics
}

// queueDepth bounds the number of envelopes in flight ahead of the arena's
// own ceiling (workers*32 slots): a queue at least that deep never rejects
// an envelope the arena was willing to allocate.
func queueDepth(workers int) int {
	return workers * slotsPerWorker
}

// newWorkerPool starts n workers, each with a slotSize-byte scratchpad, that
// call invoke(env, scratchpad) for every dispatched envelope. metrics may be
// nil.
func newWorkerPool(n int, slotSize int, invoke func(env *Envelope, out []byte), metrics *Metrics) *workerPool {
	p := &workerPool{
		queue:   make(chan *Envelope, queueDepth(n)),
		invoke:  invoke,
		scratch: make([][]byte, n),
		metrics: metrics,
	}
	for i := 0; i < n; i++ {
		p.scratch[i] = make([]byte, slotSize)
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

func (p *workerPool) run(id int) {
	defer p.wg.Done()
	out := p.scratch[id]
	for env := range p.queue {
		if p.metrics != nil {
			p.metrics.queueDepth.Set(float64(len(p.queue)))
		}
		p.invoke(env, out)
	}
}

// Dispatch enqueues env for handling by the next free worker. Blocks if the
// queue is full (spec.md §5 "Blocking sends have no timeout").
func (p *workerPool) Dispatch(env *Envelope) {
	p.queue <- env
	if p.metrics != nil {
		p.metrics.queueDepth.Set(float64(len(p.queue)))
	}
}

// Shutdown signals all workers and waits for the queue to drain (spec.md
// §4.4 "drains the queue freeing envelopes" — freeing happens inside
// invoke, via Server.freeSlot, for every envelope still in the channel
// when it's closed).
func (p *workerPool) Shutdown() {
	close(p.queue)
	p.wg.Wait()
}
