package fetch

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotsClosed is returned when acquiring from a closed slot pool.
var ErrSlotsClosed = errors.New("slot pool closed")

// slotWaiter is one queued acquisition.
type slotWaiter struct {
	ready chan struct{}
	high  bool
}

// slotPool bounds the number of in-flight fetches for one content handle.
// Requests beyond the limit queue; high-priority requests jump ahead of
// queued low-priority work but never preempt an in-flight fetch.
// Cancelling a queued or in-flight request frees its slot immediately so
// the next queued request can start.
type slotPool struct {
	mu       sync.Mutex
	limit    int
	inflight int
	closed   bool
	waiters  []*slotWaiter
}

func newSlotPool(limit int) *slotPool {
	if limit < 1 {
		limit = 1
	}
	return &slotPool{limit: limit}
}

// Acquire blocks until a slot is free or ctx is done. The returned release
// function must be called exactly once; it is safe to call after Close.
func (p *slotPool) Acquire(ctx context.Context, high bool) (func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrSlotsClosed
	}

	if p.inflight < p.limit {
		p.inflight++
		p.mu.Unlock()
		return p.releaseOnce(), nil
	}

	w := &slotWaiter{ready: make(chan struct{}), high: high}
	if high {
		// Jump ahead of queued low-priority work, behind earlier
		// high-priority waiters.
		idx := len(p.waiters)
		for i, other := range p.waiters {
			if !other.high {
				idx = i
				break
			}
		}
		p.waiters = append(p.waiters, nil)
		copy(p.waiters[idx+1:], p.waiters[idx:])
		p.waiters[idx] = w
	} else {
		p.waiters = append(p.waiters, w)
	}
	p.mu.Unlock()

	select {
	case <-w.ready:
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrSlotsClosed
		}
		p.mu.Unlock()
		return p.releaseOnce(), nil
	case <-ctx.Done():
		p.mu.Lock()
		// The slot may have been granted concurrently with cancellation;
		// if so, pass it on instead of leaking it.
		granted := p.removeWaiter(w)
		if granted {
			p.handoffLocked()
		}
		p.mu.Unlock()
		return nil, ctx.Err()
	}
}

// releaseOnce returns a release function that is idempotent.
func (p *slotPool) releaseOnce() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			p.handoffLocked()
			p.mu.Unlock()
		})
	}
}

// handoffLocked passes the freed slot to the first waiter, or decrements
// the in-flight count when the queue is empty. Must hold the lock.
func (p *slotPool) handoffLocked() {
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		close(w.ready)
		return
	}
	if p.inflight > 0 {
		p.inflight--
	}
}

// removeWaiter removes w from the queue. It returns true if w was already
// granted a slot (i.e. no longer queued), false if it was still waiting.
func (p *slotPool) removeWaiter(w *slotWaiter) bool {
	for i, other := range p.waiters {
		if other == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return false
		}
	}
	return true
}

// InFlight returns the number of in-flight fetches.
func (p *slotPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// Queued returns the number of queued acquisitions.
func (p *slotPool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Close fails all queued waiters.
func (p *slotPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	for _, w := range p.waiters {
		close(w.ready)
	}
	p.waiters = nil
}
