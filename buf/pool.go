package buf

import "sync"

// Pool is a source of Buffer[T] that recycles released buffers rather
// than bounding how many exist: Alloc and AllocAsync both construct a
// fresh buffer whenever the free list is empty, so exhaustion is never a
// failure mode here (unlike ClientPool, which is deliberately bounded).
// The waiters list is dormant scaffolding for symmetry with that bounded
// pool; nothing in this package populates it today.
type Pool[T any] struct {
	mu      sync.Mutex
	reset   func(*T)
	free    []*Buffer[T]
	waiters []func(*Buffer[T])
}

// NewPool constructs an empty pool. reset, if non-nil, is called on a
// released buffer's payload in place of zeroing it, before it is handed
// out again; it lets callers preserve capacity (e.g. a payload slice) the
// zero value of T would otherwise discard. With a nil reset the payload is
// set to the zero value of T.
func NewPool[T any](reset func(*T)) *Pool[T] {
	return &Pool[T]{reset: reset}
}

// Alloc returns a buffer with refcount 1, reused from the free list when
// possible.
func (p *Pool[T]) Alloc() *Buffer[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked()
}

func (p *Pool[T]) allocLocked() *Buffer[T] {
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		b.refcount = 1
		return b
	}
	return &Buffer[T]{pool: p, refcount: 1}
}

// AllocAsync invokes cb with a buffer, synchronously before AllocAsync
// returns, same as Alloc: a Pool recycles rather than bounds, so an empty
// free list just means allocLocked constructs a new buffer (§4.1, "the
// core never treats pool sizing as a failure mode"). The waiter list exists
// for AllocateAndCall's benefit when a caller deliberately wants to wait
// for recycling instead of growing the pool; nothing in this package ever
// does that today, but the hook stays for symmetry with ClientPool.
func (p *Pool[T]) AllocAsync(cb func(*Buffer[T])) {
	p.mu.Lock()
	b := p.allocLocked()
	p.mu.Unlock()
	cb(b)
}

// Waiters reports how many allocations are currently pending, for tests
// and diagnostics.
func (p *Pool[T]) Waiters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Free reports the number of buffers currently sitting idle in the pool.
func (p *Pool[T]) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *Pool[T]) release(b *Buffer[T]) {
	if p.reset != nil {
		p.reset(&b.Data)
	} else {
		var zero T
		b.Data = zero
	}
	b.done = nil

	p.mu.Lock()
	if len(p.waiters) > 0 {
		cb := p.waiters[0]
		p.waiters[0] = nil
		p.waiters = p.waiters[1:]
		b.refcount = 1
		p.mu.Unlock()
		cb(b)
		return
	}
	p.free = append(p.free, b)
	p.mu.Unlock()
}
