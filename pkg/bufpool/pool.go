// Package bufpool implements a fixed-capacity, mutually-exclusive
// free-list of reusable byte buffers, sized so callers doing repeated
// I/O on the protocol stack are not forced through the allocator on
// every read or write.
package bufpool

import "sync"

// Buffer is a pooled byte slice. Writable and Direct report whether
// the buffer is eligible to be returned to a Pool on Release — a
// read-only or non-direct (e.g. caller-owned, stack-allocated) buffer
// is simply dropped.
type Buffer struct {
	data     []byte
	writable bool
	direct   bool
}

// Bytes exposes the buffer's storage, truncated to its logical limit.
func (b *Buffer) Bytes() []byte { return b.data }

// Cap returns the buffer's total capacity, which may exceed its
// current limit.
func (b *Buffer) Cap() int { return cap(b.data) }

// Writable reports whether the buffer may be mutated and therefore
// recycled.
func (b *Buffer) Writable() bool { return b.writable }

// Direct reports whether the buffer was allocated by the pool (as
// opposed to wrapping caller-supplied memory).
func (b *Buffer) Direct() bool { return b.direct }

// newDirect allocates a fresh, pool-owned, writable buffer of the
// given capacity, limited to size.
func newDirect(capacity, size int) *Buffer {
	return &Buffer{data: make([]byte, size, capacity), writable: true, direct: true}
}

// Pool is a bounded LIFO stack of direct buffers of at least
// defaultSize bytes. Acquire returns a buffer with capacity at least
// the requested size; Release pushes a buffer back onto the stack iff
// it is eligible and the stack is not already full.
type Pool struct {
	mu          sync.Mutex
	free        []*Buffer
	defaultSize int
	capacity    int
}

// New creates a Pool that hands out buffers of at least defaultSize
// bytes and holds at most capacity released buffers at a time.
func New(defaultSize, capacity int) *Pool {
	if defaultSize <= 0 {
		panic("bufpool: defaultSize must be positive")
	}
	if capacity < 0 {
		panic("bufpool: capacity must not be negative")
	}
	return &Pool{defaultSize: defaultSize, capacity: capacity}
}

// Acquire returns a buffer whose capacity is at least size and whose
// limit is exactly size. Requests at or below the pool's default size
// are served from the top of the free-list (LIFO); larger requests
// scan for the first buffer big enough, swapping it out by moving the
// top-of-stack into the hole it leaves. A miss allocates a fresh
// buffer of max(defaultSize, size).
func (p *Pool) Acquire(size int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size <= p.defaultSize {
		if n := len(p.free); n > 0 {
			buf := p.free[n-1]
			p.free = p.free[:n-1]
			return p.limitTo(buf, size)
		}
		return newDirect(p.defaultSize, size)
	}

	for i, buf := range p.free {
		if buf.Cap() >= size {
			last := len(p.free) - 1
			p.free[i] = p.free[last]
			p.free = p.free[:last]
			return p.limitTo(buf, size)
		}
	}
	return newDirect(size, size)
}

func (p *Pool) limitTo(buf *Buffer, size int) *Buffer {
	buf.data = buf.data[:size]
	return buf
}

// Release returns buf to the pool if it is direct, writable, at least
// defaultSize in capacity, and the pool is not already at capacity.
// Otherwise the buffer is simply dropped for the garbage collector.
func (p *Pool) Release(buf *Buffer) {
	if buf == nil || !buf.direct || !buf.writable || buf.Cap() < p.defaultSize {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) >= p.capacity {
		return
	}
	buf.data = buf.data[:buf.Cap()]
	p.free = append(p.free, buf)
}

// Len reports how many buffers are currently parked in the pool. It
// exists for tests and diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
