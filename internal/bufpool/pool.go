package bufpool

import (
	"sync"
	"sync/atomic"

	"github.com/atan135/reactor/internal/accountant"
)

// PrewarmCount is the number of buffers a freshly created Pool
// pre-populates to amortize first-use allocation cost.
const PrewarmCount = 10

// Pool is a bounded free-list of Buffers, all of the same capacity
// class. At steady state acquired+free never exceeds Max. Unlike the
// teacher's BucketPool (internal/pool/pool.go in the example repo),
// Acquire never blocks a caller on a wait-queue: per spec.md §4.3,
// acquiring from an exhausted pool returns nil immediately and the
// caller (OutboundQueue.Enqueue) fails gracefully.
type Pool struct {
	mu   sync.Mutex
	free []*Buffer

	capacity int
	max      int
	acquired atomic.Int64
	freeLen  atomic.Int64

	acct *accountant.Accountant

	hits     atomic.Int64
	misses   atomic.Int64
	discards atomic.Int64
}

// New creates a Pool for buffers of the given capacity, bounded to max
// total buffers, charging allocations against acct. It pre-populates
// PrewarmCount buffers (or max if smaller).
func New(capacity, max int, acct *accountant.Accountant) *Pool {
	p := &Pool{
		capacity: capacity,
		max:      max,
		acct:     acct,
	}

	prewarm := PrewarmCount
	if prewarm > max {
		prewarm = max
	}
	p.free = make([]*Buffer, 0, max)
	for i := 0; i < prewarm; i++ {
		b := NewBuffer(capacity)
		if p.acct != nil {
			p.acct.Allocate(int64(capacity))
		}
		p.free = append(p.free, b)
	}
	p.freeLen.Store(int64(len(p.free)))
	return p
}

// Capacity returns the buffer capacity class this pool manages.
func (p *Pool) Capacity() int { return p.capacity }

// Max returns the configured bound on total buffers.
func (p *Pool) Max() int { return p.max }

// Acquire returns a reset buffer from the free-list, allocating a
// fresh one if the free-list is empty and the pool has not reached
// Max, or nil if the pool is fully loaned.
func (p *Pool) Acquire() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.freeLen.Store(int64(len(p.free)))
		b.Reset()
		p.acquired.Add(1)
		p.hits.Add(1)
		return b
	}

	if int(p.acquired.Load())+len(p.free) >= p.max {
		p.misses.Add(1)
		return nil
	}

	b := NewBuffer(p.capacity)
	if p.acct != nil {
		p.acct.Allocate(int64(p.capacity))
	}
	p.acquired.Add(1)
	p.misses.Add(1)
	return b
}

// Release resets buf and either returns it to the free-list, or, if
// the free-list is already at capacity, destroys it (charging a
// deallocation).
func (p *Pool) Release(buf *Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquired.Add(-1)
	if len(p.free) < p.max {
		p.free = append(p.free, buf)
		p.freeLen.Store(int64(len(p.free)))
		return
	}

	p.discards.Add(1)
	if p.acct != nil {
		p.acct.Deallocate(int64(p.capacity))
	}
}

// Stats is a point-in-time snapshot of pool counters, exposed for
// metrics.
type Stats struct {
	Capacity int
	Max      int
	Free     int64
	Acquired int64
	Hits     int64
	Misses   int64
	Discards int64
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: p.capacity,
		Max:      p.max,
		Free:     p.freeLen.Load(),
		Acquired: p.acquired.Load(),
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Discards: p.discards.Load(),
	}
}
