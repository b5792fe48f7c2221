// Package outbound implements the per-Connection FIFO of pooled
// buffers awaiting transmission.
package outbound

import (
	"sync"

	"github.com/atan135/reactor/internal/bufpool"
)

// Queue is an ordered sequence of *bufpool.Buffer belonging to one
// connection, backed by a single bufpool.Pool of matching capacity.
// The head of the queue is the buffer currently being transmitted; its
// send cursor advances on every successful partial send, and it is
// returned to the pool once complete. All operations are serialized
// so a Queue may safely be shared between the goroutine driving reads
// (which may call Enqueue from a handler callback) and the one
// draining writes.
type Queue struct {
	mu   sync.Mutex
	pool *bufpool.Pool
	bufs []*bufpool.Buffer
}

// New creates an empty Queue drawing buffers from pool.
func New(pool *bufpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue acquires a buffer from the pool, appends payload into it,
// and appends it to the tail of the queue. It returns false if the
// pool is exhausted or payload does not fit in one pooled buffer's
// capacity; in either case nothing is mutated and any acquired buffer
// is returned to the pool.
func (q *Queue) Enqueue(payload []byte) bool {
	buf := q.pool.Acquire()
	if buf == nil {
		return false
	}
	if !buf.Append(payload) {
		q.pool.Release(buf)
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.bufs = append(q.bufs, buf)
	return true
}

// Front returns the head buffer without removing it, or nil if the
// queue is empty.
func (q *Queue) Front() *bufpool.Buffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return nil
	}
	return q.bufs[0]
}

// Pop returns the head buffer to the pool and removes it from the
// queue. It is a no-op on an empty queue.
func (q *Queue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bufs) == 0 {
		return
	}
	head := q.bufs[0]
	q.bufs[0] = nil
	q.bufs = q.bufs[1:]
	q.pool.Release(head)
}

// Empty reports whether the queue holds no buffers.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs) == 0
}

// Size returns the number of buffers currently queued.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs)
}

// Clear returns every queued buffer to the pool and empties the queue.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, b := range q.bufs {
		q.pool.Release(b)
		q.bufs[i] = nil
	}
	q.bufs = q.bufs[:0]
}

// DrainComplete removes and releases every buffer at the head of the
// queue whose send cursor has reached its filled length, stopping at
// the first incomplete (or absent) buffer. It is called after a
// successful SendPartial to advance the queue.
func (q *Queue) DrainComplete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.bufs) > 0 && q.bufs[0].IsComplete() {
		q.pool.Release(q.bufs[0])
		q.bufs[0] = nil
		q.bufs = q.bufs[1:]
	}
}
