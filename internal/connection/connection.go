// Package connection implements per-socket state: the read
// accumulator, the outbound queue, newline framing, and the
// Open/Closed lifecycle described for the Connection component.
package connection

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/atan135/reactor/internal/bufpool"
	"github.com/atan135/reactor/internal/metrics"
	"github.com/atan135/reactor/internal/outbound"
)

// MaxMessageSize is the largest frame guaranteed to be delivered.
const MaxMessageSize = 4096

// AccumulatorCap is the hard limit on the read accumulator. A
// connection whose accumulator grows past this without finding a
// delimiter is forcibly disconnected.
const AccumulatorCap = 10 * MaxMessageSize

const readChunkSize = 4096

// Delim is the frame delimiter byte.
const Delim = '\n'

// Handler is invoked once per extracted frame. It must be safe to call
// concurrently across different Connections; it is never invoked
// concurrently for the same Connection.
type Handler func(frame []byte, c *Connection)

// Connection is the per-socket state for one accepted client. Reads
// and writes are driven by the Reactor via HandleRead/HandleWrite;
// application code only ever sees SendMessage/SendBuffer/Close and the
// frames delivered to Handler.
type Connection struct {
	fd       int
	peerAddr string
	id       uint64

	handler Handler

	acc []byte // read accumulator

	outq        *outbound.Queue
	scratchPool *bufpool.Pool

	lastActivity atomic.Int64 // unix nanos
	connected    atomic.Bool

	// stepMu is the single-slot step-mutual-exclusion lock (spec.md
	// §5/§9): TryEnter/Leave give HandleRead/HandleWrite non-blocking,
	// drop-if-busy access; teardown uses the blocking Enter so a close
	// can never overlap an in-flight read or write step.
	stepMu sync.Mutex

	closeOnce sync.Once

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

// New wraps an already-accepted, non-blocking socket fd. outPool backs
// the outbound queue; scratchPool hands out short-lived formatting
// buffers used to assemble a payload plus its delimiter before
// enqueueing (capacity must be >= MaxMessageSize+1 to hold a maximal
// frame plus its delimiter). Unlike the outbound queue, no scratch
// buffer is held for the Connection's lifetime, since SendMessage may
// be called concurrently with an in-flight read/write step.
func New(id uint64, fd int, peerAddr string, handler Handler, outPool, scratchPool *bufpool.Pool) *Connection {
	c := &Connection{
		fd:          fd,
		peerAddr:    peerAddr,
		id:          id,
		handler:     handler,
		outq:        outbound.New(outPool),
		scratchPool: scratchPool,
	}
	c.connected.Store(true)
	c.touch()
	return c
}

// ID returns the connection's identifier, stable for its lifetime.
func (c *Connection) ID() uint64 { return c.id }

// FD returns the underlying socket file descriptor.
func (c *Connection) FD() int { return c.fd }

// PeerAddr returns the informational peer address string.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// Connected reports whether the connection is still Open.
func (c *Connection) Connected() bool { return c.connected.Load() }

// LastActivity returns the last time a read or write made progress.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// BytesIn and BytesOut report cumulative counters for metrics.
func (c *Connection) BytesIn() int64  { return c.bytesIn.Load() }
func (c *Connection) BytesOut() int64 { return c.bytesOut.Load() }

// TryEnter attempts to acquire the single in-flight slot so the
// caller may run a read or write step. It returns false if a step is
// already executing for this Connection; the Reactor then drops the
// event rather than block (see Reactor.runStep).
func (c *Connection) TryEnter() bool {
	return c.stepMu.TryLock()
}

// Enter blocks until the in-flight slot is free. Used by teardown
// paths (hangup, inactivity sweep) that must not proceed while a
// HandleRead/HandleWrite step is running, unlike TryEnter's
// drop-if-busy behavior for ordinary readiness dispatch.
func (c *Connection) Enter() {
	c.stepMu.Lock()
}

// Leave releases the in-flight slot acquired by TryEnter or Enter.
func (c *Connection) Leave() {
	c.stepMu.Unlock()
}

// OutboundPending reports whether the outbound queue holds data, used
// by the Reactor to decide whether to re-arm write-interest.
func (c *Connection) OutboundPending() bool {
	return !c.outq.Empty()
}

// HandleRead drains the socket until a transient "try again" signal,
// EOF, or a fatal error. Each chunk is appended to the read
// accumulator; on drain completion, complete frames are extracted and
// delivered to Handler in wire order. An oversized accumulator or any
// non-transient error closes the Connection.
func (c *Connection) HandleRead() error {
	if !c.connected.Load() {
		return nil
	}

	chunk := make([]byte, readChunkSize)
	for {
		n, err := syscall.Read(c.fd, chunk)
		if n > 0 {
			c.acc = append(c.acc, chunk[:n]...)
			c.bytesIn.Add(int64(n))
			metrics.BytesIn.Add(float64(n))
			c.touch()
		}
		if err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
				break
			}
			c.Close()
			return err
		}
		if n == 0 {
			// Graceful EOF.
			c.Close()
			return nil
		}
	}

	return c.extractFrames()
}

// extractFrames removes and delivers every complete `\n`-delimited
// frame currently buffered in the accumulator, skipping empty frames,
// and forces disconnect if the accumulator exceeds AccumulatorCap
// without ever finding one.
func (c *Connection) extractFrames() error {
	for {
		idx := bytes.IndexByte(c.acc, Delim)
		if idx < 0 {
			break
		}
		frame := c.acc[:idx]
		rest := make([]byte, len(c.acc)-idx-1)
		copy(rest, c.acc[idx+1:])
		c.acc = rest

		if len(frame) > 0 && c.handler != nil {
			c.handler(frame, c)
		}
	}

	if len(c.acc) > AccumulatorCap {
		metrics.ForcedDisconnects.Inc()
		c.Close()
		return errors.New("connection: read accumulator exceeded cap, disconnecting")
	}
	return nil
}

// HandleWrite repeatedly sends from the head of the outbound queue,
// popping completed buffers, until a transient "try again" signal or
// the queue empties. Any other error is fatal to the Connection.
func (c *Connection) HandleWrite() error {
	if !c.connected.Load() {
		return nil
	}

	for {
		head := c.outq.Front()
		if head == nil {
			return nil
		}

		n, err := head.SendPartial(c.fd, head.Offset())
		if err != nil {
			if errors.Is(err, bufpool.ErrTryAgain) {
				return nil
			}
			c.Close()
			return err
		}
		if n > 0 {
			c.bytesOut.Add(int64(n))
			metrics.BytesOut.Add(float64(n))
			c.touch()
		}

		if head.IsComplete() {
			c.outq.DrainComplete()
			continue
		}
		// Partial write: offset already advanced in place. Wait for
		// the next writability event before resuming.
		return nil
	}
}

// SendMessage formats payload followed by the frame delimiter into a
// scratch buffer acquired for the duration of this call, then
// enqueues it onto the outbound queue. The message is dropped (and an
// error returned) if no scratch buffer is available, payload plus its
// delimiter doesn't fit in one, or the outbound pool is exhausted.
//
// SendMessage may be called concurrently with an in-flight
// HandleRead/HandleWrite step (e.g. from Reactor.Broadcast running on
// the Reactor goroutine) and concurrently with itself from multiple
// goroutines, so it must never touch state shared across calls — the
// scratch buffer is acquired fresh and released before returning,
// never held on the Connection.
func (c *Connection) SendMessage(payload []byte) error {
	if !c.connected.Load() {
		return errors.New("connection: closed")
	}

	scratch := c.scratchPool.Acquire()
	if scratch == nil {
		return errors.New("connection: scratch pool exhausted")
	}
	defer c.scratchPool.Release(scratch)

	if !scratch.Append(payload) || !scratch.Append([]byte{Delim}) {
		return errors.New("connection: payload too large for scratch buffer")
	}

	if !c.outq.Enqueue(scratch.Data()) {
		return errors.New("connection: outbound queue rejected message (pool exhausted)")
	}
	return nil
}

// SendMessageString is a convenience wrapper over SendMessage.
func (c *Connection) SendMessageString(s string) error {
	return c.SendMessage([]byte(s))
}

// SendBuffer enqueues buf's filled bytes directly onto the outbound
// queue without adding a delimiter; framing is the caller's
// responsibility.
func (c *Connection) SendBuffer(buf *bufpool.Buffer) error {
	if !c.connected.Load() {
		return errors.New("connection: closed")
	}
	if !c.outq.Enqueue(buf.Data()) {
		return errors.New("connection: outbound queue rejected buffer (pool exhausted)")
	}
	return nil
}

// Close is idempotent: it clears the outbound queue (returning all
// buffers to their pool), closes the socket, and marks the Connection
// Closed. All further HandleRead, HandleWrite, and SendMessage calls
// become no-ops/errors. Callers tearing down a Connection that may
// still have an in-flight read/write step must call Enter before
// Close and Leave after, so the close cannot overlap that step; see
// Reactor.cleanup.
func (c *Connection) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.outq.Clear()
		closeErr = syscall.Close(c.fd)
	})
	return closeErr
}
