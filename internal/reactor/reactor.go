// Package reactor implements the single-threaded event loop that owns
// the listening socket and the readiness facility, accepts new
// connections, dispatches readiness events to Connections via a
// WorkerExecutor, and performs orderly shutdown. Grounded on
// internal/proxy/listener.go's Server.Start/acceptLoop/Stop(ctx) shape
// in the teacher repo (see DESIGN.md), generalized from "accept and
// spawn a goroutine per session" to "accept, register with epoll,
// dispatch readiness to a fixed worker pool."
package reactor

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/atan135/reactor/internal/accountant"
	"github.com/atan135/reactor/internal/bufpool"
	"github.com/atan135/reactor/internal/connection"
	"github.com/atan135/reactor/internal/metrics"
	"github.com/atan135/reactor/internal/poller"
	"github.com/atan135/reactor/internal/worker"
)

// Defaults mirrored from spec.md §6.
const (
	DefaultPort           = 8080
	DefaultMaxConnections = 1000
	DefaultThreadCount    = 4

	// BufferCapacity is the fixed capacity class used for every pooled
	// outbound buffer.
	BufferCapacity = connection.MaxMessageSize + 1

	batchSize     = 100
	waitTimeoutMS = 1000
)

// Config bundles the startup parameters spec.md §6 exposes via the
// key=value config file and the positional CLI override.
type Config struct {
	Port           int
	MaxConnections int
	ThreadCount    int
	MemoryCeiling  int64
}

// Reactor is the single owner of the listening socket and the
// readiness facility.
type Reactor struct {
	cfg Config

	listenFD int
	poll     poller.Poller
	executor *worker.Executor

	acct        *accountant.Accountant
	outPool     *bufpool.Pool
	scratchPool *bufpool.Pool

	mu     sync.RWMutex
	conns  map[int]*connection.Connection // keyed by fd
	byID   map[uint64]*connection.Connection
	nextID atomic.Uint64

	running  atomic.Bool
	loopDone chan struct{}

	handler connection.Handler

	// selfPipe breaks the readiness wait promptly on stop(), per the
	// design notes: signal handlers only flip `running` and write a
	// byte here.
	selfPipeR int
	selfPipeW int
}

// New constructs a Reactor. Call Start then Run.
func New(cfg Config) *Reactor {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.ThreadCount == 0 {
		cfg.ThreadCount = DefaultThreadCount
	}

	acct := accountant.New(cfg.MemoryCeiling)
	return &Reactor{
		cfg:         cfg,
		acct:        acct,
		outPool:     bufpool.New(BufferCapacity, cfg.MaxConnections*2, acct),
		scratchPool: bufpool.New(BufferCapacity, cfg.MaxConnections, acct),
		conns:       make(map[int]*connection.Connection),
		byID:        make(map[uint64]*connection.Connection),
	}
}

// SetMessageHandler installs the per-frame callback invoked by every
// Connection.
func (r *Reactor) SetMessageHandler(h connection.Handler) {
	r.handler = h
}

// Accountant exposes the MemoryAccountant for metrics wiring.
func (r *Reactor) Accountant() *accountant.Accountant { return r.acct }

// OutboundPoolStats and ScratchPoolStats expose pool counters for
// metrics wiring.
func (r *Reactor) OutboundPoolStats() bufpool.Stats { return r.outPool.Stats() }
func (r *Reactor) ScratchPoolStats() bufpool.Stats  { return r.scratchPool.Stats() }

// Start binds the listening socket, sets it non-blocking, creates the
// readiness facility, and registers the listening socket with
// edge-triggered read-interest. It returns a non-nil error on any
// startup failure (bind, listen, readiness-facility creation).
func (r *Reactor) Start() error {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := syscall.SockaddrInet4{Port: r.cfg.Port}
	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactor: bind port %d: %w", r.cfg.Port, err)
	}
	if err := syscall.Listen(fd, r.cfg.MaxConnections); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactor: set listener non-blocking: %w", err)
	}
	r.listenFD = fd

	p, err := poller.New()
	if err != nil {
		syscall.Close(fd)
		return fmt.Errorf("reactor: create readiness facility: %w", err)
	}
	r.poll = p

	if err := r.poll.Add(r.listenFD, poller.EventReadable); err != nil {
		r.poll.Close()
		syscall.Close(fd)
		return fmt.Errorf("reactor: register listener: %w", err)
	}

	rp, wp, err := selfPipe()
	if err != nil {
		r.poll.Close()
		syscall.Close(fd)
		return fmt.Errorf("reactor: create self-pipe: %w", err)
	}
	r.selfPipeR, r.selfPipeW = rp, wp
	if err := r.poll.Add(r.selfPipeR, poller.EventReadable); err != nil {
		r.poll.Close()
		syscall.Close(fd)
		return fmt.Errorf("reactor: register self-pipe: %w", err)
	}

	r.executor = worker.NewExecutor(r.cfg.ThreadCount, r.cfg.ThreadCount*8)
	r.loopDone = make(chan struct{})
	r.running.Store(true)

	log.Printf("[reactor] listening on port %d (max_connections=%d, thread_count=%d)",
		r.cfg.Port, r.cfg.MaxConnections, r.cfg.ThreadCount)
	return nil
}

// selfPipe creates a non-blocking pipe used to break the readiness
// wait promptly from stop(), per the design notes (signal handlers
// only flip an atomic flag and write a byte here).
func selfPipe() (r int, w int, err error) {
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[0], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return 0, 0, err
	}
	if err := syscall.SetNonblock(fds[1], true); err != nil {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// Run is the event loop: it waits on the readiness facility with a
// bounded batch size and timeout, dispatching each event, until
// stop() clears the running flag. It closes loopDone on return so
// Stop can wait for the last dispatched batch to finish submitting
// before tearing down the executor.
func (r *Reactor) Run() {
	defer close(r.loopDone)
	for r.running.Load() {
		events, err := r.poll.Wait(batchSize, waitTimeoutMS)
		if err != nil {
			log.Printf("[reactor] poll wait error: %v", err)
			continue
		}

		for _, ev := range events {
			switch {
			case ev.FD == r.listenFD:
				r.acceptLoop()
			case ev.FD == r.selfPipeR:
				r.drainSelfPipe()
			default:
				r.dispatch(ev)
			}
		}
	}
}

func (r *Reactor) drainSelfPipe() {
	buf := make([]byte, 64)
	for {
		_, err := syscall.Read(r.selfPipeR, buf)
		if err != nil {
			break
		}
	}
}

// acceptLoop accepts connections until the listener reports "try
// again", per the accept-to-EAGAIN idiom grounded on
// _examples/other_examples/ed5fa6ba_searchktools-fast-server__core-engine.go.go.
func (r *Reactor) acceptLoop() {
	for {
		nfd, sa, err := syscall.Accept(r.listenFD)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			metrics.AcceptErrors.Inc()
			log.Printf("[reactor] accept error: %v", err)
			continue
		}

		if r.ConnectionCount() >= r.cfg.MaxConnections {
			metrics.ConnectionsRejected.Inc()
			syscall.Close(nfd)
			continue
		}

		if err := syscall.SetNonblock(nfd, true); err != nil {
			syscall.Close(nfd)
			continue
		}
		_ = syscall.SetsockoptInt(nfd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)

		id := r.nextID.Add(1)
		conn := connection.New(id, nfd, peerString(sa), r.handler, r.outPool, r.scratchPool)

		if err := r.poll.Add(nfd, poller.EventReadable|poller.EventHangup); err != nil {
			conn.Close()
			continue
		}

		metrics.ConnectionsTotal.Inc()
		r.mu.Lock()
		r.conns[nfd] = conn
		r.byID[id] = conn
		r.mu.Unlock()
	}
}

func peerString(sa syscall.Sockaddr) string {
	if in4, ok := sa.(*syscall.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d", in4.Addr[0], in4.Addr[1], in4.Addr[2], in4.Addr[3], in4.Port)
	}
	return "unknown"
}

// dispatch handles one readiness event for a client socket: hangup or
// error bits schedule cleanup; read-ready submits handleRead; write-
// ready submits handleWrite.
func (r *Reactor) dispatch(ev poller.Ready) {
	r.mu.RLock()
	conn, ok := r.conns[ev.FD]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if ev.Events&(poller.EventHangup|poller.EventError) != 0 {
		r.executor.Submit(func() { r.cleanupExclusive(conn) })
		return
	}

	if ev.Events&poller.EventReadable != 0 {
		r.executor.Submit(func() { r.runStep(conn, conn.HandleRead) })
	}
	if ev.Events&poller.EventWritable != 0 {
		r.executor.Submit(func() { r.runStep(conn, conn.HandleWrite) })
	}
}

// runStep enforces per-Connection mutual exclusion (spec.md §5/§9):
// if a step is already in flight for this Connection, the event is
// dropped rather than run concurrently — the next readiness wakeup
// (edge-triggered drain-to-exhaustion) will pick up any remaining
// work, since handlers always drain to the transient indicator.
func (r *Reactor) runStep(conn *connection.Connection, step func() error) {
	if !conn.TryEnter() {
		return
	}
	defer conn.Leave()

	if err := step(); err != nil || !conn.Connected() {
		r.cleanup(conn)
		return
	}

	if conn.OutboundPending() {
		r.poll.Modify(conn.FD(), poller.EventReadable|poller.EventWritable|poller.EventHangup)
	}
}

// cleanup removes the Connection from the mapping, deregisters the
// socket from the readiness facility, and closes it. The caller must
// already hold conn's step lock (TryEnter/Enter) so no HandleRead or
// HandleWrite can be running concurrently with the close — otherwise
// a step mid-SendPartial on a buffer pointer already fetched via
// Front() can read/write a buffer just released back to the pool, or
// read/write a just-closed (possibly reused) fd.
func (r *Reactor) cleanup(conn *connection.Connection) {
	r.mu.Lock()
	delete(r.conns, conn.FD())
	delete(r.byID, conn.ID())
	r.mu.Unlock()

	r.poll.Remove(conn.FD())
	conn.Close()
}

// cleanupExclusive blocks until no read/write step is in flight for
// conn, then tears it down via cleanup. Used by teardown paths that
// don't already hold the step lock: hangup/error dispatch and the
// inactivity sweep. runStep's own error path calls cleanup directly,
// since TryEnter already holds the lock there.
func (r *Reactor) cleanupExclusive(conn *connection.Connection) {
	conn.Enter()
	r.cleanup(conn)
	conn.Leave()
}

// Stop requests a cooperative shutdown: it clears the running flag,
// wakes the event loop via the self-pipe, closes every Connection,
// and closes the listening socket and readiness facility. Safe to
// call from a signal handler goroutine or a supervisor.
func (r *Reactor) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}

	syscall.Write(r.selfPipeW, []byte{0})

	// Wait for Run's goroutine to observe the flipped running flag and
	// return, so no further Submit calls race executor.Stop's channel
	// close below.
	if r.loopDone != nil {
		<-r.loopDone
	}

	r.mu.Lock()
	conns := make([]*connection.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[int]*connection.Connection)
	r.byID = make(map[uint64]*connection.Connection)
	r.mu.Unlock()

	for _, c := range conns {
		r.poll.Remove(c.FD())
		c.Enter()
		c.Close()
		c.Leave()
	}

	if r.executor != nil {
		r.executor.Stop()
	}
	if r.poll != nil {
		r.poll.Close()
	}
	syscall.Close(r.listenFD)
	syscall.Close(r.selfPipeR)
	syscall.Close(r.selfPipeW)

	log.Println("[reactor] stopped")
}

// ConnectionCount returns the number of live Connections, O(1).
func (r *Reactor) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Broadcast enqueues a copy of bytes on every live Connection's
// OutboundQueue. Cross-Connection ordering is left unspecified (see
// DESIGN.md's Open-question decisions).
func (r *Reactor) Broadcast(payload []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.conns {
		if err := c.SendMessage(payload); err == nil {
			r.poll.Modify(c.FD(), poller.EventReadable|poller.EventWritable|poller.EventHangup)
		}
	}
}

// SendToClient enqueues payload directly on one Connection by ID.
func (r *Reactor) SendToClient(id uint64, payload []byte) error {
	r.mu.RLock()
	c, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("reactor: no connection with id %d", id)
	}
	if err := c.SendMessage(payload); err != nil {
		return err
	}
	return r.poll.Modify(c.FD(), poller.EventReadable|poller.EventWritable|poller.EventHangup)
}

// CleanupInactive closes every Connection whose last-activity
// timestamp is older than now-timeout. Grounded on the teacher's
// internal/pool/pool.go maintenanceLoop/evictStale ticker shape.
func (r *Reactor) CleanupInactive(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)

	r.mu.RLock()
	stale := make([]*connection.Connection, 0)
	for _, c := range r.conns {
		if c.LastActivity().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range stale {
		r.cleanupExclusive(c)
	}
}

// RunInactivitySweep launches a ticker goroutine that calls
// CleanupInactive every interval until stop() has been called.
func (r *Reactor) RunInactivitySweep(interval, timeout time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if !r.running.Load() {
				return
			}
			r.CleanupInactive(timeout)
		}
	}()
}
