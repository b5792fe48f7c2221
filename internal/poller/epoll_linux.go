//go:build linux

package poller

import (
	"golang.org/x/sys/unix"
)

// Epoll is a Linux epoll-backed Poller. All registrations use
// edge-triggered mode (EPOLLET) per spec.md's mandated scheduling
// model: the Reactor is expected to drain every registered fd to
// exhaustion on each notification.
type Epoll struct {
	fd int
}

// NewEpoll creates a new epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{fd: fd}, nil
}

func toEpollEvents(events uint32) uint32 {
	var e uint32 = unix.EPOLLET
	if events&EventReadable != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWritable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) uint32 {
	var events uint32
	if e&unix.EPOLLIN != 0 {
		events |= EventReadable
	}
	if e&unix.EPOLLOUT != 0 {
		events |= EventWritable
	}
	if e&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		events |= EventHangup
	}
	if e&unix.EPOLLERR != 0 {
		events |= EventError
	}
	return events
}

// Add registers fd for edge-triggered notification on events.
func (p *Epoll) Add(fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, ev)
}

// Modify changes the interest bits for an already-registered fd —
// used by the Reactor to arm write-interest after a read/write step
// leaves the OutboundQueue non-empty, and after Broadcast or
// SendToClient enqueue a message.
func (p *Epoll) Modify(fd int, events uint32) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)}
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, ev)
}

// Remove deregisters fd.
func (p *Epoll) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait blocks for up to timeoutMillis and returns ready fds.
func (p *Epoll) Wait(maxEvents int, timeoutMillis int) ([]Ready, error) {
	raw := make([]unix.EpollEvent, maxEvents)
	n, err := unix.EpollWait(p.fd, raw, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Ready, n)
	for i := 0; i < n; i++ {
		out[i] = Ready{FD: int(raw[i].Fd), Events: fromEpollEvents(raw[i].Events)}
	}
	return out, nil
}

// Close releases the epoll instance's file descriptor.
func (p *Epoll) Close() error {
	return unix.Close(p.fd)
}
