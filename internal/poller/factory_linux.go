//go:build linux

package poller

// New returns the platform's Poller implementation. Only Linux epoll
// is implemented; spec.md does not mandate cross-platform support and
// no complete example repo in the retrieval pack builds a portable
// kqueue/epoll abstraction, so a single concrete backend is the
// grounded, tractable choice (see DESIGN.md).
func New() (Poller, error) {
	return NewEpoll()
}
