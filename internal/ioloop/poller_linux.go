//go:build linux

package ioloop

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// poller wraps an epoll instance. It owns the poll set, runs on its own
// goroutine, and forwards every event into the loop's response channel
// as a Response{Kind: KindEvent}.
type poller struct {
	epfd int

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("ioloop: epoll_create1: %w", err)
	}
	return &poller{epfd: fd, closeCh: make(chan struct{})}, nil
}

// register adds fd to the poll set under token, interested in both
// readability and writability, edge-triggered.
func (p *poller) register(fd int, token int) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLRDHUP | unix.EPOLLET,
		Fd:     int32(token),
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) unregister(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// run blocks draining epoll_wait into out until close is called. It is meant
// to be the body of the poller's dedicated goroutine.
func (p *poller) run(out chan<- Response) {
	events := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-p.closeCh:
			return
		default:
		}

		n, err := unix.EpollWait(p.epfd, events, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			e := events[i]
			r := Readiness{
				Readable: e.Events&unix.EPOLLIN != 0,
				Writable: e.Events&unix.EPOLLOUT != 0,
				Hup:      e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
				Error:    e.Events&unix.EPOLLERR != 0,
			}
			select {
			case out <- Response{Kind: KindEvent, Token: int(e.Fd), Readiness: r}:
			case <-p.closeCh:
				return
			}
		}
	}
}

func (p *poller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.closeCh)
	return unix.Close(p.epfd)
}
