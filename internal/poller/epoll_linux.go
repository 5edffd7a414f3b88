// File: internal/poller/epoll_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Level-triggered epoll demultiplexer. A poller belongs to exactly one
// event loop goroutine; nothing here is safe for concurrent use.

package poller

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

type epoller struct {
	epfd     int
	events   []unix.EpollEvent
	fired    []api.FiredEvent
	userdata map[int]any
}

// New returns an epoll-backed poller.
func New() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &epoller{
		epfd:     epfd,
		events:   make([]unix.EpollEvent, 64),
		userdata: make(map[int]any),
	}, nil
}

func epollEvents(events api.EventType) uint32 {
	var ev uint32
	if events.Has(api.EventRead) {
		ev |= unix.EPOLLIN
	}
	if events.Has(api.EventWrite) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Register adds fd to the interest set. Registering an fd that is
// already present degrades to Modify, so re-registration is harmless.
func (p *epoller) Register(fd int, events api.EventType, userdata any) error {
	if fd < 0 {
		return errors.WithStack(api.ErrInvalidArgument)
	}

	ev := unix.EpollEvent{Events: epollEvents(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		return p.Modify(fd, events, userdata)
	}
	if err != nil {
		return errors.Wrapf(err, "epoll add fd %d", fd)
	}
	p.userdata[fd] = userdata
	return nil
}

// Modify replaces the interest set for fd. An empty set unregisters;
// an fd the kernel no longer knows degrades to Register.
func (p *epoller) Modify(fd int, events api.EventType, userdata any) error {
	if fd < 0 {
		return errors.WithStack(api.ErrInvalidArgument)
	}
	if events == 0 {
		return p.Unregister(fd)
	}

	ev := unix.EpollEvent{Events: epollEvents(events), Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
	if err == unix.ENOENT {
		return p.Register(fd, events, userdata)
	}
	if err != nil {
		return errors.Wrapf(err, "epoll mod fd %d", fd)
	}
	p.userdata[fd] = userdata
	return nil
}

// Unregister removes fd from the interest set.
func (p *epoller) Unregister(fd int) error {
	if fd < 0 {
		return errors.WithStack(api.ErrInvalidArgument)
	}

	delete(p.userdata, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "epoll del fd %d", fd)
	}
	return nil
}

// Poll waits up to timeoutMs for readiness and records the fired
// events. EINTR restarts the wait.
func (p *epoller) Poll(maxEvents, timeoutMs int) (int, error) {
	if maxEvents == 0 {
		return 0, nil
	}
	for len(p.events) < maxEvents {
		p.events = append(p.events, make([]unix.EpollEvent, len(p.events)+1)...)
	}

	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, p.events[:maxEvents], timeoutMs)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, errors.Wrap(err, "epoll_wait")
	}

	p.fired = p.fired[:0]
	for i := 0; i < n; i++ {
		var events api.EventType
		raw := p.events[i].Events
		if raw&unix.EPOLLIN != 0 {
			events |= api.EventRead
		}
		if raw&unix.EPOLLOUT != 0 {
			events |= api.EventWrite
		}
		if raw&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			events |= api.EventError
		}
		p.fired = append(p.fired, api.FiredEvent{
			Events:   events,
			Userdata: p.userdata[int(p.events[i].Fd)],
		})
	}
	return n, nil
}

// FiredEvents returns the events recorded by the last Poll. The slice
// is reused across polls.
func (p *epoller) FiredEvents() []api.FiredEvent {
	return p.fired
}

// Close releases the epoll descriptor.
func (p *epoller) Close() {
	if p.epfd >= 0 {
		unix.Close(p.epfd)
		p.epfd = -1
	}
}
