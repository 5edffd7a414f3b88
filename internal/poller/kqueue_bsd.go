// File: internal/poller/kqueue_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kqueue demultiplexer for the BSD family. Read and write interest map
// to separate EVFILT_READ/EVFILT_WRITE registrations; a poller belongs
// to exactly one event loop goroutine.

//go:build darwin || freebsd || netbsd || openbsd

package poller

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

type entry struct {
	events   api.EventType
	userdata any
}

type kqueuer struct {
	kq      int
	events  []unix.Kevent_t
	fired   []api.FiredEvent
	entries map[int]*entry
}

// New returns a kqueue-backed poller.
func New() (api.Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &kqueuer{
		kq:      kq,
		events:  make([]unix.Kevent_t, 64),
		entries: make(map[int]*entry),
	}, nil
}

func (p *kqueuer) apply(fd int, events api.EventType) error {
	var changes []unix.Kevent_t
	add := func(filter int16, on bool) {
		flags := uint16(unix.EV_DELETE)
		if on {
			flags = unix.EV_ADD | unix.EV_ENABLE
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(fd),
			Filter: filter,
			Flags:  flags,
		})
	}
	add(unix.EVFILT_READ, events.Has(api.EventRead))
	add(unix.EVFILT_WRITE, events.Has(api.EventWrite))

	for _, ch := range changes {
		// Deleting a filter that was never added reports ENOENT;
		// that is the expected steady state for one-sided interest.
		if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ch}, nil, nil); err != nil && err != unix.ENOENT {
			return errors.Wrapf(err, "kevent fd %d", fd)
		}
	}
	return nil
}

func (p *kqueuer) Register(fd int, events api.EventType, userdata any) error {
	if fd < 0 {
		return errors.WithStack(api.ErrInvalidArgument)
	}
	if err := p.apply(fd, events); err != nil {
		return err
	}
	p.entries[fd] = &entry{events: events, userdata: userdata}
	return nil
}

func (p *kqueuer) Modify(fd int, events api.EventType, userdata any) error {
	if events == 0 {
		return p.Unregister(fd)
	}
	return p.Register(fd, events, userdata)
}

// Unregister drops fd entirely: apply with an empty interest set
// issues EV_DELETE for both filters, so a read+write registration is
// fully torn down.
func (p *kqueuer) Unregister(fd int) error {
	if fd < 0 {
		return errors.WithStack(api.ErrInvalidArgument)
	}
	delete(p.entries, fd)
	return p.apply(fd, 0)
}

func (p *kqueuer) Poll(maxEvents, timeoutMs int) (int, error) {
	if maxEvents == 0 {
		return 0, nil
	}
	for len(p.events) < maxEvents {
		p.events = append(p.events, make([]unix.Kevent_t, len(p.events)+1)...)
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	var n int
	var err error
	for {
		n, err = unix.Kevent(p.kq, nil, p.events[:maxEvents], ts)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return 0, errors.Wrap(err, "kevent wait")
	}

	p.fired = p.fired[:0]
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Ident)
		e := p.entries[fd]
		if e == nil {
			continue
		}

		var events api.EventType
		switch ev.Filter {
		case unix.EVFILT_READ:
			events |= api.EventRead
		case unix.EVFILT_WRITE:
			events |= api.EventWrite
		}
		if ev.Flags&unix.EV_ERROR != 0 || ev.Flags&unix.EV_EOF != 0 {
			events |= api.EventError
		}
		p.fired = append(p.fired, api.FiredEvent{Events: events, Userdata: e.userdata})
	}
	return len(p.fired), nil
}

func (p *kqueuer) FiredEvents() []api.FiredEvent {
	return p.fired
}

func (p *kqueuer) Close() {
	if p.kq >= 0 {
		unix.Close(p.kq)
		p.kq = -1
	}
}
