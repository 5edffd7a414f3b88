// File: api/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Poller abstracts the host readiness multiplexer (epoll on Linux,
// kqueue on Darwin and the BSDs).

package api

// Poller is a readiness multiplexer over file descriptors.
//
// Register on an already-registered fd must degrade to Modify, and
// Modify on an unknown fd must degrade to Register; callers are
// allowed to update interest sets repeatedly without tracking which
// call they made first.
type Poller interface {
	Register(fd int, events EventType, userdata any) error
	Modify(fd int, events EventType, userdata any) error

	// Unregister drops all interest in fd, read and write alike.
	Unregister(fd int) error

	// Poll blocks up to timeoutMs milliseconds for readiness on at most
	// maxEvents descriptors and returns the number of fired events.
	Poll(maxEvents int, timeoutMs int) (int, error)

	// FiredEvents returns the events fired by the last Poll. The slice
	// is owned by the poller and valid until the next Poll.
	FiredEvents() []FiredEvent

	Close()
}
