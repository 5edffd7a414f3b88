// File: reactor/connector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connector drives a non-blocking connect: register for writable,
// check SO_ERROR on readiness, promote to a Connection on success. The
// timeout timer and the success path are mutually exclusive; whichever
// resolves first cancels the other.

package reactor

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/timer"
	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/internal/sockets"
)

// Connector is the active-connect channel. Built through
// EventLoop.Connect.
type Connector struct {
	uniqueID
	loop    *EventLoop
	fd      int
	peer    SocketAddr
	dstLoop *EventLoop

	done       bool
	hasTimeout bool
	timeoutID  timer.ID

	newConnCb func(*Connection)
	failCb    func(error)
}

func newConnector(loop *EventLoop) *Connector {
	return &Connector{loop: loop, fd: sockets.Invalid}
}

// SetNewConnCallback installs the success hook, run on the destination
// loop's thread with the live Connection.
func (c *Connector) SetNewConnCallback(cb func(*Connection)) { c.newConnCb = cb }

// SetFailCallback installs the failure hook.
func (c *Connector) SetFailCallback(cb func(error)) { c.failCb = cb }

// Connect starts the non-blocking connect to dst. A non-positive
// timeout disables the timer. The Connection lands on dstLoop, or the
// connector's loop when nil.
func (c *Connector) Connect(dst SocketAddr, timeout time.Duration, dstLoop *EventLoop) error {
	if !dst.IsValid() {
		return errors.WithStack(api.ErrInvalidArgument)
	}
	if c.fd != sockets.Invalid {
		return errors.Wrap(api.ErrChannelRegistered, "connect already in flight")
	}

	fd, err := sockets.CreateTCPSocket()
	if err != nil {
		return err
	}
	c.fd = fd
	c.peer = dst
	c.dstLoop = dstLoop
	if c.dstLoop == nil {
		c.dstLoop = c.loop
	}
	sockets.SetNonBlock(fd, true)

	err = unix.Connect(fd, dst.sockaddr())
	switch err {
	case nil:
		// Connected on the spot; loopback does this.
		c.promote()
		return nil

	case unix.EINPROGRESS:
		if err := c.loop.Register(api.EventWrite, c); err != nil {
			c.fd = sockets.CloseSocket(c.fd)
			return err
		}
		if timeout > 0 {
			c.timeoutID = c.loop.timers.ScheduleAfter(timeout, c.onTimeout)
			c.hasTimeout = true
		}
		return nil

	default:
		c.fd = sockets.CloseSocket(c.fd)
		return errors.Wrapf(err, "connect %s", dst)
	}
}

// Identifier returns the connecting fd.
func (c *Connector) Identifier() int { return c.fd }

func (c *Connector) HandleReadEvent() bool {
	panic("connector: read event")
}

// HandleWriteEvent resolves the connect: SO_ERROR decides between
// promotion and failure.
func (c *Connector) HandleWriteEvent() bool {
	if c.done {
		return true
	}

	if err := sockets.GetSocketError(c.fd); err != nil {
		c.fail(err)
		return true
	}

	c.cancelTimeout()
	c.loop.Unregister(c)
	c.promote()
	return true
}

// HandleErrorEvent fails the connect with whatever the socket reports.
func (c *Connector) HandleErrorEvent() {
	if c.done {
		return
	}
	err := sockets.GetSocketError(c.fd)
	if err == nil {
		err = api.ErrConnClosed
	}
	c.fail(err)
}

// onTimeout fires on the loop thread when the connect outlives its
// deadline.
func (c *Connector) onTimeout() {
	if c.done {
		return
	}
	logger.Warn("connector: %s timed out", c.peer)
	c.hasTimeout = false
	c.fail(api.ErrConnectTimeout)
}

func (c *Connector) cancelTimeout() {
	if c.hasTimeout {
		c.loop.timers.Cancel(c.timeoutID)
		c.hasTimeout = false
	}
}

// promote hands the socket to the destination loop as a Connection.
// The connector is finished; only the new Connection owns the fd now.
func (c *Connector) promote() {
	c.done = true
	fd := c.fd
	c.fd = sockets.Invalid

	// The kernel's view of the peer is authoritative once the connect
	// resolved.
	peer := c.peer
	if sa, err := sockets.GetPeerAddr(fd); err == nil {
		peer = addrFromSockaddr(sa)
	}
	cb := c.newConnCb
	loop := c.dstLoop
	loop.Execute(func() {
		conn := newConnection(loop)
		if err := conn.Init(fd, peer); err != nil {
			logger.Error("connector: init fd %d: %v", fd, err)
			sockets.CloseSocket(fd)
			return
		}
		if err := loop.Register(api.EventRead, conn); err != nil {
			logger.Error("connector: register fd %d: %v", fd, err)
			sockets.CloseSocket(fd)
			return
		}
		if cb != nil {
			cb(conn)
		}
		conn.fireConnect()
	})
}

// fail resolves the connect as a failure exactly once.
func (c *Connector) fail(err error) {
	c.done = true
	c.cancelTimeout()
	if c.UniqueID() != 0 {
		c.loop.Unregister(c)
	}
	c.fd = sockets.CloseSocket(c.fd)

	if c.failCb != nil {
		c.failCb(err)
	}
}
