// File: reactor/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Acceptor is the listening channel: accept until EAGAIN, hand each
// new socket to a loop picked by the selector, and classify accept
// errors into retry, transient exhaustion and fatal.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/internal/sockets"
)

const listenBacklog = 1024

// Acceptor owns a listening TCP socket registered for read on its
// loop. Built through EventLoop.Listen.
type Acceptor struct {
	uniqueID
	loop      *EventLoop
	fd        int
	localPort uint16
	newConnCb func(*Connection)
}

func newAcceptor(loop *EventLoop) *Acceptor {
	return &Acceptor{loop: loop, fd: sockets.Invalid}
}

// SetNewConnCallback installs the hook run for every accepted
// connection, on the adopting loop's thread.
func (a *Acceptor) SetNewConnCallback(cb func(*Connection)) {
	a.newConnCb = cb
}

// Bind creates the listening socket, tunes it, binds, listens and
// registers for read.
func (a *Acceptor) Bind(addr SocketAddr) error {
	if !addr.IsValid() {
		return errors.WithStack(api.ErrInvalidArgument)
	}
	if a.fd != sockets.Invalid {
		return errors.Wrapf(api.ErrChannelRegistered, "already listening on %d", a.localPort)
	}

	fd, err := sockets.CreateTCPSocket()
	if err != nil {
		return err
	}
	a.fd = fd
	a.localPort = addr.Port()

	sockets.SetNonBlock(fd, true)
	sockets.SetNodelay(fd, true)
	sockets.SetReuseAddr(fd)
	sockets.SetRcvBuf(fd, sockets.DefaultBufferSize)
	sockets.SetSndBuf(fd, sockets.DefaultBufferSize)

	if err := unix.Bind(fd, addr.sockaddr()); err != nil {
		a.fd = sockets.CloseSocket(a.fd)
		return errors.Wrapf(err, "bind %s", addr)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		a.fd = sockets.CloseSocket(a.fd)
		return errors.Wrapf(err, "listen %s", addr)
	}

	if err := a.loop.Register(api.EventRead, a); err != nil {
		a.fd = sockets.CloseSocket(a.fd)
		return err
	}

	logger.Info("acceptor: listening on %s (fd %d)", addr, fd)
	return nil
}

// LocalPort returns the bound port, useful after binding port 0.
func (a *Acceptor) LocalPort() (uint16, error) {
	sa, err := sockets.GetLocalAddr(a.fd)
	if err != nil {
		return 0, err
	}
	return uint16(sa.Port), nil
}

// Identifier returns the listening fd.
func (a *Acceptor) Identifier() int { return a.fd }

// HandleReadEvent accepts until the backlog is dry. Each accepted
// socket is adopted by the selector's loop: the Connection is built,
// registered for read and announced there.
func (a *Acceptor) HandleReadEvent() bool {
	for {
		connfd, sa, err := unix.Accept(a.fd)
		if err == nil {
			peer := SocketAddr{valid: true}
			if sa4, ok := sa.(*unix.SockaddrInet4); ok {
				peer = addrFromSockaddr(sa4)
			}

			loop := a.loop.nextLoop()
			cb := a.newConnCb
			loop.Execute(func() {
				conn := newConnection(loop)
				if err := conn.Init(connfd, peer); err != nil {
					logger.Error("acceptor: init fd %d: %v", connfd, err)
					sockets.CloseSocket(connfd)
					return
				}
				if err := loop.Register(api.EventRead, conn); err != nil {
					logger.Error("acceptor: register fd %d: %v", connfd, err)
					sockets.CloseSocket(connfd)
					return
				}
				if cb != nil {
					cb(conn)
				}
				conn.fireConnect()
			})
			continue
		}

		switch err {
		case unix.EAGAIN:
			return true

		case unix.EINTR, unix.ECONNABORTED, unix.EPROTO:
			continue

		case unix.EMFILE, unix.ENFILE:
			logger.Error("acceptor: out of file descriptors: %v", err)
			return true

		case unix.ENOBUFS, unix.ENOMEM:
			logger.Error("acceptor: out of socket memory: %v", err)
			return true

		default:
			logger.Error("acceptor: accept on fd %d: %v", a.fd, err)
			return false
		}
	}
}

// HandleWriteEvent must never fire; the acceptor holds read interest
// only.
func (a *Acceptor) HandleWriteEvent() bool {
	panic("acceptor: write event")
}

// HandleErrorEvent tears the listener down.
func (a *Acceptor) HandleErrorEvent() {
	logger.Error("acceptor: error event on port %d", a.localPort)
	a.loop.Unregister(a)
	a.fd = sockets.CloseSocket(a.fd)
}
