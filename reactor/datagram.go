// File: reactor/datagram.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DatagramSocket is the UDP channel: no connection state machine, one
// message callback per datagram, replies through SendTo with an EAGAIN
// spill queue.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/internal/sockets"
)

// maxDatagram bounds a single receive.
const maxDatagram = 64 * 1024

// DatagramMessageCallback receives one datagram and its sender.
type DatagramMessageCallback func(s *DatagramSocket, data []byte, peer SocketAddr)

// DatagramCreateCallback runs once after the socket is registered.
type DatagramCreateCallback func(s *DatagramSocket)

type pendingDatagram struct {
	data []byte
	peer SocketAddr
}

// DatagramSocket is a UDP channel owned by one event loop. Built
// through EventLoop.ListenUDP or EventLoop.CreateClientUDP.
type DatagramSocket struct {
	uniqueID
	loop *EventLoop
	fd   int

	onMessage DatagramMessageCallback
	onCreate  DatagramCreateCallback

	pending []pendingDatagram
}

// NewDatagramSocket returns an unbound datagram channel.
func NewDatagramSocket(loop *EventLoop) *DatagramSocket {
	return &DatagramSocket{loop: loop, fd: sockets.Invalid}
}

// SetMessageCallback installs the per-datagram handler.
func (s *DatagramSocket) SetMessageCallback(cb DatagramMessageCallback) { s.onMessage = cb }

// SetCreateCallback installs the post-registration hook.
func (s *DatagramSocket) SetCreateCallback(cb DatagramCreateCallback) { s.onCreate = cb }

// Bind creates the socket, optionally binds it to addr (nil means
// client mode) and registers for read.
func (s *DatagramSocket) Bind(addr *SocketAddr) error {
	if s.fd != sockets.Invalid {
		return errors.Wrap(api.ErrChannelRegistered, "datagram socket already bound")
	}

	fd, err := sockets.CreateUDPSocket()
	if err != nil {
		return err
	}
	s.fd = fd
	sockets.SetNonBlock(fd, true)

	if addr != nil {
		if !addr.IsValid() {
			s.fd = sockets.CloseSocket(s.fd)
			return errors.WithStack(api.ErrInvalidArgument)
		}
		sockets.SetReuseAddr(fd)
		if err := unix.Bind(fd, addr.sockaddr()); err != nil {
			s.fd = sockets.CloseSocket(s.fd)
			return errors.Wrapf(err, "bind udp %s", addr)
		}
	}

	if err := s.loop.Register(api.EventRead, s); err != nil {
		s.fd = sockets.CloseSocket(s.fd)
		return err
	}

	if s.onCreate != nil {
		s.onCreate(s)
	}
	return nil
}

// LocalAddr returns the bound endpoint.
func (s *DatagramSocket) LocalAddr() (SocketAddr, error) {
	sa, err := sockets.GetLocalAddr(s.fd)
	if err != nil {
		return SocketAddr{}, err
	}
	return addrFromSockaddr(sa), nil
}

// Identifier returns the socket fd.
func (s *DatagramSocket) Identifier() int { return s.fd }

// HandleReadEvent drains queued datagrams, one callback each.
func (s *DatagramSocket) HandleReadEvent() bool {
	buf := make([]byte, maxDatagram)
	for {
		n, sa, err := unix.Recvfrom(s.fd, buf, 0)
		if err == unix.EAGAIN {
			return true
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger.Error("datagram %d: recvfrom: %v", s.fd, err)
			return false
		}

		peer := SocketAddr{}
		if sa4, ok := sa.(*unix.SockaddrInet4); ok {
			peer = addrFromSockaddr(sa4)
		}
		if s.onMessage != nil {
			s.onMessage(s, buf[:n], peer)
		}
	}
}

// HandleWriteEvent flushes datagrams spilled on EAGAIN and drops write
// interest once the queue is empty.
func (s *DatagramSocket) HandleWriteEvent() bool {
	for len(s.pending) > 0 {
		d := s.pending[0]
		err := unix.Sendto(s.fd, d.data, 0, d.peer.sockaddr())
		if err == unix.EAGAIN {
			return true
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger.Error("datagram %d: sendto %s: %v", s.fd, d.peer, err)
			return false
		}
		s.pending = s.pending[1:]
	}

	s.loop.Modify(api.EventRead, s)
	return true
}

// HandleErrorEvent tears the socket down.
func (s *DatagramSocket) HandleErrorEvent() {
	logger.Error("datagram %d: error event", s.fd)
	s.loop.Unregister(s)
	s.fd = sockets.CloseSocket(s.fd)
}

// SendTo sends one datagram to peer, queueing it when the kernel
// pushes back. Loop-thread only.
func (s *DatagramSocket) SendTo(data []byte, peer SocketAddr) bool {
	if !peer.IsValid() || s.fd == sockets.Invalid {
		return false
	}

	if len(s.pending) > 0 {
		s.pending = append(s.pending, pendingDatagram{data: append([]byte(nil), data...), peer: peer})
		return true
	}

	err := unix.Sendto(s.fd, data, 0, peer.sockaddr())
	if err == unix.EAGAIN || err == unix.EINTR {
		s.pending = append(s.pending, pendingDatagram{data: append([]byte(nil), data...), peer: peer})
		s.loop.Modify(api.EventRead|api.EventWrite, s)
		return true
	}
	if err != nil {
		logger.Error("datagram %d: sendto %s: %v", s.fd, peer, err)
		return false
	}
	return true
}
