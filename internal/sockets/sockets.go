// File: internal/sockets/sockets.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin IPv4 socket helpers shared by the acceptor, connector and
// connection code. All sockets are close-on-exec; non-blocking mode is
// set explicitly by the caller.

package sockets

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DefaultBufferSize is the kernel send/receive buffer size the
// acceptor applies to its listening socket; actively connected
// sockets keep the kernel default.
const DefaultBufferSize = 64 * 1024

// Invalid marks a closed or never-opened descriptor.
const Invalid = -1

// CreateTCPSocket returns a new IPv4 stream socket.
func CreateTCPSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return Invalid, errors.Wrap(err, "create tcp socket")
	}
	return fd, nil
}

// CreateUDPSocket returns a new IPv4 datagram socket.
func CreateUDPSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return Invalid, errors.Wrap(err, "create udp socket")
	}
	return fd, nil
}

// CreateSocketPair returns a connected pair of local stream sockets.
func CreateSocketPair() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return Invalid, Invalid, errors.Wrap(err, "socketpair")
	}
	return fds[0], fds[1], nil
}

// CloseSocket closes fd when it is valid and returns Invalid for
// storing back.
func CloseSocket(fd int) int {
	if fd != Invalid {
		unix.Close(fd)
	}
	return Invalid
}

// SetNonBlock switches fd between blocking and non-blocking mode.
func SetNonBlock(fd int, nonblock bool) error {
	return errors.Wrapf(unix.SetNonblock(fd, nonblock), "set nonblock fd %d", fd)
}

// SetNodelay toggles TCP_NODELAY.
func SetNodelay(fd int, enable bool) error {
	v := 0
	if enable {
		v = 1
	}
	return errors.Wrapf(
		unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v),
		"set nodelay fd %d", fd)
}

// SetReuseAddr enables SO_REUSEADDR.
func SetReuseAddr(fd int) error {
	return errors.Wrapf(
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1),
		"set reuseaddr fd %d", fd)
}

// SetSndBuf sets the kernel send buffer size.
func SetSndBuf(fd int, size int) error {
	return errors.Wrapf(
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size),
		"set sndbuf fd %d", fd)
}

// SetRcvBuf sets the kernel receive buffer size.
func SetRcvBuf(fd int, size int) error {
	return errors.Wrapf(
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size),
		"set rcvbuf fd %d", fd)
}

// GetSocketError drains SO_ERROR and reports it as an error, nil when
// the socket carries no pending error.
func GetSocketError(fd int) error {
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrapf(err, "getsockopt SO_ERROR fd %d", fd)
	}
	if v != 0 {
		return errors.Wrapf(unix.Errno(v), "socket error fd %d", fd)
	}
	return nil
}

// GetLocalAddr returns the bound IPv4 address of fd.
func GetLocalAddr(fd int) (*unix.SockaddrInet4, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "getsockname fd %d", fd)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, errors.New("local address is not ipv4")
	}
	return sa4, nil
}

// GetPeerAddr returns the remote IPv4 address of fd.
func GetPeerAddr(fd int) (*unix.SockaddrInet4, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, errors.Wrapf(err, "getpeername fd %d", fd)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return nil, errors.New("peer address is not ipv4")
	}
	return sa4, nil
}

// GetMaxOpenFd returns the soft RLIMIT_NOFILE ceiling.
func GetMaxOpenFd() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, errors.Wrap(err, "getrlimit nofile")
	}
	return lim.Cur, nil
}

// SetMaxOpenFd raises the soft RLIMIT_NOFILE ceiling up to the hard
// limit.
func SetMaxOpenFd(n uint64) error {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return errors.Wrap(err, "getrlimit nofile")
	}
	if n > lim.Max {
		n = lim.Max
	}
	lim.Cur = n
	return errors.Wrap(unix.Setrlimit(unix.RLIMIT_NOFILE, &lim), "setrlimit nofile")
}
