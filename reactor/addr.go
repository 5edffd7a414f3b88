// File: reactor/addr.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// ErrBadAddress reports an unparseable address literal.
var ErrBadAddress = errors.New("bad ipv4 address")

// SocketAddr is an IPv4 endpoint. The zero value is invalid; build one
// with NewSocketAddr or ParseSocketAddr. SocketAddr is comparable and
// usable as a map key.
type SocketAddr struct {
	ip    [4]byte
	port  uint16
	valid bool
}

// NewSocketAddr builds an address from a dotted-quad IP and a
// host-order port. The token "loopback" stands for 127.0.0.1.
func NewSocketAddr(ip string, port uint16) (SocketAddr, error) {
	if ip == "loopback" {
		ip = "127.0.0.1"
	}

	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return SocketAddr{}, errors.Wrapf(ErrBadAddress, "ip %q", ip)
	}
	var quad [4]byte
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return SocketAddr{}, errors.Wrapf(ErrBadAddress, "ip %q", ip)
		}
		quad[i] = byte(v)
	}
	return SocketAddr{ip: quad, port: port, valid: true}, nil
}

// ParseSocketAddr parses the "IP:PORT" literal form used by launchers.
func ParseSocketAddr(ipport string) (SocketAddr, error) {
	idx := strings.LastIndex(ipport, ":")
	if idx < 0 {
		return SocketAddr{}, errors.Wrapf(ErrBadAddress, "address %q", ipport)
	}
	port, err := strconv.Atoi(ipport[idx+1:])
	if err != nil || port < 0 || port > 65535 {
		return SocketAddr{}, errors.Wrapf(ErrBadAddress, "port in %q", ipport)
	}
	return NewSocketAddr(ipport[:idx], uint16(port))
}

func addrFromSockaddr(sa *unix.SockaddrInet4) SocketAddr {
	return SocketAddr{ip: sa.Addr, port: uint16(sa.Port), valid: true}
}

func (a SocketAddr) sockaddr() *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Port: int(a.port), Addr: a.ip}
}

// IsValid reports whether the address was built from real input.
func (a SocketAddr) IsValid() bool { return a.valid }

// IP returns the dotted-quad form.
func (a SocketAddr) IP() string {
	return fmt.Sprintf("%d.%d.%d.%d", a.ip[0], a.ip[1], a.ip[2], a.ip[3])
}

// Port returns the host-order port.
func (a SocketAddr) Port() uint16 { return a.port }

// String renders "IP:PORT".
func (a SocketAddr) String() string {
	return fmt.Sprintf("%s:%d", a.IP(), a.port)
}
