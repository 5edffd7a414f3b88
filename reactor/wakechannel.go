// File: reactor/wakechannel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/internal/sockets"
)

// wakeChannel is the self-pipe that unblocks the loop's poll when
// another thread posts a task. Pending notifications coalesce: however
// many bytes are in flight, one drain empties the pipe.
type wakeChannel struct {
	uniqueID
	readFd  int
	writeFd int
}

func newWakeChannel() (*wakeChannel, error) {
	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		return nil, errors.Wrap(err, "wake pipe")
	}
	sockets.SetNonBlock(fds[0], true)
	sockets.SetNonBlock(fds[1], true)
	return &wakeChannel{readFd: fds[0], writeFd: fds[1]}, nil
}

// Notify makes the pipe readable. A full pipe means a wake-up is
// already pending, which is just as good.
func (w *wakeChannel) Notify() {
	buf := []byte{0}
	unix.Write(w.writeFd, buf)
}

func (w *wakeChannel) Identifier() int { return w.readFd }

func (w *wakeChannel) HandleReadEvent() bool {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(w.readFd, buf)
		if n == len(buf) {
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return true
	}
}

func (w *wakeChannel) HandleWriteEvent() bool {
	panic("wake channel registered for write")
}

func (w *wakeChannel) HandleErrorEvent() {}

func (w *wakeChannel) Close() {
	w.readFd = sockets.CloseSocket(w.readFd)
	w.writeFd = sockets.CloseSocket(w.writeFd)
}

// uniqueID carries the loop-assigned channel id; concrete channels
// embed it to satisfy the id half of api.Channel.
type uniqueID struct {
	id uint32
}

func (u *uniqueID) UniqueID() uint32      { return u.id }
func (u *uniqueID) SetUniqueID(id uint32) { u.id = id }
