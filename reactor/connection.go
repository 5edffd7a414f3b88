// File: reactor/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection is the TCP state machine over a non-blocking socket:
// pipelined read -> on-message -> batched write, direct send with
// spill to a send list on short writes, vectored flush on writable
// readiness and half-close sequencing for graceful shutdown. Every
// mutation happens on the owning loop's thread; SafeSend is the one
// cross-thread entry and reposts itself there.

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/internal/sockets"
)

// State is the connection lifecycle.
type State int

const (
	StateNone State = iota
	StateConnected
	StateCloseWaitWrite
	StatePassiveClose
	StateActiveClose
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateConnected:
		return "connected"
	case StateCloseWaitWrite:
		return "close-wait-write"
	case StatePassiveClose:
		return "passive-close"
	case StateActiveClose:
		return "active-close"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ShutdownMode selects which half of the connection to shut.
type ShutdownMode int

const (
	ShutdownRead ShutdownMode = iota
	ShutdownWrite
	ShutdownBoth
)

// readChunk is the writable space assured before each recv.
const readChunk = 8 * 1024

// maxIovecs caps one writev call; IOV_MAX is far larger on every
// supported platform.
const maxIovecs = 64

// MessageCallback consumes readable bytes and returns how many were
// used. Returning 0 means more bytes are needed.
type MessageCallback func(c *Connection, data []byte) int

// Connection is a TCP channel owned by one event loop.
type Connection struct {
	uniqueID
	loop *EventLoop
	fd   int
	peer SocketAddr

	state         State
	minPacketSize int

	recvBuf buffer.Buffer
	sendBuf buffer.BufferList

	// batchSend gathers sends issued during a read dispatch into one
	// buffer that is handed to SendPacket as a single packet at
	// dispatch exit.
	batchSend      bool
	processingRead bool
	batchBuf       buffer.Buffer

	onConnect       func(*Connection)
	onDisconnect    func(*Connection)
	onMessage       MessageCallback
	onWriteComplete func(*Connection)

	userData any
}

func newConnection(loop *EventLoop) *Connection {
	return &Connection{
		loop:          loop,
		fd:            sockets.Invalid,
		minPacketSize: 1,
		batchSend:     true,
	}
}

// Init adopts fd as a connected socket and flips the state machine to
// Connected. The fd is made non-blocking here.
func (c *Connection) Init(fd int, peer SocketAddr) error {
	if fd == sockets.Invalid {
		return api.ErrInvalidArgument
	}
	c.fd = fd
	c.peer = peer
	if err := sockets.SetNonBlock(fd, true); err != nil {
		return err
	}
	if c.state != StateNone {
		panic("reactor: connection initialized twice")
	}
	c.state = StateConnected
	return nil
}

// Identifier returns the socket fd.
func (c *Connection) Identifier() int { return c.fd }

// Loop returns the owning event loop.
func (c *Connection) Loop() *EventLoop { return c.loop }

// Peer returns the remote endpoint.
func (c *Connection) Peer() SocketAddr { return c.peer }

// State returns the current lifecycle state.
func (c *Connection) State() State { return c.state }

// SetNodelay toggles TCP_NODELAY on the socket.
func (c *Connection) SetNodelay(enable bool) {
	sockets.SetNodelay(c.fd, enable)
}

// SetOnConnect installs the connected hook.
func (c *Connection) SetOnConnect(cb func(*Connection)) { c.onConnect = cb }

// SetOnDisconnect installs the disconnect hook.
func (c *Connection) SetOnDisconnect(cb func(*Connection)) { c.onDisconnect = cb }

// SetOnMessage installs the message handler. Without one, the
// connection echoes its input.
func (c *Connection) SetOnMessage(cb MessageCallback) { c.onMessage = cb }

// SetOnWriteComplete installs the drained-send hook.
func (c *Connection) SetOnWriteComplete(cb func(*Connection)) { c.onWriteComplete = cb }

// SetBatchSend toggles write batching during read dispatch.
func (c *Connection) SetBatchSend(batch bool) { c.batchSend = batch }

// SetMinPacketSize sets the framing threshold below which on-message
// is not invoked.
func (c *Connection) SetMinPacketSize(s int) {
	if s < 1 {
		s = 1
	}
	c.minPacketSize = s
}

// MinPacketSize returns the framing threshold.
func (c *Connection) MinPacketSize() int { return c.minPacketSize }

// SetUserData stores an opaque per-connection slot.
func (c *Connection) SetUserData(v any) { c.userData = v }

// UserData returns the opaque per-connection slot.
func (c *Connection) UserData() any { return c.userData }

func (c *Connection) fireConnect() {
	if c.state != StateConnected {
		return
	}
	if c.onConnect != nil {
		c.onConnect(c)
	}
}

// ActiveClose starts a graceful local close. With pending send data
// the FIN is deferred until the send list drains.
func (c *Connection) ActiveClose() {
	if c.fd == sockets.Invalid {
		return
	}

	if c.sendBuf.Empty() {
		c.Shutdown(ShutdownBoth)
		c.state = StateActiveClose
	} else {
		c.state = StateCloseWaitWrite
		c.Shutdown(ShutdownRead)
	}

	c.loop.Modify(api.EventWrite, c)
}

// Shutdown issues the half- or full close. Shutting the write side
// with queued data discards it.
func (c *Connection) Shutdown(mode ShutdownMode) {
	switch mode {
	case ShutdownRead:
		unix.Shutdown(c.fd, unix.SHUT_RD)
	case ShutdownWrite:
		if !c.sendBuf.Empty() {
			logger.Warn("conn %d: shutdown write with %d bytes unsent", c.fd, c.sendBuf.TotalBytes())
			c.sendBuf.Clear()
		}
		unix.Shutdown(c.fd, unix.SHUT_WR)
	case ShutdownBoth:
		if !c.sendBuf.Empty() {
			logger.Warn("conn %d: shutdown both with %d bytes unsent", c.fd, c.sendBuf.TotalBytes())
			c.sendBuf.Clear()
		}
		unix.Shutdown(c.fd, unix.SHUT_RDWR)
	}
}

// HandleReadEvent drains the socket and feeds complete packets to the
// message handler. Responses sent while batching accumulate in one
// buffer and go out through a single SendPacket when the dispatch ends.
func (c *Connection) HandleReadEvent() bool {
	if c.state != StateConnected {
		logger.Error("conn %d: read event in state %s", c.fd, c.state)
		return false
	}

	c.processingRead = true
	defer func() {
		c.processingRead = false
		if !c.batchBuf.IsEmpty() {
			c.SendPacket(c.batchBuf.ReadSlice())
			c.batchBuf.Clear()
		}
	}()

	busy := false
	for {
		c.recvBuf.AssureSpace(readChunk)
		n, err := unix.Read(c.fd, c.recvBuf.WriteSlice())
		if err == unix.EAGAIN {
			if busy {
				c.recvBuf.Shrink()
			}
			return true
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			logger.Error("conn %d: read: %v", c.fd, err)
			c.Shutdown(ShutdownBoth)
			c.state = StateError
			return false
		}

		if n == 0 {
			// EOF from the peer.
			if c.sendBuf.Empty() {
				c.Shutdown(ShutdownBoth)
				c.state = StatePassiveClose
			} else {
				c.state = StateCloseWaitWrite
				c.Shutdown(ShutdownRead)
				c.loop.Modify(api.EventWrite, c)
			}
			return false
		}

		c.recvBuf.Produce(n)
		for c.recvBuf.ReadableSize() >= c.minPacketSize {
			var consumed int
			if c.onMessage != nil {
				consumed = c.onMessage(c, c.recvBuf.ReadSlice())
			} else {
				// No handler installed: echo.
				consumed = c.recvBuf.ReadableSize()
				c.SendPacket(c.recvBuf.ReadSlice())
			}

			if consumed == 0 {
				break
			}
			c.recvBuf.Consume(consumed)
			busy = true
		}
	}
}

// HandleWriteEvent flushes the send list with vectored writes and
// drops write interest once drained. In CloseWaitWrite a full drain
// completes the close.
func (c *Connection) HandleWriteEvent() bool {
	if c.state != StateConnected && c.state != StateCloseWaitWrite {
		logger.Error("conn %d: write event in state %s", c.fd, c.state)
		return false
	}

	expect := c.sendBuf.TotalBytes()
	var slices [][]byte
	for _, b := range c.sendBuf.Buffers() {
		slices = append(slices, b.ReadSlice())
	}

	sent, err := writeV(c.fd, slices)
	if err != nil {
		logger.Error("conn %d: writev: %v", c.fd, err)
		c.Shutdown(ShutdownBoth)
		c.state = StateError
		return false
	}

	c.sendBuf.Consume(sent)

	if sent == expect {
		c.loop.Modify(api.EventRead, c)

		if c.onWriteComplete != nil {
			c.onWriteComplete(c)
		}
		if c.state == StateCloseWaitWrite {
			c.state = StatePassiveClose
			return false
		}
	}
	return true
}

// HandleErrorEvent finishes a closing connection: terminal states move
// to Closed, the disconnect hook fires and the channel leaves the
// loop. Non-closing states ignore the event.
func (c *Connection) HandleErrorEvent() {
	switch c.state {
	case StatePassiveClose, StateActiveClose, StateError:
	default:
		return
	}

	c.state = StateClosed

	if c.onDisconnect != nil {
		c.onDisconnect(c)
	}
	c.loop.Unregister(c)
	c.fd = sockets.CloseSocket(c.fd)
}

// SafeSend queues data for sending from any thread. On the loop thread
// it degrades to SendPacket; elsewhere the bytes are copied and the
// send reposted.
func (c *Connection) SafeSend(data []byte) {
	if c.loop.InThisLoop() {
		c.SendPacket(data)
		return
	}
	owned := append([]byte(nil), data...)
	c.loop.Execute(func() { c.SendPacket(owned) })
}

// SendPacket sends data on the loop thread. While older data is
// queued, or during a batching read dispatch, the bytes are buffered;
// otherwise a direct write is attempted and any remainder spills into
// the send list with write interest enabled.
func (c *Connection) SendPacket(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	if c.state != StateConnected && c.state != StateCloseWaitWrite {
		return false
	}

	if !c.sendBuf.Empty() {
		c.sendBuf.Push(data)
		return true
	}

	if c.processingRead && c.batchSend {
		c.batchBuf.PushData(data)
		return true
	}

	n, err := send(c.fd, data)
	if err != nil {
		c.Shutdown(ShutdownBoth)
		c.state = StateError
		c.loop.Modify(api.EventWrite, c)
		return false
	}

	if n < len(data) {
		c.sendBuf.Push(data[n:])
		c.loop.Modify(api.EventRead|api.EventWrite, c)
	} else if c.onWriteComplete != nil {
		c.onWriteComplete(c)
	}
	return true
}

// SendPacketBuffer sends the readable region of buf.
func (c *Connection) SendPacketBuffer(buf *buffer.Buffer) bool {
	return c.SendPacket(buf.ReadSlice())
}

// SendPacketList sends every buffer in the list as one logical packet.
func (c *Connection) SendPacketList(list *buffer.BufferList) bool {
	if c.state != StateConnected && c.state != StateCloseWaitWrite {
		return false
	}

	var sl buffer.SliceList
	for _, b := range list.Buffers() {
		sl.PushBack(b.ReadSlice())
	}
	return c.SendPacketSlices(&sl)
}

// SendPacketSlices sends a scatter list as one logical packet with a
// single vectored write when the path is clear.
func (c *Connection) SendPacketSlices(slices *buffer.SliceList) bool {
	if slices.Empty() {
		return true
	}
	if c.state != StateConnected && c.state != StateCloseWaitWrite {
		return false
	}

	if !c.sendBuf.Empty() {
		for _, s := range slices.Slices() {
			c.sendBuf.Push(s)
		}
		return true
	}

	if c.processingRead && c.batchSend {
		for _, s := range slices.Slices() {
			c.batchBuf.PushData(s)
		}
		return true
	}

	expect := slices.TotalBytes()
	sent, err := writeV(c.fd, slices.Slices())
	if err != nil {
		c.Shutdown(ShutdownBoth)
		c.state = StateError
		c.loop.Modify(api.EventWrite, c)
		return false
	}

	if sent < expect {
		collectRemainder(slices.Slices(), sent, &c.sendBuf)
		c.loop.Modify(api.EventRead|api.EventWrite, c)
	} else if c.onWriteComplete != nil {
		c.onWriteComplete(c)
	}
	return true
}

// send writes data once; EAGAIN and EINTR count as zero bytes sent.
func send(fd int, data []byte) (int, error) {
	n, err := unix.Write(fd, data)
	if err == unix.EAGAIN || err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// writeV flushes slices with writev in runs of at most maxIovecs,
// stopping at the first short write or EAGAIN.
func writeV(fd int, slices [][]byte) (int, error) {
	sentBytes := 0
	sentVecs := 0
	for sentVecs < len(slices) {
		vc := len(slices) - sentVecs
		if vc > maxIovecs {
			vc = maxIovecs
		}

		run := slices[sentVecs : sentVecs+vc]
		expect := 0
		for _, s := range run {
			expect += len(s)
		}

		n, err := unix.Writev(fd, run)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return sentBytes, nil
		}
		if err != nil {
			return sentBytes, err
		}

		sentBytes += n
		if n < expect {
			return sentBytes, nil
		}
		sentVecs += vc
	}
	return sentBytes, nil
}

// collectRemainder pushes the unsent tail of a scatter list into the
// send list.
func collectRemainder(slices [][]byte, skipped int, dst *buffer.BufferList) {
	for _, s := range slices {
		if skipped >= len(s) {
			skipped -= len(s)
			continue
		}
		dst.Push(s[skipped:])
		skipped = 0
	}
}
