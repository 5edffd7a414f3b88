// File: ssl/filter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Filter splices a TLS engine into a Connection: it takes over the
// on-message slot, feeds socket bytes to the engine, ships the
// engine's ciphertext back out, and hands decrypted plaintext to the
// application callback. During the handshake phase the slot points at
// onHandshake; completion swaps it to onData. Plaintext written while
// the engine wants more peer bytes parks in a send buffer and flushes
// on the next inbound record.

package ssl

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/reactor"
)

// recordHeaderSize is the TLS record header; shorter reads cannot
// contain a steppable record.
const recordHeaderSize = 5

// plainChunk is the writable space assured before each decrypt.
const plainChunk = 16 * 1024

// Filter is the byte-stream transform between a Connection's kernel
// I/O and the application's plaintext handler. All methods run on the
// connection's loop thread.
type Filter struct {
	conn     *reactor.Connection
	engine   Engine
	incoming bool

	onPlainText reactor.MessageCallback

	// sendBuf parks plaintext the engine could not take yet.
	sendBuf   buffer.Buffer
	recvPlain buffer.Buffer

	writeWaitReadable    bool
	readWaitReadable     bool
	shutdownWaitReadable bool
	closed               bool
}

// newFilter wires the filter into c: user-data slot, disconnect hook,
// record-sized framing threshold and the handshake-phase on-message.
func newFilter(c *reactor.Connection, e Engine, incoming bool, onPlainText reactor.MessageCallback) *Filter {
	f := &Filter{
		conn:        c,
		engine:      e,
		incoming:    incoming,
		onPlainText: onPlainText,
	}
	c.SetUserData(f)
	c.SetOnDisconnect(func(*reactor.Connection) { f.Close() })
	c.SetMinPacketSize(recordHeaderSize)
	c.SetOnMessage(f.onHandshake)
	return f
}

// FromConnection returns the filter attached to c, if any.
func FromConnection(c *reactor.Connection) (*Filter, bool) {
	f, ok := c.UserData().(*Filter)
	return f, ok
}

// start takes the first handshake step. The initiating side produces
// its hello here; the accepting side just arms want-read.
func (f *Filter) start() error {
	done, err := f.engine.Handshake()
	if err != nil && !errors.Is(err, ErrWantRead) {
		f.conn.ActiveClose()
		return errors.Wrap(err, "tls handshake start")
	}
	if done {
		f.conn.SetOnMessage(f.onData)
	}
	f.shipCiphertext()
	return nil
}

// onHandshake is the handshake-phase on-message: feed the record in,
// step the engine, ship whatever it produced, and on completion swap
// the slot to the data phase.
func (f *Filter) onHandshake(c *reactor.Connection, data []byte) int {
	f.engine.ReadCiphertext(data)

	done, err := f.engine.Handshake()
	if err != nil && !errors.Is(err, ErrWantRead) {
		logger.Warn("tls %d: handshake: %v", c.Identifier(), err)
		c.ActiveClose()
		return len(data)
	}
	if done {
		c.SetOnMessage(f.onData)
	}

	f.shipCiphertext()
	return len(data)
}

// onData is the data-phase on-message. A pending write blocked on
// want-read takes priority over decryption: the inbound record is what
// the engine was waiting for.
func (f *Filter) onData(c *reactor.Connection, data []byte) int {
	f.engine.ReadCiphertext(data)

	if f.writeWaitReadable {
		if !f.flushPending() {
			logger.Warn("tls %d: flush after renegotiation failed", c.Identifier())
			c.ActiveClose()
		}
		return len(data)
	}

	// A record may split across reads; decrypt into the plaintext
	// buffer and dispatch whatever is complete.
	f.recvPlain.AssureSpace(plainChunk)
	n, err := f.engine.Decrypt(f.recvPlain.WriteSlice())
	switch {
	case err == nil && n > 0:
		f.recvPlain.Produce(n)
		f.readWaitReadable = false
		if f.onPlainText != nil {
			processed := f.onPlainText(c, f.recvPlain.ReadSlice())
			if processed > 0 {
				f.recvPlain.Consume(processed)
			}
		}

	case errors.Is(err, ErrWantRead):
		// Want-read on an established session just means the record
		// is incomplete; mid-renegotiation it gates writes too.
		f.readWaitReadable = !f.engine.HandshakeDone()

	case err == nil:
		// Nothing decryptable in this record.

	default:
		logger.Warn("tls %d: decrypt: %v", c.Identifier(), err)
		c.ActiveClose()
		return len(data)
	}

	f.shipCiphertext()
	return len(data)
}

// Send encrypts and ships plaintext. While the engine cannot take it,
// or older plaintext is already parked, the bytes queue and leave with
// the next flush.
func (f *Filter) Send(data []byte) bool {
	if len(data) == 0 || f.closed {
		return !f.closed
	}

	if !f.sendBuf.IsEmpty() || f.readWaitReadable || f.shutdownWaitReadable {
		f.sendBuf.PushData(data)
		return true
	}
	return f.encryptAndShip(data, false)
}

// flushPending retries the parked plaintext after new peer bytes
// arrived.
func (f *Filter) flushPending() bool {
	if f.sendBuf.IsEmpty() {
		f.writeWaitReadable = false
		return true
	}
	return f.encryptAndShip(f.sendBuf.ReadSlice(), true)
}

func (f *Filter) encryptAndShip(data []byte, fromQueue bool) bool {
	err := f.engine.Encrypt(data)
	switch {
	case err == nil:
		f.writeWaitReadable = false
		if fromQueue {
			f.sendBuf.Clear()
		}

	case errors.Is(err, ErrWantRead):
		f.writeWaitReadable = true
		if !fromQueue {
			f.sendBuf.PushData(data)
		}

	default:
		logger.Warn("tls %d: encrypt: %v", f.conn.Identifier(), err)
		f.conn.ActiveClose()
		return false
	}

	return f.shipCiphertext()
}

// Renegotiate requests a fresh handshake on the established session.
func (f *Filter) Renegotiate() bool {
	if f.closed || !f.engine.HandshakeDone() {
		return false
	}

	if err := f.engine.Renegotiate(); err != nil && !errors.Is(err, ErrWantRead) {
		logger.Warn("tls %d: renegotiate: %v", f.conn.Identifier(), err)
		f.conn.ActiveClose()
		return false
	}
	return f.shipCiphertext()
}

// Close ends the session, shipping the close-notify when the
// connection can still take it. Idempotent; also runs from the
// connection's disconnect hook.
func (f *Filter) Close() {
	if f.closed {
		return
	}
	f.closed = true

	if notify := f.engine.Shutdown(); len(notify) > 0 {
		f.conn.SendPacket(notify)
	}
}

// shipCiphertext drains the engine's outbound BIO into the connection.
func (f *Filter) shipCiphertext() bool {
	out := f.engine.TakeCiphertext()
	if len(out) == 0 {
		return true
	}
	return f.conn.SendPacket(out)
}
