// File: ssl/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Engine is the sans-IO face of a TLS implementation: the filter moves
// ciphertext between the socket and the engine's memory BIOs and the
// engine never touches a file descriptor. Any binding that satisfies
// this contract plugs in through Manager's factory.

package ssl

import "fmt"

// Engine state errors. The filter branches on these; any other error
// from an engine call is a protocol failure and closes the connection.
var (
	// ErrWantRead means the engine needs more inbound ciphertext
	// before the call can make progress.
	ErrWantRead = fmt.Errorf("tls engine wants read")
	// ErrWantWrite means the engine produced ciphertext that must be
	// shipped before the call can make progress. Memory-BIO engines
	// never report it; the filter treats it as a protocol failure.
	ErrWantWrite = fmt.Errorf("tls engine wants write")
)

// Engine is one TLS session driven entirely through memory buffers.
//
// The filter feeds inbound ciphertext with ReadCiphertext, steps the
// session with Handshake/Encrypt/Decrypt, and ships whatever
// TakeCiphertext yields. Encrypt consumes all of its input or fails;
// partial encryption is not part of the contract.
type Engine interface {
	// Handshake advances the handshake. It reports true once the
	// session is established; before that it returns ErrWantRead
	// while more peer bytes are needed.
	Handshake() (bool, error)

	// HandshakeDone reports whether the handshake has completed at
	// least once. Renegotiation does not reset it.
	HandshakeDone() bool

	// ReadCiphertext feeds bytes received from the peer into the
	// inbound BIO.
	ReadCiphertext(data []byte)

	// TakeCiphertext drains the outbound BIO. It returns nil when the
	// engine has nothing to send.
	TakeCiphertext() []byte

	// Encrypt submits plaintext for transmission. The ciphertext
	// appears in TakeCiphertext. ErrWantRead means the engine is
	// mid-renegotiation and the plaintext was not accepted.
	Encrypt(data []byte) error

	// Decrypt moves available plaintext into dst and returns the byte
	// count. ErrWantRead means a complete record has not arrived yet.
	Decrypt(dst []byte) (int, error)

	// Renegotiate requests a new handshake on the established
	// session. ErrWantRead is the normal in-progress result.
	Renegotiate() error

	// Shutdown ends the session and returns the close-notify
	// ciphertext, if any. Idempotent.
	Shutdown() []byte
}

// EngineFactory builds one engine per connection. incoming is true on
// the accepting side.
type EngineFactory func(cfg *Config, incoming bool) (Engine, error)
