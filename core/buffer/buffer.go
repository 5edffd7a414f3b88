// File: core/buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Buffer is a growable byte store with separate read and write indexes,
// the unit of all connection-side I/O staging. Only the region between
// the two indexes holds live data; the space before the read index is
// reclaimed by compaction when growing would otherwise allocate.

package buffer

import "math"

const (
	// MaxBufferSize caps a single buffer at half the addressable size.
	MaxBufferSize = math.MaxInt / 2
	// HighWaterMark is the coalescing threshold used by BufferList.
	HighWaterMark = 1 * 1024
	// DefaultSize is the initial capacity of a buffer on first growth.
	DefaultSize = 256
)

// Buffer is a byte store with 0 <= readPos <= writePos <= capacity.
// It is not safe for concurrent use; a buffer belongs to one logical
// actor at a time.
type Buffer struct {
	readPos  int
	writePos int
	store    []byte
}

// New returns a buffer preloaded with data.
func New(data []byte) *Buffer {
	b := &Buffer{}
	b.PushData(data)
	return b
}

// PushData appends data after the write index and advances it.
// Returns the number of bytes pushed: len(data), or 0 when the push
// would exceed MaxBufferSize.
func (b *Buffer) PushData(data []byte) int {
	n := b.PushDataAt(data, 0)
	b.Produce(n)
	return n
}

// PushDataAt copies data at write index + offset without advancing the
// write index. Returns 0 on empty input or overflow.
func (b *Buffer) PushDataAt(data []byte, offset int) int {
	if len(data) == 0 {
		return 0
	}
	if b.ReadableSize()+len(data)+offset >= MaxBufferSize {
		return 0
	}

	b.AssureSpace(len(data) + offset)
	copy(b.store[b.writePos+offset:], data)
	return len(data)
}

// Produce advances the write index after data was placed directly into
// WriteSlice.
func (b *Buffer) Produce(n int) {
	b.writePos += n
}

// PeekDataAt copies up to len(out) bytes starting at read index +
// offset without consuming them. Returns the number of bytes copied.
func (b *Buffer) PeekDataAt(out []byte, offset int) int {
	dataSize := b.ReadableSize()
	if len(out) == 0 || dataSize <= offset {
		return 0
	}

	n := len(out)
	if n+offset > dataSize {
		n = dataSize - offset
	}
	copy(out, b.store[b.readPos+offset:b.readPos+offset+n])
	return n
}

// PopData peeks into out and consumes the copied bytes.
func (b *Buffer) PopData(out []byte) int {
	n := b.PeekDataAt(out, 0)
	b.Consume(n)
	return n
}

// Consume advances the read index. Consuming past the write index is a
// programmer error.
func (b *Buffer) Consume(n int) {
	if b.readPos+n > b.writePos {
		panic("buffer: consume past write index")
	}

	b.readPos += n
	if b.IsEmpty() {
		b.Clear()
	}
}

// ReadSlice returns the readable region. The slice aliases the buffer
// and is invalidated by any mutating call.
func (b *Buffer) ReadSlice() []byte {
	return b.store[b.readPos:b.writePos]
}

// WriteSlice returns the writable region after the write index.
func (b *Buffer) WriteSlice() []byte {
	return b.store[b.writePos:]
}

// IsEmpty reports whether no readable bytes remain.
func (b *Buffer) IsEmpty() bool { return b.ReadableSize() == 0 }

// ReadableSize returns the number of readable bytes.
func (b *Buffer) ReadableSize() int { return b.writePos - b.readPos }

// WritableSize returns the number of writable bytes.
func (b *Buffer) WritableSize() int { return len(b.store) - b.writePos }

// Capacity returns the allocated size.
func (b *Buffer) Capacity() int { return len(b.store) }

// AssureSpace guarantees at least need writable bytes, compacting the
// readable region to offset 0 when the space before the read index is
// enough, reallocating otherwise. Readable bytes are preserved
// unchanged. Needing more than MaxBufferSize is a programmer error.
func (b *Buffer) AssureSpace(need int) {
	if b.WritableSize() >= need {
		return
	}

	dataSize := b.ReadableSize()
	if dataSize+need >= MaxBufferSize {
		panic("buffer: assure space past max buffer size")
	}

	oldCap := len(b.store)
	newCap := oldCap
	for newCap-dataSize < need {
		if newCap < DefaultSize {
			newCap = DefaultSize
		} else {
			newCap = roundUpPow2(newCap + 1)
		}
	}

	if newCap > oldCap {
		tmp := make([]byte, newCap)
		copy(tmp, b.store[b.readPos:b.writePos])
		b.store = tmp
	} else {
		copy(b.store, b.store[b.readPos:b.writePos])
	}
	b.readPos = 0
	b.writePos = dataSize
}

// Shrink releases memory once the readable region fits in a quarter of
// the capacity. An empty buffer above 8 KiB drops its storage.
func (b *Buffer) Shrink() {
	if b.IsEmpty() {
		if len(b.store) > 8*1024 {
			b.Clear()
			b.store = nil
		}
		return
	}

	dataSize := b.ReadableSize()
	if dataSize > len(b.store)/4 {
		return
	}

	tmp := make([]byte, roundUpPow2(dataSize))
	copy(tmp, b.store[b.readPos:b.writePos])
	b.store = tmp
	b.readPos = 0
	b.writePos = dataSize
}

// Clear resets both indexes. Storage is retained.
func (b *Buffer) Clear() {
	b.readPos = 0
	b.writePos = 0
}

// Swap exchanges contents with other.
func (b *Buffer) Swap(other *Buffer) {
	b.readPos, other.readPos = other.readPos, b.readPos
	b.writePos, other.writePos = other.writePos, b.writePos
	b.store, other.store = other.store, b.store
}

func roundUpPow2(size int) int {
	if size == 0 {
		return 0
	}
	n := 1
	for n < size {
		n *= 2
	}
	return n
}
