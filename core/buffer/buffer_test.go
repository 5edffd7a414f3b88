// File: core/buffer/buffer_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPushPopRoundTrip(t *testing.T) {
	b := &Buffer{}

	payload := []byte("hello, buffer")
	require.Equal(t, len(payload), b.PushData(payload))
	require.Equal(t, len(payload), b.ReadableSize())

	out := make([]byte, len(payload))
	require.Equal(t, len(payload), b.PopData(out))
	assert.Equal(t, payload, out)
	assert.True(t, b.IsEmpty())

	// Empty buffer resets both indexes.
	assert.Equal(t, 0, b.readPos)
	assert.Equal(t, 0, b.writePos)
}

func TestBufferIndexInvariant(t *testing.T) {
	b := &Buffer{}
	check := func() {
		assert.GreaterOrEqual(t, b.readPos, 0)
		assert.LessOrEqual(t, b.readPos, b.writePos)
		assert.LessOrEqual(t, b.writePos, b.Capacity())
	}

	check()
	for i := 0; i < 100; i++ {
		b.PushData(bytes.Repeat([]byte{byte(i)}, 37))
		check()
		if i%3 == 0 {
			b.Consume(17)
			check()
		}
	}
	b.Clear()
	check()
	assert.Equal(t, 0, b.ReadableSize())
}

func TestBufferContentEqualsPushedMinusPopped(t *testing.T) {
	b := &Buffer{}
	var expect []byte

	for i := 0; i < 50; i++ {
		chunk := bytes.Repeat([]byte{byte('a' + i%26)}, i+1)
		b.PushData(chunk)
		expect = append(expect, chunk...)

		if i%4 == 3 {
			out := make([]byte, i)
			n := b.PopData(out)
			assert.Equal(t, expect[:n], out[:n])
			expect = expect[n:]
		}
	}
	assert.Equal(t, expect, b.ReadSlice())
}

func TestBufferPeekDoesNotConsume(t *testing.T) {
	b := New([]byte("abcdef"))

	out := make([]byte, 3)
	require.Equal(t, 3, b.PeekDataAt(out, 2))
	assert.Equal(t, []byte("cde"), out)
	assert.Equal(t, 6, b.ReadableSize())

	// Peek past the end is truncated.
	big := make([]byte, 16)
	assert.Equal(t, 6, b.PeekDataAt(big, 0))
	assert.Equal(t, 0, b.PeekDataAt(big, 6))
}

func TestBufferPushDataAt(t *testing.T) {
	b := &Buffer{}
	b.PushData([]byte("head"))

	// Reserve a gap of 2, fill it later.
	require.Equal(t, 4, b.PushDataAt([]byte("tail"), 2))
	require.Equal(t, 2, b.PushDataAt([]byte("__"), 0))
	b.Produce(6)

	assert.Equal(t, []byte("head__tail"), b.ReadSlice())
}

func TestBufferAssureSpacePreservesData(t *testing.T) {
	b := New([]byte("payload"))
	b.Consume(3)

	before := append([]byte(nil), b.ReadSlice()...)
	b.AssureSpace(64 * 1024)

	assert.Equal(t, before, b.ReadSlice())
	assert.GreaterOrEqual(t, b.WritableSize(), 64*1024)
	assert.Equal(t, 0, b.readPos)
}

func TestBufferAssureSpaceCompacts(t *testing.T) {
	b := &Buffer{}
	b.PushData(bytes.Repeat([]byte{'x'}, 200))
	b.Consume(190)

	cap0 := b.Capacity()
	b.AssureSpace(cap0 - 15) // fits once the front gap is reclaimed

	assert.Equal(t, cap0, b.Capacity())
	assert.Equal(t, bytes.Repeat([]byte{'x'}, 10), b.ReadSlice())
}

func TestBufferShrink(t *testing.T) {
	b := &Buffer{}
	b.PushData(bytes.Repeat([]byte{'z'}, 4096))
	b.Consume(4090)

	b.Shrink()
	assert.Equal(t, bytes.Repeat([]byte{'z'}, 6), b.ReadSlice())
	assert.Less(t, b.Capacity(), 4096)

	// Empty oversized buffer drops its storage.
	e := &Buffer{}
	e.PushData(bytes.Repeat([]byte{'y'}, 16*1024))
	e.Consume(16 * 1024)
	e.Shrink()
	assert.Equal(t, 0, e.Capacity())
}

func TestBufferSwap(t *testing.T) {
	a := New([]byte("aaa"))
	b := New([]byte("bbbb"))

	a.Swap(b)
	assert.Equal(t, []byte("bbbb"), a.ReadSlice())
	assert.Equal(t, []byte("aaa"), b.ReadSlice())
}

func TestBufferProduceAfterDirectWrite(t *testing.T) {
	b := &Buffer{}
	b.AssureSpace(8)

	n := copy(b.WriteSlice(), "direct")
	b.Produce(n)
	assert.Equal(t, []byte("direct"), b.ReadSlice())
}
