// File: internal/logger/logger_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package logger

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLevelFiltering(t *testing.T) {
	out := &safeBuffer{}
	SetSink(out)
	defer SetSink(nil)

	SetLevel("WARN")
	defer SetLevel("INFO")

	Debug("dropped %d", 1)
	Info("dropped %d", 2)
	Warn("kept %d", 3)
	Error("kept %d", 4)

	s := out.String()
	assert.NotContains(t, s, "dropped")
	assert.Contains(t, s, "[WARN] kept 3")
	assert.Contains(t, s, "[ERROR] kept 4")
}

func TestUnknownLevelNameIgnored(t *testing.T) {
	out := &safeBuffer{}
	SetSink(out)
	defer SetSink(nil)

	SetLevel("VERBOSE")
	Info("still emitted")
	assert.Contains(t, out.String(), "still emitted")
}
