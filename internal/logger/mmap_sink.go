// File: internal/logger/mmap_sink.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package logger

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// MmapSink is a fixed-size, memory-mapped log file. Writes append into
// the mapping without syscalls; when the region fills, writing wraps to
// the start. The kernel flushes dirty pages on its own schedule and on
// Close.
type MmapSink struct {
	mu   sync.Mutex
	file *os.File
	data []byte
	off  int
}

// NewMmapSink creates or truncates path to size bytes and maps it.
func NewMmapSink(path string, size int) (*MmapSink, error) {
	if size <= 0 {
		return nil, errors.New("mmap sink: non-positive size")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "mmap sink: open")
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap sink: truncate")
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap sink: mmap")
	}
	return &MmapSink{file: f, data: data}, nil
}

// Write copies p into the mapping. A record longer than the region is
// truncated to fit.
func (s *MmapSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return 0, errors.New("mmap sink: closed")
	}
	if len(p) > len(s.data) {
		p = p[:len(s.data)]
	}
	if s.off+len(p) > len(s.data) {
		s.off = 0
	}
	copy(s.data[s.off:], p)
	s.off += len(p)
	return len(p), nil
}

// Close syncs the mapping and releases it.
func (s *MmapSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		return nil
	}
	syncErr := unix.Msync(s.data, unix.MS_SYNC)
	unmapErr := unix.Munmap(s.data)
	s.data = nil
	closeErr := s.file.Close()

	if syncErr != nil {
		return errors.Wrap(syncErr, "mmap sink: msync")
	}
	if unmapErr != nil {
		return errors.Wrap(unmapErr, "mmap sink: munmap")
	}
	return closeErr
}
