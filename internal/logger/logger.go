// File: internal/logger/logger.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Leveled printf-style logger used across the event loops. Timestamps
// come from a cached clock so logging on the hot path never syscalls
// for time. The sink defaults to stdout and may be swapped for a
// memory-mapped file sink.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/agilira/go-timecache"
)

// Level orders log severities.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	mu           sync.Mutex
	currentLevel = LevelInfo
	sink         io.Writer = os.Stdout
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetLevel sets the minimum severity that is emitted. Unknown names
// are ignored.
func SetLevel(level string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToUpper(level) {
	case "DEBUG":
		currentLevel = LevelDebug
	case "INFO":
		currentLevel = LevelInfo
	case "WARN":
		currentLevel = LevelWarn
	case "ERROR":
		currentLevel = LevelError
	}
}

// SetSink redirects output. A nil sink restores stdout.
func SetSink(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	sink = w
}

func emit(level Level, format string, v ...any) {
	mu.Lock()
	if level < currentLevel {
		mu.Unlock()
		return
	}
	w := sink
	mu.Unlock()

	timestamp := timecache.CachedTime().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(w, "[%s] [%s] %s\n", timestamp, level, fmt.Sprintf(format, v...))
}

func Debug(format string, v ...any) {
	emit(LevelDebug, format, v...)
}

func Info(format string, v ...any) {
	emit(LevelInfo, format, v...)
}

func Warn(format string, v ...any) {
	emit(LevelWarn, format, v...)
}

func Error(format string, v ...any) {
	emit(LevelError, format, v...)
}
