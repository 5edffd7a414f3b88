// File: reactor/tid_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

//go:build !linux

package reactor

import "runtime"

// threadID identifies the calling execution context. Without a portable
// kernel tid, the goroutine id serves: the loop goroutine is locked to
// its OS thread, so the id is just as stable an identity.
func threadID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// The dump starts with "goroutine <id> [".
	var id int64
	for _, c := range buf[len("goroutine "):n] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
