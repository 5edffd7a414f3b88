// File: reactor/tid_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package reactor

import "golang.org/x/sys/unix"

// threadID identifies the calling execution context. The loop runs on
// a locked OS thread, so the kernel tid is a stable loop identity.
func threadID() int64 {
	return int64(unix.Gettid())
}
