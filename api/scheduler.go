// File: api/scheduler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import "time"

// Scheduler is any target that accepts a zero-arg work item for later
// execution. Event loops and the worker pool both implement it, so
// future continuations can hop between loop threads and pool threads.
type Scheduler interface {
	// Schedule submits f for execution. Safe to call from any thread.
	Schedule(f func())
	// ScheduleLater submits f for execution after delay.
	ScheduleLater(delay time.Duration, f func())
}
