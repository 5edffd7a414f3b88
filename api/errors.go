// File: api/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sentinel errors shared across the library. Call sites wrap these
// with pkg/errors to attach the failing operation.

package api

import "fmt"

// Common errors used across the library.
var (
	ErrLoopStopped       = fmt.Errorf("event loop is stopped")
	ErrChannelRegistered = fmt.Errorf("channel already registered")
	ErrFdLimit           = fmt.Errorf("fd exceeds open file limit")
	ErrPoolClosed        = fmt.Errorf("worker pool is closed")
	ErrFutureRetrieved   = fmt.Errorf("future already retrieved")
	ErrFutureSatisfied   = fmt.Errorf("promise already satisfied")
	ErrFutureTimeout     = fmt.Errorf("future timeout")
	ErrNoMatchCondition  = fmt.Errorf("not enough results satisfied the condition")
	ErrConnectTimeout    = fmt.Errorf("connect timeout")
	ErrConnClosed        = fmt.Errorf("connection is closed")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrNotSupported      = fmt.Errorf("operation not supported")
)
