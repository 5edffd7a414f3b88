// File: core/future/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Promise and Future are the producer and consumer handles to one
// shared state carrying a single value or failure. Continuations chain
// through the free functions Then, ThenResult and ThenFuture; Go
// methods cannot introduce type parameters, so the chaining entry
// points live at package level and take the future as first argument.
//
// Concurrency contract: continuation installation and result setting
// race under the shared state's mutex; the continuation itself always
// runs outside the mutex. With a scheduler the continuation is posted,
// never invoked inline.

package future

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-net/api"
)

// Progress is the lifecycle of a shared state.
type Progress int

const (
	// ProgressNone means no value has been produced yet.
	ProgressNone Progress = iota
	// ProgressTimeout means an armed timeout fired first.
	ProgressTimeout
	// ProgressDone means a value or failure was stored.
	ProgressDone
	// ProgressRetrieved means the stored result was handed to a
	// continuation.
	ProgressRetrieved
)

type state[T any] struct {
	mu       sync.Mutex
	progress Progress
	result   Result[T]
	// Single continuation slot. Installing a second continuation
	// before completion replaces the first.
	then func(Result[T])
}

// complete stores r with the given terminal progress. The first writer
// wins; later writers are no-ops. Returns whether this call won.
func (st *state[T]) complete(r Result[T], progress Progress) bool {
	st.mu.Lock()
	if st.progress != ProgressNone {
		st.mu.Unlock()
		return false
	}
	st.progress = progress
	st.result = r
	then := st.then
	st.then = nil
	if then != nil {
		st.progress = ProgressRetrieved
	}
	st.mu.Unlock()

	if then != nil {
		then(r)
	}
	return true
}

// attach installs fn as the continuation. If the state is already
// terminal, fn runs immediately on the calling goroutine.
func (st *state[T]) attach(fn func(Result[T])) {
	st.mu.Lock()
	if st.progress == ProgressNone {
		st.then = fn
		st.mu.Unlock()
		return
	}
	r := st.result
	st.progress = ProgressRetrieved
	st.mu.Unlock()

	fn(r)
}

// Promise is the producer handle. The zero value is not usable; create
// with NewPromise.
type Promise[T any] struct {
	st        *state[T]
	retrieved atomic.Bool
}

// NewPromise returns an unsatisfied promise.
func NewPromise[T any]() *Promise[T] {
	return &Promise[T]{st: &state[T]{}}
}

// SetValue satisfies the promise with v. Returns false when the state
// was already satisfied or timed out.
func (p *Promise[T]) SetValue(v T) bool {
	return p.st.complete(Value(v), ProgressDone)
}

// SetFailure satisfies the promise with err.
func (p *Promise[T]) SetFailure(err error) bool {
	return p.st.complete(Failure[T](err), ProgressDone)
}

// GetFuture returns the consumer handle. A promise yields at most one
// future; subsequent calls return ErrFutureRetrieved.
func (p *Promise[T]) GetFuture() (*Future[T], error) {
	if !p.retrieved.CompareAndSwap(false, true) {
		return nil, api.ErrFutureRetrieved
	}
	return &Future[T]{st: p.st}, nil
}

// IsReady reports whether the promise has been satisfied.
func (p *Promise[T]) IsReady() bool {
	p.st.mu.Lock()
	defer p.st.mu.Unlock()
	return p.st.progress != ProgressNone
}

// Future is the consumer handle to a shared state.
type Future[T any] struct {
	st *state[T]
}

// MakeReady returns a future already completed with v.
func MakeReady[T any](v T) *Future[T] {
	p := NewPromise[T]()
	p.SetValue(v)
	f, _ := p.GetFuture()
	return f
}

// MakeFailed returns a future already completed with err.
func MakeFailed[T any](err error) *Future[T] {
	p := NewPromise[T]()
	p.SetFailure(err)
	f, _ := p.GetFuture()
	return f
}

// Wait blocks until the future completes or timeout elapses, and
// returns the result. On timeout it returns ErrFutureTimeout as a
// failure; it never panics, and the future itself stays live. A
// non-positive timeout waits forever.
//
// Wait must not be called on the thread that will satisfy the promise.
func (f *Future[T]) Wait(timeout time.Duration) Result[T] {
	done := make(chan Result[T], 1)
	f.st.attach(func(r Result[T]) { done <- r })

	if timeout <= 0 {
		return <-done
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-done:
		return r
	case <-t.C:
		return Failure[T](api.ErrFutureTimeout)
	}
}

// OnTimeout arms a timeout: after duration, if the future is still
// unsatisfied, its progress flips to Timeout, any continuation sees
// ErrFutureTimeout, and hook runs. A promise satisfied later is
// silently ignored.
//
// The timeout binds to this future only. With chained futures it arms
// the tail of the chain, not the root, so prefer arming before
// chaining or not chaining at all.
func (f *Future[T]) OnTimeout(duration time.Duration, hook func(), sched api.Scheduler) {
	sched.ScheduleLater(duration, func() {
		if f.st.complete(Failure[T](api.ErrFutureTimeout), ProgressTimeout) {
			if hook != nil {
				hook()
			}
		}
	})
}

// Then chains fn after f without a scheduler: fn runs on whichever
// thread completes f, or synchronously when f is already complete.
// Failures bypass fn and propagate to the returned future unchanged; use ThenResult to
// consume them.
func Then[T, U any](f *Future[T], fn func(T) (U, error)) *Future[U] {
	return ThenOn(f, nil, fn)
}

// ThenOn is Then with an explicit scheduler: fn is posted to sched
// instead of running inline. A nil scheduler runs fn on whichever
// thread completes f, or synchronously when f is already complete.
func ThenOn[T, U any](f *Future[T], sched api.Scheduler, fn func(T) (U, error)) *Future[U] {
	next := NewPromise[U]()
	out, _ := next.GetFuture()

	f.st.attach(func(r Result[T]) {
		run := func() {
			if r.Err != nil {
				next.SetFailure(r.Err)
				return
			}
			u, err := fn(r.Value)
			if err != nil {
				next.SetFailure(err)
			} else {
				next.SetValue(u)
			}
		}
		if sched != nil {
			sched.Schedule(run)
		} else {
			run()
		}
	})
	return out
}

// ThenResult chains fn receiving the full result, so fn observes and
// may recover from an antecedent failure.
func ThenResult[T, U any](f *Future[T], fn func(Result[T]) (U, error)) *Future[U] {
	return ThenResultOn(f, nil, fn)
}

// ThenResultOn is ThenResult with an explicit scheduler.
func ThenResultOn[T, U any](f *Future[T], sched api.Scheduler, fn func(Result[T]) (U, error)) *Future[U] {
	next := NewPromise[U]()
	out, _ := next.GetFuture()

	f.st.attach(func(r Result[T]) {
		run := func() {
			u, err := fn(r)
			if err != nil {
				next.SetFailure(err)
			} else {
				next.SetValue(u)
			}
		}
		if sched != nil {
			sched.Schedule(run)
		} else {
			run()
		}
	})
	return out
}

// ThenFuture chains fn returning a future and unwraps one level: the
// returned future completes with the inner future's result. The
// scheduler, when given, runs fn; the inner future's completion is
// linked directly and not re-scheduled.
func ThenFuture[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	return ThenFutureOn(f, nil, fn)
}

// ThenFutureOn is ThenFuture with an explicit scheduler.
func ThenFutureOn[T, U any](f *Future[T], sched api.Scheduler, fn func(T) *Future[U]) *Future[U] {
	next := NewPromise[U]()
	out, _ := next.GetFuture()

	f.st.attach(func(r Result[T]) {
		run := func() {
			if r.Err != nil {
				next.SetFailure(r.Err)
				return
			}
			inner := fn(r.Value)
			inner.st.attach(func(ri Result[U]) {
				next.st.complete(ri, ProgressDone)
			})
		}
		if sched != nil {
			sched.Schedule(run)
		} else {
			run()
		}
	})
	return out
}

// Unwrap collapses a future of a future into the inner future,
// preserving failures at either level.
func Unwrap[U any](f *Future[*Future[U]]) *Future[U] {
	next := NewPromise[U]()
	out, _ := next.GetFuture()

	f.st.attach(func(r Result[*Future[U]]) {
		if r.Err != nil {
			next.SetFailure(r.Err)
			return
		}
		r.Value.st.attach(func(ri Result[U]) {
			next.st.complete(ri, ProgressDone)
		})
	})
	return out
}
