// File: core/future/combinators.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Aggregating combinators over sets of futures. All of them accept
// futures variadically; pass a slice with futs... for the
// iterator-style call.

package future

import (
	"sync"

	"github.com/momentics/hioload-net/api"
)

// WhenAll completes when every input completes and yields the per-input
// results, failures included, in input order. When every input is
// already complete the returned future completes synchronously.
func WhenAll[T any](futs ...*Future[T]) *Future[[]Result[T]] {
	agg := NewPromise[[]Result[T]]()
	out, _ := agg.GetFuture()

	n := len(futs)
	if n == 0 {
		agg.SetValue(nil)
		return out
	}

	var mu sync.Mutex
	results := make([]Result[T], n)
	remaining := n

	for i, f := range futs {
		i := i
		f.st.attach(func(r Result[T]) {
			mu.Lock()
			results[i] = r
			remaining--
			last := remaining == 0
			mu.Unlock()

			if last {
				agg.SetValue(results)
			}
		})
	}
	return out
}

// WhenAny completes with the index and result of the first input to
// complete. Later completions are dropped. With no inputs it completes
// immediately with a zero result at index 0.
func WhenAny[T any](futs ...*Future[T]) *Future[IndexedResult[T]] {
	agg := NewPromise[IndexedResult[T]]()
	out, _ := agg.GetFuture()

	if len(futs) == 0 {
		agg.SetValue(IndexedResult[T]{})
		return out
	}

	for i, f := range futs {
		i := i
		f.st.attach(func(r Result[T]) {
			agg.SetValue(IndexedResult[T]{Index: i, Result: r})
		})
	}
	return out
}

// WhenN completes once n inputs have completed, yielding their indexed
// results in completion order. Asking for more completions than there
// are inputs fails immediately.
func WhenN[T any](n int, futs ...*Future[T]) *Future[[]IndexedResult[T]] {
	agg := NewPromise[[]IndexedResult[T]]()
	out, _ := agg.GetFuture()

	if n <= 0 {
		agg.SetValue(nil)
		return out
	}
	if n > len(futs) {
		agg.SetFailure(api.ErrNoMatchCondition)
		return out
	}

	var mu sync.Mutex
	collected := make([]IndexedResult[T], 0, n)

	for i, f := range futs {
		i := i
		f.st.attach(func(r Result[T]) {
			mu.Lock()
			if len(collected) >= n {
				mu.Unlock()
				return
			}
			collected = append(collected, IndexedResult[T]{Index: i, Result: r})
			full := len(collected) == n
			snapshot := collected
			mu.Unlock()

			if full {
				agg.SetValue(snapshot)
			}
		})
	}
	return out
}

// WhenIfAny is WhenAny restricted to completions satisfying pred. If
// every input settles and none matches, it completes with
// ErrNoMatchCondition.
func WhenIfAny[T any](pred func(Result[T]) bool, futs ...*Future[T]) *Future[IndexedResult[T]] {
	agg := NewPromise[IndexedResult[T]]()
	out, _ := agg.GetFuture()

	if len(futs) == 0 {
		agg.SetFailure(api.ErrNoMatchCondition)
		return out
	}

	var mu sync.Mutex
	settled := 0

	for i, f := range futs {
		i := i
		f.st.attach(func(r Result[T]) {
			if pred(r) {
				agg.SetValue(IndexedResult[T]{Index: i, Result: r})
				return
			}

			mu.Lock()
			settled++
			exhausted := settled == len(futs)
			mu.Unlock()

			if exhausted {
				agg.SetFailure(api.ErrNoMatchCondition)
			}
		})
	}
	return out
}

// WhenIfN is WhenN restricted to completions satisfying pred. If the
// inputs settle without n matches, it completes with
// ErrNoMatchCondition after the last input settles; no partial result
// is delivered.
func WhenIfN[T any](n int, pred func(Result[T]) bool, futs ...*Future[T]) *Future[[]IndexedResult[T]] {
	agg := NewPromise[[]IndexedResult[T]]()
	out, _ := agg.GetFuture()

	if n <= 0 {
		agg.SetValue(nil)
		return out
	}
	if n > len(futs) {
		agg.SetFailure(api.ErrNoMatchCondition)
		return out
	}

	var mu sync.Mutex
	collected := make([]IndexedResult[T], 0, n)
	settled := 0

	for i, f := range futs {
		i := i
		f.st.attach(func(r Result[T]) {
			mu.Lock()
			settled++
			if pred(r) && len(collected) < n {
				collected = append(collected, IndexedResult[T]{Index: i, Result: r})
			}
			full := len(collected) == n
			exhausted := settled == len(futs)
			snapshot := collected
			mu.Unlock()

			if full {
				agg.SetValue(snapshot)
			} else if exhausted {
				agg.SetFailure(api.ErrNoMatchCondition)
			}
		})
	}
	return out
}
