// File: core/future/future_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package future

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
)

// goSched posts work to fresh goroutines; timers via the runtime.
type goSched struct{}

func (goSched) Schedule(f func())                       { go f() }
func (goSched) ScheduleLater(d time.Duration, f func()) { time.AfterFunc(d, f) }

func TestPromiseSetThenGet(t *testing.T) {
	p := NewPromise[int]()
	f, err := p.GetFuture()
	require.NoError(t, err)

	require.True(t, p.SetValue(42))
	r := f.Wait(time.Second)
	require.NoError(t, r.Err)
	assert.Equal(t, 42, r.Value)
}

func TestPromiseFirstWriterWins(t *testing.T) {
	p := NewPromise[string]()
	f, _ := p.GetFuture()

	require.True(t, p.SetValue("first"))
	assert.False(t, p.SetValue("second"))
	assert.False(t, p.SetFailure(fmt.Errorf("late failure")))

	assert.Equal(t, "first", f.Wait(time.Second).Value)
}

func TestPromiseYieldsOneFuture(t *testing.T) {
	p := NewPromise[int]()
	_, err := p.GetFuture()
	require.NoError(t, err)

	_, err = p.GetFuture()
	assert.ErrorIs(t, err, api.ErrFutureRetrieved)
}

func TestMakeReadyThenLaw(t *testing.T) {
	f := Then(MakeReady(10), func(v int) (int, error) { return v * 3, nil })
	assert.Equal(t, 30, f.Wait(time.Second).Value)
}

func TestContinuationRunsExactlyOnce(t *testing.T) {
	p := NewPromise[int]()
	f, _ := p.GetFuture()

	var calls atomic.Int32
	done := Then(f, func(v int) (int, error) {
		calls.Add(1)
		return v, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.SetValue(i)
		}(i)
	}
	wg.Wait()

	done.Wait(time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestThenFailureShortCircuits(t *testing.T) {
	boom := fmt.Errorf("boom")
	f := MakeFailed[int](boom)

	ran := false
	out := Then(f, func(v int) (int, error) {
		ran = true
		return v, nil
	})

	r := out.Wait(time.Second)
	assert.ErrorIs(t, r.Err, boom)
	assert.False(t, ran, "failure must bypass a value-only continuation")
}

func TestThenResultRecoversFailure(t *testing.T) {
	boom := fmt.Errorf("boom")
	out := ThenResult(MakeFailed[int](boom), func(r Result[int]) (int, error) {
		if r.Err != nil {
			return -1, nil
		}
		return r.Value, nil
	})

	r := out.Wait(time.Second)
	require.NoError(t, r.Err)
	assert.Equal(t, -1, r.Value)
}

func TestThenFutureUnwrapsOneLevel(t *testing.T) {
	out := ThenFuture(MakeReady(7), func(v int) *Future[string] {
		return MakeReady(fmt.Sprintf("v=%d", v))
	})
	assert.Equal(t, "v=7", out.Wait(time.Second).Value)
}

func TestThenFutureInnerCompletesLater(t *testing.T) {
	inner := NewPromise[int]()
	out := ThenFuture(MakeReady(1), func(int) *Future[int] {
		f, _ := inner.GetFuture()
		return f
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		inner.SetValue(99)
	}()
	assert.Equal(t, 99, out.Wait(time.Second).Value)
}

func TestUnwrapPreservesFailure(t *testing.T) {
	boom := fmt.Errorf("inner boom")
	f := MakeReady(MakeFailed[int](boom))
	assert.ErrorIs(t, Unwrap(f).Wait(time.Second).Err, boom)

	outer := MakeFailed[*Future[int]](boom)
	assert.ErrorIs(t, Unwrap(outer).Wait(time.Second).Err, boom)
}

func TestThenOnPostsToScheduler(t *testing.T) {
	p := NewPromise[int]()
	f, _ := p.GetFuture()

	out := ThenOn(f, goSched{}, func(v int) (int, error) { return v + 1, nil })
	p.SetValue(1)
	assert.Equal(t, 2, out.Wait(time.Second).Value)
}

func TestWaitTimeoutReturnsFailure(t *testing.T) {
	p := NewPromise[int]()
	f, _ := p.GetFuture()

	r := f.Wait(20 * time.Millisecond)
	assert.ErrorIs(t, r.Err, api.ErrFutureTimeout)

	// The future is still live; a late SetValue is observable.
	p.SetValue(5)
	assert.True(t, p.IsReady())
}

func TestOnTimeoutPreemptsLateSet(t *testing.T) {
	p := NewPromise[int]()
	f, _ := p.GetFuture()

	var hookRuns atomic.Int32
	f.OnTimeout(30*time.Millisecond, func() { hookRuns.Add(1) }, goSched{})

	tail := ThenResult(f, func(r Result[int]) (error, error) { return r.Err, nil })
	time.Sleep(80 * time.Millisecond)

	assert.False(t, p.SetValue(7), "set after timeout is silently ignored")
	assert.Equal(t, int32(1), hookRuns.Load())
	assert.ErrorIs(t, tail.Wait(time.Second).Value, api.ErrFutureTimeout)
}

func TestOnTimeoutIgnoredWhenSatisfiedFirst(t *testing.T) {
	p := NewPromise[int]()
	f, _ := p.GetFuture()

	var hookRuns atomic.Int32
	f.OnTimeout(30*time.Millisecond, func() { hookRuns.Add(1) }, goSched{})
	p.SetValue(1)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), hookRuns.Load())
}
