// File: core/future/combinators_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package future

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/api"
)

func TestWhenAllReadyInputsCompleteSynchronously(t *testing.T) {
	out := WhenAll(MakeReady(1), MakeReady(2), MakeReady(3))

	r := out.Wait(0)
	require.NoError(t, r.Err)
	require.Len(t, r.Value, 3)
	for i, res := range r.Value {
		assert.Equal(t, i+1, res.Value, "results arrive in input order")
	}
}

func TestWhenAllCarriesFailures(t *testing.T) {
	boom := fmt.Errorf("boom")
	p := NewPromise[int]()
	f, _ := p.GetFuture()

	out := WhenAll(MakeReady(1), MakeFailed[int](boom), f)
	go p.SetValue(3)

	r := out.Wait(time.Second)
	require.NoError(t, r.Err)
	assert.NoError(t, r.Value[0].Err)
	assert.ErrorIs(t, r.Value[1].Err, boom)
	assert.Equal(t, 3, r.Value[2].Value)
}

func TestWhenAnyFirstWins(t *testing.T) {
	slow := NewPromise[int]()
	slowF, _ := slow.GetFuture()
	fast := NewPromise[int]()
	fastF, _ := fast.GetFuture()

	out := WhenAny(slowF, fastF)
	fast.SetValue(20)
	slow.SetValue(10)

	r := out.Wait(time.Second)
	require.NoError(t, r.Err)
	assert.Equal(t, 1, r.Value.Index)
	assert.Equal(t, 20, r.Value.Result.Value)
}

func TestWhenNCollectsInCompletionOrder(t *testing.T) {
	ps := make([]*Promise[int], 4)
	fs := make([]*Future[int], 4)
	for i := range ps {
		ps[i] = NewPromise[int]()
		fs[i], _ = ps[i].GetFuture()
	}

	out := WhenN(2, fs...)
	ps[3].SetValue(33)
	ps[0].SetValue(0)
	ps[1].SetValue(11)

	r := out.Wait(time.Second)
	require.NoError(t, r.Err)
	require.Len(t, r.Value, 2)
	assert.Equal(t, 3, r.Value[0].Index)
	assert.Equal(t, 0, r.Value[1].Index)
}

func TestWhenNTooFewInputs(t *testing.T) {
	out := WhenN(3, MakeReady(1))
	assert.ErrorIs(t, out.Wait(0).Err, api.ErrNoMatchCondition)
}

func TestWhenIfAnyMatches(t *testing.T) {
	even := func(r Result[int]) bool { return r.Ok() && r.Value%2 == 0 }

	out := WhenIfAny(even, MakeReady(3), MakeReady(8), MakeReady(5))
	r := out.Wait(time.Second)
	require.NoError(t, r.Err)
	assert.Equal(t, 1, r.Value.Index)
	assert.Equal(t, 8, r.Value.Result.Value)
}

func TestWhenIfAnyNoMatch(t *testing.T) {
	even := func(r Result[int]) bool { return r.Ok() && r.Value%2 == 0 }

	out := WhenIfAny(even, MakeReady(1), MakeReady(3))
	assert.ErrorIs(t, out.Wait(time.Second).Err, api.ErrNoMatchCondition)
}

func TestWhenIfNNotEnoughMatches(t *testing.T) {
	// Five inputs, two satisfy the predicate, three requested: the
	// combinator fails after the last input settles, with no partial
	// delivery.
	even := func(r Result[int]) bool { return r.Ok() && r.Value%2 == 0 }

	ps := make([]*Promise[int], 5)
	fs := make([]*Future[int], 5)
	for i := range ps {
		ps[i] = NewPromise[int]()
		fs[i], _ = ps[i].GetFuture()
	}

	out := WhenIfN(3, even, fs...)
	for i, v := range []int{1, 2, 3, 4} {
		ps[i].SetValue(v)
	}
	assert.ErrorIs(t, out.Wait(10*time.Millisecond).Err, api.ErrFutureTimeout,
		"must not settle before the last input")

	ps[4].SetValue(5)
	assert.ErrorIs(t, out.Wait(time.Second).Err, api.ErrNoMatchCondition)
}

func TestWhenIfNEnoughMatches(t *testing.T) {
	even := func(r Result[int]) bool { return r.Ok() && r.Value%2 == 0 }

	out := WhenIfN(2, even, MakeReady(2), MakeReady(3), MakeReady(4), MakeReady(5))
	r := out.Wait(time.Second)
	require.NoError(t, r.Err)
	require.Len(t, r.Value, 2)
	assert.Equal(t, 0, r.Value[0].Index)
	assert.Equal(t, 2, r.Value[1].Index)
}

func TestWhenAnyZeroInputsDegenerate(t *testing.T) {
	out := WhenAny[int]()
	r := out.Wait(0)
	require.NoError(t, r.Err)
	assert.Equal(t, 0, r.Value.Index)
}
