// File: core/timer/wheel_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWheelFiresDueTimers(t *testing.T) {
	w := NewWheel()
	now := time.Now()

	fired := 0
	w.ScheduleAt(now.Add(-time.Millisecond), func() { fired++ })
	w.ScheduleAt(now.Add(time.Hour), func() { fired += 100 })

	w.Tick(now)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, w.Size())
}

func TestWheelInsertionOrderOnEqualDeadlines(t *testing.T) {
	w := NewWheel()
	at := time.Now()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		w.ScheduleAt(at, func() { order = append(order, i) })
	}

	w.Tick(at)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestWheelRepeatCount(t *testing.T) {
	w := NewWheel()
	start := time.Now()

	fired := 0
	w.ScheduleAtWithRepeat(start, 10*time.Millisecond, 3, func() { fired++ })

	w.Tick(start)
	require.Equal(t, 1, fired)
	w.Tick(start.Add(10 * time.Millisecond))
	require.Equal(t, 2, fired)
	w.Tick(start.Add(time.Second))
	require.Equal(t, 3, fired)
	w.Tick(start.Add(time.Hour))
	assert.Equal(t, 3, fired)
	assert.Equal(t, 0, w.Size())
}

func TestWheelRepeatForeverUntilCancel(t *testing.T) {
	w := NewWheel()
	start := time.Now()

	fired := 0
	id := w.ScheduleAtWithRepeat(start, 10*time.Millisecond, RepeatForever, func() { fired++ })

	for i := 0; i < 4; i++ {
		w.Tick(start.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	require.Equal(t, 4, fired)

	assert.True(t, w.Cancel(id))
	w.Tick(start.Add(time.Hour))
	assert.Equal(t, 4, fired)
}

func TestWheelCancelIsLazy(t *testing.T) {
	w := NewWheel()
	at := time.Now()

	id := w.ScheduleAt(at, func() { t.Fatal("canceled timer fired") })
	require.True(t, w.Cancel(id))
	assert.Equal(t, 1, w.Size(), "entry stays queued until its deadline")

	w.Tick(at)
	assert.Equal(t, 0, w.Size())
	assert.False(t, w.Cancel(id))
}

func TestWheelCallbackCancelsAnotherTimer(t *testing.T) {
	w := NewWheel()
	at := time.Now()

	var second ID
	w.ScheduleAt(at, func() { w.Cancel(second) })
	second = w.ScheduleAt(at, func() { t.Fatal("second timer fired") })

	w.Tick(at)
}

func TestWheelCallbackCancelsItself(t *testing.T) {
	w := NewWheel()
	start := time.Now()

	fired := 0
	var id ID
	id = w.ScheduleAtWithRepeat(start, 10*time.Millisecond, RepeatForever, func() {
		fired++
		w.Cancel(id)
	})

	w.Tick(start)
	w.Tick(start.Add(time.Hour))
	assert.Equal(t, 1, fired)
}

func TestWheelNearest(t *testing.T) {
	w := NewWheel()
	assert.Equal(t, Infinite, w.Nearest())

	w.ScheduleAfter(time.Hour, func() {})
	d := w.Nearest()
	assert.Greater(t, d, 59*time.Minute)
	assert.LessOrEqual(t, d, time.Hour)

	w.ScheduleAt(time.Now().Add(-time.Second), func() {})
	assert.Equal(t, time.Duration(0), w.Nearest(), "overdue deadlines clamp to zero")
}

func TestWheelPeriodFloor(t *testing.T) {
	w := NewWheel()
	start := time.Now()

	fired := 0
	w.ScheduleAtWithRepeat(start, 0, 2, func() { fired++ })

	w.Tick(start)
	require.Equal(t, 1, fired)

	// The second fire lands one millisecond later, not at the same instant.
	w.Tick(start.Add(999 * time.Microsecond))
	require.Equal(t, 1, fired)
	w.Tick(start.Add(time.Millisecond))
	assert.Equal(t, 2, fired)
}
