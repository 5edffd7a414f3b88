// File: core/timer/wheel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Wheel is a deadline-ordered timer set with stable ids and lazy
// cancellation. The event loop drives it: Nearest bounds the poll
// timeout, Tick fires everything due. Not safe for concurrent use;
// a wheel belongs to its loop thread.

package timer

import (
	"container/heap"
	"math"
	"time"
)

// RepeatForever makes a repeating timer fire until canceled.
const RepeatForever = -1

// minPeriod is the floor applied to repeat periods.
const minPeriod = time.Millisecond

// Infinite is returned by Nearest when the wheel holds no timers.
const Infinite = time.Duration(math.MaxInt64)

// ID identifies a scheduled timer for cancellation. It is the pair
// (deadline, unique sequence) and stays valid until the timer fires
// its last repetition or is canceled.
type ID struct {
	Deadline time.Time
	Seq      uint64
}

type entry struct {
	deadline time.Time
	seq      uint64
	ins      uint64 // insertion order, breaks deadline ties
	period   time.Duration
	// remaining fires: RepeatForever, or > 0; 0 marks a dead timer
	// awaiting lazy removal.
	remaining int
	fn        func()
	index     int
}

// Wheel is an ordered timer set. Timers with identical deadlines fire
// in insertion order.
type Wheel struct {
	entries timerHeap
	byISeq  map[uint64]*entry
	seqGen  uint64
	insGen  uint64
}

// NewWheel returns an empty wheel.
func NewWheel() *Wheel {
	return &Wheel{byISeq: make(map[uint64]*entry)}
}

// ScheduleAt schedules a one-shot timer at deadline.
func (w *Wheel) ScheduleAt(deadline time.Time, f func()) ID {
	return w.ScheduleAtWithRepeat(deadline, 0, 1, f)
}

// ScheduleAtWithRepeat schedules a timer at deadline repeating every
// period, count times (RepeatForever to repeat until canceled). The
// period is floored to one millisecond.
func (w *Wheel) ScheduleAtWithRepeat(deadline time.Time, period time.Duration, count int, f func()) ID {
	if count == 0 || count < RepeatForever {
		panic("timer: repeat count must be positive or RepeatForever")
	}
	if period < minPeriod {
		period = minPeriod
	}

	w.seqGen++
	w.insGen++
	e := &entry{
		deadline:  deadline,
		seq:       w.seqGen,
		ins:       w.insGen,
		period:    period,
		remaining: count,
		fn:        f,
	}
	heap.Push(&w.entries, e)
	w.byISeq[e.seq] = e
	return ID{Deadline: deadline, Seq: e.seq}
}

// ScheduleAfter schedules a one-shot timer after duration from now.
func (w *Wheel) ScheduleAfter(duration time.Duration, f func()) ID {
	return w.ScheduleAt(time.Now().Add(duration), f)
}

// ScheduleAfterWithRepeat schedules a repeating timer whose first fire
// is duration from now.
func (w *Wheel) ScheduleAfterWithRepeat(duration, period time.Duration, count int, f func()) ID {
	return w.ScheduleAtWithRepeat(time.Now().Add(duration), period, count, f)
}

// Cancel marks the timer dead. The removal itself is lazy: the entry
// stays queued until its deadline comes up and is skipped then. A
// timer callback may cancel its own or any other timer.
func (w *Wheel) Cancel(id ID) bool {
	e, ok := w.byISeq[id.Seq]
	if !ok || e.remaining == 0 {
		return false
	}
	e.remaining = 0
	return true
}

// Nearest returns the time until the earliest queued deadline, clamped
// to zero, or Infinite when the wheel is empty.
func (w *Wheel) Nearest() time.Duration {
	if w.entries.Len() == 0 {
		return Infinite
	}
	d := time.Until(w.entries[0].deadline)
	if d < 0 {
		return 0
	}
	return d
}

// Tick fires every timer whose deadline is at or before now. Repeating
// timers are reinserted with deadline advanced by their period, queued
// after timers already holding the same deadline.
func (w *Wheel) Tick(now time.Time) {
	for w.entries.Len() > 0 && !w.entries[0].deadline.After(now) {
		e := heap.Pop(&w.entries).(*entry)

		if e.remaining == 0 {
			delete(w.byISeq, e.seq)
			continue
		}

		e.fn()

		if e.remaining > 0 {
			e.remaining--
		}
		if e.remaining != 0 {
			e.deadline = e.deadline.Add(e.period)
			w.insGen++
			e.ins = w.insGen
			heap.Push(&w.entries, e)
		} else {
			delete(w.byISeq, e.seq)
		}
	}
}

// Size returns the number of queued entries, dead ones included.
func (w *Wheel) Size() int { return w.entries.Len() }

type timerHeap []*entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].ins < h[j].ins
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
