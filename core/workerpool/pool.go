// File: core/workerpool/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pool is the CPU-bound side of the scheduling model: a fixed set of
// worker goroutines draining an unbounded FIFO. Event loops hand heavy
// work here via Submit and hop back through future continuations.

package workerpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-net/core/future"
	"github.com/momentics/hioload-net/internal/logger"
)

const (
	// DefaultWorkers is the pool size when none is configured.
	DefaultWorkers = 1
	// MaxWorkers caps the configurable pool size.
	MaxWorkers = 512
)

// Pool is a fixed-size worker pool over an unbounded task queue. The
// size is fixed before the first submit; workers start lazily on first
// use. Pool implements api.Scheduler.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    *queue.Queue
	size     int
	started  bool
	shutdown bool
	wg       sync.WaitGroup
}

// New returns an unstarted pool of DefaultWorkers workers.
func New() *Pool {
	p := &Pool{
		tasks: queue.New(),
		size:  DefaultWorkers,
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetNumWorkers fixes the pool size. Calling it after the first submit
// or with a size outside [1, MaxWorkers] is a programmer error.
func (p *Pool) SetNumWorkers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		panic("workerpool: resize after first submit")
	}
	if n < 1 || n > MaxWorkers {
		panic(fmt.Sprintf("workerpool: size %d outside [1, %d]", n, MaxWorkers))
	}
	p.size = n
}

// NumWorkers returns the configured size.
func (p *Pool) NumWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// PendingTasks returns the queue length.
func (p *Pool) PendingTasks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Length()
}

// Schedule enqueues f for execution on a worker. Safe from any thread.
// Work submitted after Shutdown is rejected and dropped.
func (p *Pool) Schedule(f func()) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		logger.Warn("workerpool: task submitted after shutdown, dropped")
		return
	}
	if !p.started {
		p.started = true
		for i := 0; i < p.size; i++ {
			p.wg.Add(1)
			go p.workerRoutine()
		}
	}
	p.tasks.Add(f)
	p.mu.Unlock()

	p.cond.Signal()
}

// ScheduleLater enqueues f after delay.
func (p *Pool) ScheduleLater(delay time.Duration, f func()) {
	time.AfterFunc(delay, func() { p.Schedule(f) })
}

// Shutdown drains queued work, rejects further submits and joins all
// workers. Idempotent.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	p.mu.Unlock()

	p.cond.Broadcast()
	p.wg.Wait()
}

func (p *Pool) workerRoutine() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for !p.shutdown && p.tasks.Length() == 0 {
			p.cond.Wait()
		}
		if p.tasks.Length() == 0 {
			// shutdown with a drained queue
			p.mu.Unlock()
			return
		}
		task := p.tasks.Remove().(func())
		p.mu.Unlock()

		task()
	}
}

// Submit runs fn on the pool and returns a future for its outcome. A
// returned error or a panic inside fn flows to the future as a
// failure.
func Submit[T any](p *Pool, fn func() (T, error)) *future.Future[T] {
	pm := future.NewPromise[T]()
	f, _ := pm.GetFuture()

	p.Schedule(func() {
		defer func() {
			if r := recover(); r != nil {
				pm.SetFailure(fmt.Errorf("workerpool: task panic: %v", r))
			}
		}()

		v, err := fn()
		if err != nil {
			pm.SetFailure(err)
		} else {
			pm.SetValue(v)
		}
	})
	return f
}
