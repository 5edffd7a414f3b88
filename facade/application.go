// File: facade/application.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Application bundles one base loop and a set of worker loops behind a
// single start/stop surface. The base loop runs on the caller's thread
// and owns listeners; accepted connections spread over the workers
// round-robin through Next. An Application is an explicit object:
// construct it at startup and pass it down, there is no process-wide
// instance.

package facade

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/reactor"
)

// MaxWorkers caps the worker-loop count.
const MaxWorkers = 512

const (
	stateNone int32 = iota
	stateStarted
	stateStopped
)

// BindCallback reports the outcome of an asynchronous bind.
type BindCallback func(ok bool, addr reactor.SocketAddr)

// Application owns the base loop and the worker loops.
type Application struct {
	base       *reactor.EventLoop
	numWorkers int

	state   atomic.Int32
	ran     atomic.Bool
	workers []*reactor.EventLoop
	current atomic.Uint64
	wg      sync.WaitGroup

	onInit func() error
	onExit func()

	accepted atomic.Uint64
}

// New builds an application from cfg: logger level and sink, fd
// ceiling, worker count, and the base loop.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		sink, err := logger.NewMmapSink(cfg.LogFile, cfg.LogFileSize)
		if err != nil {
			return nil, err
		}
		logger.SetSink(sink)
	}
	if cfg.MaxOpenFiles > 0 {
		reactor.SetMaxOpenFd(cfg.MaxOpenFiles)
	}

	base, err := reactor.NewEventLoop()
	if err != nil {
		return nil, err
	}

	a := &Application{base: base, numWorkers: cfg.Workers}
	base.SetSelector(a.Next)
	return a, nil
}

// SetNumWorkers overrides the configured worker-loop count. Call
// before Run; out-of-range counts are a programmer error.
func (a *Application) SetNumWorkers(n int) {
	if a.state.Load() != stateNone {
		panic("facade: worker count change after start")
	}
	if n < 0 || n > MaxWorkers {
		panic("facade: worker count out of range")
	}
	a.numWorkers = n
}

// NumWorkers returns the loop count, the base loop included.
func (a *Application) NumWorkers() int { return 1 + a.numWorkers }

// BaseLoop returns the loop that runs on the Run caller's thread.
func (a *Application) BaseLoop() *reactor.EventLoop { return a.base }

// SetOnInit installs a hook run on the Run thread before any loop
// starts. A returned error aborts startup.
func (a *Application) SetOnInit(f func() error) { a.onInit = f }

// SetOnExit installs a hook run after every loop has stopped.
func (a *Application) SetOnExit(f func()) { a.onExit = f }

// Run starts the worker loops and drives the base loop on the calling
// thread until Exit. It returns after all loops have stopped.
func (a *Application) Run() error {
	if !a.ran.CompareAndSwap(false, true) {
		return errors.New("facade: application already run")
	}
	if a.state.Load() == stateStopped {
		// Exit came before Run started.
		return nil
	}

	defer func() {
		if a.onExit != nil {
			a.onExit()
		}
	}()

	if a.onInit != nil {
		if err := a.onInit(); err != nil {
			a.state.Store(stateStopped)
			return errors.Wrap(err, "application init")
		}
	}

	for i := 0; i < a.numWorkers; i++ {
		l, err := reactor.NewEventLoop()
		if err != nil {
			a.state.Store(stateStopped)
			return err
		}
		l.SetSelector(a.Next)
		a.workers = append(a.workers, l)
	}
	a.state.Store(stateStarted)

	for _, w := range a.workers {
		w := w
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			w.Run()
		}()
	}

	logger.Info("application: %d loops running", a.NumWorkers())
	a.base.Run()

	for _, w := range a.workers {
		w.Stop()
	}
	a.wg.Wait()
	logger.Info("application: stopped")
	return nil
}

// Exit stops every loop. Safe from any thread; idempotent.
func (a *Application) Exit() {
	prev := a.state.Swap(stateStopped)
	if prev == stateStopped {
		return
	}
	a.base.Stop()
	if prev == stateStarted {
		for _, w := range a.workers {
			w.Stop()
		}
	}
}

// IsExit reports whether Exit was called.
func (a *Application) IsExit() bool { return a.state.Load() == stateStopped }

// Next returns the loop that adopts the next accepted connection:
// round-robin over the workers, the base loop while none run.
func (a *Application) Next() *reactor.EventLoop {
	if a.state.Load() != stateStarted || len(a.workers) == 0 {
		return a.base
	}
	idx := a.current.Add(1) - 1
	return a.workers[idx%uint64(len(a.workers))]
}

// Listen installs a TCP listener on the base loop. onBind reports the
// bind outcome once the loop processed it.
func (a *Application) Listen(addr reactor.SocketAddr, onNewConn func(*reactor.Connection), onBind BindCallback) {
	a.base.Execute(func() {
		err := a.base.Listen(addr, a.counting(onNewConn))
		if err != nil {
			logger.Error("application: listen %s: %v", addr, err)
		}
		if onBind != nil {
			onBind(err == nil, addr)
		}
	})
}

// ListenUDP installs a bound datagram socket on the base loop.
func (a *Application) ListenUDP(addr reactor.SocketAddr, onMessage reactor.DatagramMessageCallback, onCreate reactor.DatagramCreateCallback, onBind BindCallback) {
	a.base.Execute(func() {
		err := a.base.ListenUDP(addr, onMessage, onCreate)
		if err != nil {
			logger.Error("application: listen udp %s: %v", addr, err)
		}
		if onBind != nil {
			onBind(err == nil, addr)
		}
	})
}

// CreateClientUDP installs an unbound datagram socket on the base
// loop.
func (a *Application) CreateClientUDP(onMessage reactor.DatagramMessageCallback, onCreate reactor.DatagramCreateCallback) {
	a.base.Execute(func() {
		if err := a.base.CreateClientUDP(onMessage, onCreate); err != nil {
			logger.Error("application: client udp: %v", err)
		}
	})
}

// Connect starts a non-blocking connect from the base loop. The
// connection lands on dstLoop, or the base loop when nil.
func (a *Application) Connect(dst reactor.SocketAddr, onNewConn func(*reactor.Connection), onFail func(error), timeout time.Duration, dstLoop *reactor.EventLoop) {
	a.base.Execute(func() {
		if err := a.base.Connect(dst, onNewConn, onFail, timeout, dstLoop); err != nil {
			logger.Error("application: connect %s: %v", dst, err)
			if onFail != nil {
				onFail(err)
			}
		}
	})
}

// counting wraps a new-connection callback with the accepted counter.
func (a *Application) counting(cb func(*reactor.Connection)) func(*reactor.Connection) {
	return func(c *reactor.Connection) {
		a.accepted.Add(1)
		if cb != nil {
			cb(c)
		}
	}
}

// loops snapshots every loop for off-thread readers. Valid once the
// state is Started.
func (a *Application) loops() []*reactor.EventLoop {
	all := make([]*reactor.EventLoop, 0, 1+len(a.workers))
	all = append(all, a.base)
	if a.state.Load() == stateStarted {
		all = append(all, a.workers...)
	}
	return all
}
