// File: reactor/eventloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoop is the per-thread driver: one poller, one timer wheel, one
// wake pipe and one task inbox, all owned by a single locked OS
// thread. Everything a channel does happens on that thread; the only
// cross-thread entry points are Execute, Schedule, ScheduleLater and
// Stop.

package reactor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/future"
	"github.com/momentics/hioload-net/core/timer"
	"github.com/momentics/hioload-net/internal/logger"
	"github.com/momentics/hioload-net/internal/poller"
	"github.com/momentics/hioload-net/internal/sockets"
)

const (
	defaultPollTime = 10 * time.Millisecond
	minPollTime     = time.Millisecond
)

var loopIDGen atomic.Int64

// maxOpenFd caches the RLIMIT_NOFILE ceiling; Register rejects fds at
// or beyond it.
var maxOpenFd = func() uint64 {
	n, err := sockets.GetMaxOpenFd()
	if err != nil {
		return 1024
	}
	return n
}()

// SetMaxOpenFd raises the process fd limit and the loops' registration
// ceiling with it.
func SetMaxOpenFd(n uint64) {
	if err := sockets.SetMaxOpenFd(n); err != nil {
		logger.Warn("loop: raise fd limit: %v", err)
		return
	}
	maxOpenFd = n
}

// EventLoop binds a poller, a timer wheel, a channel set and a task
// inbox to one OS thread. Create with NewEventLoop, drive with Run.
// EventLoop implements api.Scheduler.
type EventLoop struct {
	id       int64
	poller   api.Poller
	notifier *wakeChannel
	timers   *timer.Wheel
	channels map[uint32]api.Channel
	uidGen   uint32

	inboxMu sync.Mutex
	inbox   *queue.Queue

	tid     atomic.Int64
	stopped atomic.Bool

	// numChannels and tasksRun mirror loop state for off-thread
	// readers such as metrics collectors.
	numChannels atomic.Int64
	tasksRun    atomic.Uint64

	// selector picks the loop that adopts an accepted connection. The
	// facade points it at the round-robin; standalone loops keep
	// themselves.
	selector func() *EventLoop
}

// NewEventLoop returns a runnable loop with a fresh poller and wake
// pipe.
func NewEventLoop() (*EventLoop, error) {
	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	n, err := newWakeChannel()
	if err != nil {
		p.Close()
		return nil, err
	}

	l := &EventLoop{
		id:       loopIDGen.Add(1) - 1,
		poller:   p,
		notifier: n,
		timers:   timer.NewWheel(),
		channels: make(map[uint32]api.Channel),
		inbox:    queue.New(),
	}
	l.selector = func() *EventLoop { return l }
	return l, nil
}

// ID returns the loop's creation-order id.
func (l *EventLoop) ID() int64 { return l.id }

// Size returns the number of registered channels, the wake pipe
// included. Safe from any thread.
func (l *EventLoop) Size() int { return int(l.numChannels.Load()) }

// TasksExecuted returns the number of inbox tasks the loop has run.
// Safe from any thread.
func (l *EventLoop) TasksExecuted() uint64 { return l.tasksRun.Load() }

// InThisLoop reports whether the caller runs on this loop's thread.
func (l *EventLoop) InThisLoop() bool {
	tid := l.tid.Load()
	return tid != 0 && tid == threadID()
}

// SetSelector installs the loop chooser used for accepted connections.
// Call before Run.
func (l *EventLoop) SetSelector(sel func() *EventLoop) {
	if sel != nil {
		l.selector = sel
	}
}

// Register assigns the channel a unique id and adds it to the poller
// with the given interest. A channel already carrying an id is a
// programmer error.
func (l *EventLoop) Register(events api.EventType, ch api.Channel) error {
	if events == 0 {
		return errors.WithStack(api.ErrInvalidArgument)
	}
	if ch.UniqueID() != 0 {
		panic("reactor: channel registered twice")
	}
	// RLIMIT_NOFILE is one greater than the largest usable fd.
	if uint64(ch.Identifier()) >= maxOpenFd {
		logger.Error("loop %d: fd %d at open-file ceiling %d", l.id, ch.Identifier(), maxOpenFd)
		return errors.WithStack(api.ErrFdLimit)
	}

	l.uidGen++
	if l.uidGen == 0 {
		l.uidGen = 1
	}
	ch.SetUniqueID(l.uidGen)

	if err := l.poller.Register(ch.Identifier(), events, ch); err != nil {
		ch.SetUniqueID(0)
		return err
	}
	l.channels[ch.UniqueID()] = ch
	l.numChannels.Add(1)
	return nil
}

// Modify replaces the poller interest for a registered channel.
func (l *EventLoop) Modify(events api.EventType, ch api.Channel) error {
	if _, ok := l.channels[ch.UniqueID()]; !ok {
		panic("reactor: modify on unregistered channel")
	}
	return l.poller.Modify(ch.Identifier(), events, ch)
}

// Unregister removes the channel from the poller and the channel set.
func (l *EventLoop) Unregister(ch api.Channel) {
	if err := l.poller.Unregister(ch.Identifier()); err != nil {
		logger.Warn("loop %d: unregister fd %d: %v", l.id, ch.Identifier(), err)
	}
	if _, ok := l.channels[ch.UniqueID()]; ok {
		delete(l.channels, ch.UniqueID())
		l.numChannels.Add(-1)
	}
}

// Listen installs an acceptor for addr. New connections land on the
// loop chosen by the selector and are handed to onNewConn. Call before
// Run or on the loop thread.
func (l *EventLoop) Listen(addr SocketAddr, onNewConn func(*Connection)) error {
	a := newAcceptor(l)
	a.SetNewConnCallback(onNewConn)
	return a.Bind(addr)
}

// ListenUDP installs a bound datagram socket.
func (l *EventLoop) ListenUDP(addr SocketAddr, onMessage DatagramMessageCallback, onCreate DatagramCreateCallback) error {
	s := NewDatagramSocket(l)
	s.SetMessageCallback(onMessage)
	s.SetCreateCallback(onCreate)
	return s.Bind(&addr)
}

// CreateClientUDP installs an unbound datagram socket for client use.
func (l *EventLoop) CreateClientUDP(onMessage DatagramMessageCallback, onCreate DatagramCreateCallback) error {
	s := NewDatagramSocket(l)
	s.SetMessageCallback(onMessage)
	s.SetCreateCallback(onCreate)
	return s.Bind(nil)
}

// Connect starts a non-blocking connect to dst. When the connect
// cannot be started the error is returned and neither hook runs;
// otherwise at most one of onNewConn and onFail runs, the first
// outcome winning and cancelling the other. The connection lands on dstLoop, or this loop when nil. Call
// before Run or on the loop thread.
func (l *EventLoop) Connect(dst SocketAddr, onNewConn func(*Connection), onFail func(error), timeout time.Duration, dstLoop *EventLoop) error {
	c := newConnector(l)
	c.SetNewConnCallback(onNewConn)
	c.SetFailCallback(onFail)
	return c.Connect(dst, timeout, dstLoop)
}

// Execute runs f on the loop thread: inline when already there,
// otherwise via the task inbox and a wake-up. Safe from any thread.
func (l *EventLoop) Execute(f func()) {
	if l.InThisLoop() {
		f()
		return
	}

	l.inboxMu.Lock()
	l.inbox.Add(f)
	l.inboxMu.Unlock()
	l.notifier.Notify()
}

// Schedule queues f for the loop thread without ever running it
// inline. Part of api.Scheduler.
func (l *EventLoop) Schedule(f func()) {
	l.inboxMu.Lock()
	l.inbox.Add(f)
	l.inboxMu.Unlock()
	l.notifier.Notify()
}

// ScheduleLater runs f on the loop thread after delay.
func (l *EventLoop) ScheduleLater(delay time.Duration, f func()) {
	if l.InThisLoop() {
		l.timers.ScheduleAfter(delay, f)
		return
	}
	l.Execute(func() { l.timers.ScheduleAfter(delay, f) })
}

// ScheduleAt schedules f at deadline. Loop-thread only.
func (l *EventLoop) ScheduleAt(deadline time.Time, f func()) timer.ID {
	l.mustBeInLoop()
	return l.timers.ScheduleAt(deadline, f)
}

// ScheduleAfterWithRepeat schedules a repeating timer. Loop-thread
// only.
func (l *EventLoop) ScheduleAfterWithRepeat(delay, period time.Duration, count int, f func()) timer.ID {
	l.mustBeInLoop()
	return l.timers.ScheduleAfterWithRepeat(delay, period, count, f)
}

// Cancel cancels a timer scheduled on this loop. Loop-thread only.
func (l *EventLoop) Cancel(id timer.ID) bool {
	l.mustBeInLoop()
	return l.timers.Cancel(id)
}

func (l *EventLoop) mustBeInLoop() {
	if l.tid.Load() != 0 && !l.InThisLoop() {
		panic("reactor: loop-only API called off loop")
	}
}

// Submit runs fn on the loop and returns a future for its outcome.
// Called on the loop thread, fn runs inline and the future is ready on
// return.
func Submit[T any](l *EventLoop, fn func() (T, error)) *future.Future[T] {
	pm := future.NewPromise[T]()
	f, _ := pm.GetFuture()

	l.Execute(func() {
		v, err := fn()
		if err != nil {
			pm.SetFailure(err)
		} else {
			pm.SetValue(v)
		}
	})
	return f
}

// Run drives the loop until Stop: poll with a timeout bounded by the
// nearest timer, dispatch fired channels, tick timers, drain the task
// inbox. Run locks its goroutine to an OS thread and does not return
// before shutdown is complete.
func (l *EventLoop) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if !l.tid.CompareAndSwap(0, threadID()) {
		panic("reactor: loop already running")
	}

	if err := l.Register(api.EventRead, l.notifier); err != nil {
		logger.Error("loop %d: register wake pipe: %v", l.id, err)
		return
	}

	for !l.stopped.Load() {
		timeout := l.timers.Nearest()
		if timeout > defaultPollTime {
			timeout = defaultPollTime
		}
		if timeout < minPollTime {
			timeout = minPollTime
		}

		l.loopOnce(timeout)
	}

	for _, ch := range l.channels {
		l.poller.Unregister(ch.Identifier())
	}
	l.channels = make(map[uint32]api.Channel)
	l.numChannels.Store(0)
	l.poller.Close()
	l.notifier.Close()
}

func (l *EventLoop) loopOnce(timeout time.Duration) {
	n, err := l.poller.Poll(len(l.channels), int(timeout/time.Millisecond))
	if err != nil {
		logger.Error("loop %d: poll: %v", l.id, err)
	}

	if n > 0 {
		fired := l.poller.FiredEvents()
		// Copy the channel refs out first so a hook may unregister
		// any channel, its own included, mid-dispatch.
		dispatch := make([]api.FiredEvent, n)
		copy(dispatch, fired[:n])

		for _, ev := range dispatch {
			ch, ok := ev.Userdata.(api.Channel)
			if !ok || ch == nil {
				continue
			}

			if ev.Events.Has(api.EventRead) {
				if !ch.HandleReadEvent() {
					ch.HandleErrorEvent()
				}
			}
			if ev.Events.Has(api.EventWrite) {
				if !ch.HandleWriteEvent() {
					ch.HandleErrorEvent()
				}
			}
			if ev.Events.Has(api.EventError) {
				logger.Warn("loop %d: error event on fd %d", l.id, ch.Identifier())
				ch.HandleErrorEvent()
			}
		}
	}

	l.timers.Tick(time.Now())

	// Swap the inbox out under the lock, run outside it. Tasks posted
	// by these tasks wait for the next iteration.
	l.inboxMu.Lock()
	var pending *queue.Queue
	if l.inbox.Length() > 0 {
		pending = l.inbox
		l.inbox = queue.New()
	}
	l.inboxMu.Unlock()

	for pending != nil && pending.Length() > 0 {
		pending.Remove().(func())()
		l.tasksRun.Add(1)
	}
}

// Stop asks the loop to exit after the current iteration. Safe from
// any thread; idempotent.
func (l *EventLoop) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		l.notifier.Notify()
	}
}

// IsStopped reports whether Stop was called.
func (l *EventLoop) IsStopped() bool { return l.stopped.Load() }

func (l *EventLoop) nextLoop() *EventLoop { return l.selector() }
