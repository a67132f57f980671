package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	stateRunning int32 = iota
	stateShuttingDown
	stateTerminated
)

const (
	maxEventsPerWait = 128

	// While shutting down the loop wakes up this often to check whether the
	// quiet period or the timeout elapsed.
	shutdownPollMs = 20
)

// fdHandler is anything an EventLoop dispatches readiness events to, a
// connected Channel or a listening socket.
type fdHandler interface {
	handleEvents(events uint32)
	handlePanic(v interface{})
	closeForShutdown()
}

// EventLoop owns one poller and runs every handler registered with it on a
// single goroutine. Tasks submitted with Execute from any goroutine run on
// that same goroutine, which is what lets channel state go without locks.
type EventLoop struct {
	id     int
	poller *Poller
	log    *zap.Logger

	mu    sync.Mutex
	tasks []func()
	state int32

	quietPeriod   time.Duration
	timeout       time.Duration
	shutdownStart time.Time

	// Only touched by the loop goroutine
	handlers       map[int]fdHandler
	lastExecution  time.Time
	channelsClosed bool

	terminated *Future
}

func newEventLoop(id int, log *zap.Logger) (*EventLoop, error) {
	poller, err := MakePoller()
	if err != nil {
		return nil, fmt.Errorf("Failed to create poller: %w", err)
	}

	return &EventLoop{
		id:         id,
		poller:     poller,
		log:        log.With(zap.Int("loop", id)),
		handlers:   make(map[int]fdHandler),
		terminated: NewFuture(),
	}, nil
}

// Execute schedules task on the loop goroutine. Tasks submitted from the same
// goroutine run in submission order.
func (l *EventLoop) Execute(task func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == stateTerminated {
		return ErrLoopShutdown
	}

	l.tasks = append(l.tasks, task)

	// Waking while holding the lock guarantees the poller has not been
	// closed under us by terminate.
	if err := l.poller.Wake(); err != nil {
		l.log.Warn("Failed to wake event loop", zap.Error(err))
	}

	return nil
}

// ShutdownGracefully asks the loop to close its channels, drain its tasks and
// exit. Calling it more than once is harmless, every call returns the same
// termination future.
func (l *EventLoop) ShutdownGracefully(quietPeriod, timeout time.Duration) *Future {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != stateRunning {
		return l.terminated
	}

	l.state = stateShuttingDown
	l.quietPeriod = quietPeriod
	l.timeout = timeout
	l.shutdownStart = time.Now()

	if err := l.poller.Wake(); err != nil {
		l.log.Warn("Failed to wake event loop", zap.Error(err))
	}

	return l.terminated
}

func (l *EventLoop) TerminationFuture() *Future {
	return l.terminated
}

func (l *EventLoop) isShuttingDown() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.state != stateRunning
}

func (l *EventLoop) run() {
	log := l.log.Named("run")
	log.Debug("Event loop started")

	events := make([]syscall.EpollEvent, maxEventsPerWait)

	for {
		timeout := -1
		if l.isShuttingDown() {
			timeout = shutdownPollMs
		}

		n, err := l.poller.Wait(events, timeout)
		if err != nil {
			log.Error("Poller failed, terminating event loop", zap.Error(err))
			l.terminate(err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)

			if l.poller.IsWakeup(fd) {
				l.poller.drainWakeup()
				continue
			}

			if h, ok := l.handlers[fd]; ok {
				l.dispatch(h, events[i].Events)
			}
		}

		l.runTasks()

		if l.isShuttingDown() && l.confirmShutdown() {
			log.Debug("Event loop terminated")
			return
		}
	}
}

// dispatch runs one handler and contains any panic to that handler so the
// other channels of this loop keep being served.
func (l *EventLoop) dispatch(h fdHandler, events uint32) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Recovered from panic while handling events",
				zap.Any("panic", r),
				zap.Stack("stack"))

			l.safely(func() { h.handlePanic(r) })
		}
	}()

	h.handleEvents(events)
}

func (l *EventLoop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()

	if len(tasks) == 0 {
		return
	}

	for _, task := range tasks {
		l.safely(task)
	}

	l.lastExecution = time.Now()
}

func (l *EventLoop) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("Recovered from panic in event loop task",
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()

	task()
}

// confirmShutdown returns true once the loop is allowed to exit.
func (l *EventLoop) confirmShutdown() bool {
	if !l.channelsClosed {
		l.channelsClosed = true
		l.closeAll()
		l.runTasks()
		l.lastExecution = time.Now()
	}

	l.mu.Lock()
	pending := len(l.tasks)
	quietPeriod, timeout, start := l.quietPeriod, l.timeout, l.shutdownStart
	l.mu.Unlock()

	now := time.Now()

	if now.Sub(start) >= timeout {
		l.terminate(nil)
		return true
	}

	if pending == 0 && now.Sub(l.lastExecution) >= quietPeriod {
		l.terminate(nil)
		return true
	}

	return false
}

func (l *EventLoop) closeAll() {
	handlers := make([]fdHandler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}

	if len(handlers) > 0 {
		l.log.Info("Closing registered channels", zap.Int("count", len(handlers)))
	}

	for _, h := range handlers {
		l.safely(h.closeForShutdown)
	}
}

func (l *EventLoop) terminate(cause error) {
	l.mu.Lock()
	dropped := len(l.tasks)
	l.tasks = nil
	l.state = stateTerminated

	if err := l.poller.Close(); err != nil {
		l.log.Warn("Poller did not close cleanly", zap.Error(err))
	}
	l.mu.Unlock()

	if cause == nil && dropped > 0 {
		cause = fmt.Errorf("Loop %d dropped %d tasks: %w", l.id, dropped, ErrGracefulShutdownTimeout)
	}

	if cause != nil {
		l.log.Warn("Event loop terminated uncleanly", zap.Error(cause))
	}

	l.terminated.complete(cause)
}

func (l *EventLoop) register(fd int, h fdHandler, events uint32) error {
	if err := l.poller.Add(fd, events); err != nil {
		return err
	}

	l.handlers[fd] = h
	return nil
}

func (l *EventLoop) modify(fd int, events uint32) error {
	return l.poller.Modify(fd, events)
}

func (l *EventLoop) deregister(fd int) error {
	if _, ok := l.handlers[fd]; !ok {
		return nil
	}

	delete(l.handlers, fd)
	return l.poller.Delete(fd)
}

// EventLoopGroup is a fixed set of event loops handed out round-robin.
type EventLoopGroup struct {
	loops []*EventLoop
	next  uint32

	shutdownOnce sync.Once
	terminated   *Future

	log *zap.Logger
}

// NewEventLoopGroup starts n event loops. n < 1 starts one per CPU.
func NewEventLoopGroup(n int, log *zap.Logger) (*EventLoopGroup, error) {
	if n < 1 {
		n = defaultLoopCount()
	}

	g := &EventLoopGroup{
		loops:      make([]*EventLoop, 0, n),
		terminated: NewFuture(),
		log:        log,
	}

	for i := 0; i < n; i++ {
		loop, err := newEventLoop(i, log)
		if err != nil {
			g.ShutdownGracefully(0, 0)
			return nil, err
		}

		g.loops = append(g.loops, loop)
		go loop.run()
	}

	log.Debug("Started event loops", zap.Int("count", n))

	return g, nil
}

// Next returns the loop the next channel should be registered with.
func (g *EventLoopGroup) Next() *EventLoop {
	i := atomic.AddUint32(&g.next, 1) - 1
	return g.loops[int(i)%len(g.loops)]
}

func (g *EventLoopGroup) Len() int {
	return len(g.loops)
}

// ShutdownGracefully shuts every loop down and returns a future that
// completes once all of them terminated. It is idempotent.
func (g *EventLoopGroup) ShutdownGracefully(quietPeriod, timeout time.Duration) *Future {
	g.shutdownOnce.Do(func() {
		g.log.Info("Shutting down event loops",
			zap.Int("count", len(g.loops)),
			zap.Duration("quietPeriod", quietPeriod),
			zap.Duration("timeout", timeout))

		futures := make([]*Future, 0, len(g.loops))
		for _, loop := range g.loops {
			futures = append(futures, loop.ShutdownGracefully(quietPeriod, timeout))
		}

		go func() {
			var err error
			for _, f := range futures {
				<-f.Done()
				err = appendErr(err, f.Err())
			}

			g.terminated.complete(err)
		}()
	})

	return g.terminated
}

func (g *EventLoopGroup) TerminationFuture() *Future {
	return g.terminated
}

// Terminated returns true once every loop of the group exited.
func (g *EventLoopGroup) Terminated() bool {
	return g.terminated.IsDone()
}
