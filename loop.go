package syncengine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Clock & Scheduling
// ============================================================================

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock creates wall-clock timers.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the runtime timers.
func RealClock() Clock { return realClock{} }

// Scheduler schedules callbacks that run on the engine loop.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Runner runs blocking work (network I/O) off the loop. The continuation
// returned by work, if any, re-enters the loop as a discrete event.
type Runner interface {
	Go(work func(ctx context.Context) func())
}

// ============================================================================
// Loop
// ============================================================================

// Loop is the single-threaded executor every store mutation runs on. Posted
// functions run one at a time in FIFO order, so no two handlers interleave.
type Loop struct {
	clock  Clock
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// NewLoop starts a loop goroutine. Close must be called to release it.
func NewLoop(clock Clock, logger *zap.Logger) *Loop {
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Loop{
		clock:  clock,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Context is cancelled when the loop closes.
func (l *Loop) Context() context.Context { return l.ctx }

// Post enqueues f without blocking. It reports false once the loop is closed.
func (l *Loop) Post(f func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs f on the loop and waits for it to finish. It must not be called
// from the loop goroutine itself.
func (l *Loop) Call(f func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		f()
	}) {
		return ErrSessionClosed
	}
	<-done
	return nil
}

// AfterFunc implements Scheduler. Stopping the returned timer from the loop
// guarantees f does not run.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	lt := &loopTimer{}
	lt.t = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped {
				return
			}
			lt.stopped = true
			f()
		})
	})
	return lt
}

// Go implements Runner.
func (l *Loop) Go(work func(ctx context.Context) func()) {
	go func() {
		cont := work(l.ctx)
		if cont != nil {
			l.Post(cont)
		}
	}()
}

// Close stops accepting work, drains what was already queued and waits for
// the loop goroutine to exit.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		closed := l.closed
		l.mu.Unlock()

		for _, f := range batch {
			l.exec(f)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-l.wake
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("panic", r))
		}
	}()
	f()
}

type loopTimer struct {
	t       Timer
	stopped bool // owned by the loop goroutine
}

func (lt *loopTimer) Stop() bool {
	if lt.stopped {
		return false
	}
	lt.stopped = true
	lt.t.Stop()
	return true
}
