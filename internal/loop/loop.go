// Package loop provides the single serialized dispatch context the method channel requires for every send and receive.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neoclaw-ai/msgbridge/internal/logging"
)

var (
	// ErrNotStarted is returned by Post before Start.
	ErrNotStarted = errors.New("loop is not started")
	// ErrStopped is returned by Post once the loop context is done.
	ErrStopped = errors.New("loop is stopped")
	// ErrQueueFull is returned by Post when the queue has no free slot.
	ErrQueueFull = errors.New("loop queue is full")
)

// Func is one unit of work run on the loop goroutine.
// ctx is the loop context; OnLoop(ctx) reports true for it.
type Func func(ctx context.Context)

type onLoopKey struct{}

// OnLoop reports whether ctx belongs to work running on a Loop.
// Code holding such a context must never block waiting for the loop.
func OnLoop(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	on, _ := ctx.Value(onLoopKey{}).(bool)
	return on
}

// Loop executes posted functions one at a time, in FIFO order, on a single goroutine.
type Loop struct {
	queue chan Func
	done  chan struct{}

	// pending counts queued plus running funcs.
	pending atomic.Int64

	stateMu sync.Mutex
	started bool
	rootCtx context.Context
}

// New creates a loop with a fixed-size queue.
func New(queueSize int) *Loop {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Loop{
		queue: make(chan Func, queueSize),
		done:  make(chan struct{}),
	}
}

// Start begins the loop goroutine. It exits when ctx is done.
func (l *Loop) Start(ctx context.Context) error {
	if l == nil {
		return errors.New("loop is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.stateMu.Lock()
	if l.started {
		l.stateMu.Unlock()
		return errors.New("loop already started")
	}
	l.started = true
	l.rootCtx = ctx
	l.stateMu.Unlock()

	go l.run(ctx)
	return nil
}

// Post schedules fn without blocking the caller.
func (l *Loop) Post(fn Func) error {
	if fn == nil {
		return errors.New("func is required")
	}
	rootCtx, started := l.loopContext()
	if !started {
		return ErrNotStarted
	}
	if rootCtx.Err() != nil {
		return ErrStopped
	}

	l.pending.Add(1)
	select {
	case l.queue <- fn:
		return nil
	default:
		l.pending.Add(-1)
		return ErrQueueFull
	}
}

// Stop drops every queued function that has not started yet.
func (l *Loop) Stop() {
	for {
		select {
		case <-l.queue:
			l.pending.Add(-1)
		default:
			return
		}
	}
}

// WaitUntilIdle blocks until nothing is running and the queue is empty.
func (l *Loop) WaitUntilIdle(ctx context.Context) error {
	if l == nil {
		return errors.New("loop is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.isIdle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Wait blocks until the loop goroutine exits.
func (l *Loop) Wait() {
	if l == nil {
		return
	}
	<-l.done
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	runCtx := context.WithValue(ctx, onLoopKey{}, true)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			l.invoke(runCtx, fn)
			l.pending.Add(-1)
		}
	}
}

func (l *Loop) invoke(ctx context.Context, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			logging.Logger().Error("loop func panicked", "err", fmt.Errorf("%v", r))
		}
	}()
	fn(ctx)
}

func (l *Loop) loopContext() (context.Context, bool) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.rootCtx, l.started
}

func (l *Loop) isIdle() bool {
	return l.pending.Load() == 0
}
