// Package background runs detached tasks that must outlive the request
// that scheduled them.
package background

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var ErrClosed = errors.New("background executor closed")

type gauge interface {
	Inc()
	Dec()
}

// Executor runs at most maxTasks tasks at once. Tasks get the executor's
// context, which is canceled only when Shutdown gives up waiting.
type Executor struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	pending atomic.Int64
	running gauge
}

func NewExecutor(maxTasks int64) *Executor {
	if maxTasks <= 0 {
		maxTasks = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		sem:    semaphore.NewWeighted(maxTasks),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithGauge reports running tasks to g.
func (e *Executor) WithGauge(g gauge) *Executor {
	e.running = g
	return e
}

// Go schedules fn and returns immediately. It fails only after Shutdown.
func (e *Executor) Go(name string, fn func(ctx context.Context)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.wg.Add(1)
	e.pending.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		defer e.pending.Add(-1)

		if err := e.sem.Acquire(e.ctx, 1); err != nil {
			slog.Warn("background task dropped", "task", name, "err", err)
			return
		}
		defer e.sem.Release(1)

		e.run(name, fn)
	}()
	return nil
}

func (e *Executor) run(name string, fn func(ctx context.Context)) {
	if e.running != nil {
		e.running.Inc()
		defer e.running.Dec()
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background task panic recovered", "task", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	fn(e.ctx)
}

// Pending reports tasks scheduled but not yet finished.
func (e *Executor) Pending() int64 {
	return e.pending.Load()
}

// Shutdown stops accepting tasks and waits for in-flight ones. If ctx ends
// first, task contexts are canceled and Shutdown still waits for them to
// return before reporting ctx's error.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("background drain timed out, canceling tasks", "pending", e.Pending())
		e.cancel()
		<-done
		return ctx.Err()
	}
}
