package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Executor runs one request's execution as a cooperative task. Do
// submits exactly one task per call and blocks the calling goroutine
// on a result channel; the task itself is free to suspend on IO
// without blocking other tasks queued on the same executor, since each
// task owns its own goroutine once scheduled.
type Executor interface {
	Go(ctx context.Context, fn func(ctx context.Context))
}

// WorkerPoolExecutor bounds concurrent tasks with a semaphore and
// drains them on Close with an errgroup, a client-owned thread pool
// an executor can be swapped in for.
type WorkerPoolExecutor struct {
	sem *semaphore.Weighted
	g   *errgroup.Group
}

// NewWorkerPoolExecutor returns an Executor backed by n concurrent
// goroutines.
func NewWorkerPoolExecutor(n int) *WorkerPoolExecutor {
	if n <= 0 {
		n = 1
	}
	return &WorkerPoolExecutor{sem: semaphore.NewWeighted(int64(n)), g: &errgroup.Group{}}
}

func (e *WorkerPoolExecutor) Go(ctx context.Context, fn func(ctx context.Context)) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		// The caller's context died before a slot freed up; run fn
		// anyway so it observes the same canceled context and returns
		// promptly instead of being silently dropped.
		fn(ctx)
		return
	}
	e.g.Go(func() error {
		defer e.sem.Release(1)
		fn(ctx)
		return nil
	})
}

// Close waits for every task already scheduled on the pool to finish.
// It does not stop accepting new work; callers should stop calling Go
// before calling Close.
func (e *WorkerPoolExecutor) Close() error {
	return e.g.Wait()
}

// InlineExecutor runs every task synchronously on the calling
// goroutine, for single-goroutine callers that don't want a pool.
type InlineExecutor struct{}

func (InlineExecutor) Go(ctx context.Context, fn func(ctx context.Context)) { fn(ctx) }

// FuncExecutor adapts a caller-owned scheduling function (anything
// that can run a func(context.Context), e.g. a custom goroutine pool
// or an event-loop's task queue) to the Executor interface.
type FuncExecutor func(ctx context.Context, fn func(ctx context.Context))

func (f FuncExecutor) Go(ctx context.Context, fn func(ctx context.Context)) { f(ctx, fn) }
