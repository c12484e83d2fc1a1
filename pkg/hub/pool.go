// Package hub implements the shared I/O multiplexer: a readiness
// selector backed by epoll plus a bounded worker pool that readiness
// and scheduled-task dispatch run on. Every protocol stack in a
// process is driven by one Hub.
package hub

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool is a bounded worker pool: Submit never blocks the caller beyond
// acquiring a semaphore slot, and Wait waits for in-flight work to
// drain.
type Pool struct {
	sem *semaphore.Weighted
	g   *errgroup.Group
	ctx context.Context
}

// DefaultPoolSize mirrors the "cores*2-1" default named in the hub's
// scheduling model, floored at 1 for single-core environments.
func DefaultPoolSize() int {
	n := runtime.NumCPU()*2 - 1
	if n < 1 {
		return 1
	}
	return n
}

// NewPool creates a worker pool that runs at most size tasks
// concurrently.
func NewPool(ctx context.Context, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Pool{sem: semaphore.NewWeighted(int64(size)), g: g, ctx: gctx}
}

// Submit runs task on the pool once a slot is free. It blocks the
// calling goroutine only long enough to acquire that slot, never for
// the task's own duration — callers on the selector goroutine must
// never call Submit synchronously from within readiness dispatch
// without expecting that brief wait.
func (p *Pool) Submit(task func()) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	p.g.Go(func() error {
		defer p.sem.Release(1)
		task()
		return nil
	})
	return nil
}

// Wait blocks until every submitted task has returned. It does not
// prevent further Submit calls; callers typically call Wait only
// after no more work will be submitted.
func (p *Pool) Wait() error {
	return p.g.Wait()
}
