// Package pool provides a bounded worker pool for concurrent query runs.
// This package is internal and should not be imported by external projects.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolClosed is returned when submitting to a closed pool.
	ErrPoolClosed = errors.New("pool is closed")
)

// Task represents a unit of work.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of worker goroutines.
// Each submitted task gets its own isolated execution; the pool only
// bounds concurrency, it never shares state between tasks.
type WorkerPool struct {
	tasks  chan poolTask
	wg     sync.WaitGroup
	closed atomic.Bool

	// Metrics
	submitted atomic.Int64
	completed atomic.Int64
}

type poolTask struct {
	ctx context.Context
	fn  Task
}

// New creates a pool with the given number of workers.
func New(workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &WorkerPool{
		tasks: make(chan poolTask),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		// 取消与否都交给任务自行判断，保证提交方的完成计数不悬空
		t.fn(t.ctx)
		p.completed.Add(1)
	}
}

// Submit enqueues a task, blocking until a worker accepts it or the
// context is cancelled.
func (p *WorkerPool) Submit(ctx context.Context, fn Task) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- poolTask{ctx: ctx, fn: fn}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for in-flight tasks to finish.
func (p *WorkerPool) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.tasks)
		p.wg.Wait()
	}
}

// Stats returns submitted and completed task counts.
func (p *WorkerPool) Stats() (submitted, completed int64) {
	return p.submitted.Load(), p.completed.Load()
}
