// Package pool provides a bounded goroutine pool. Submissions beyond
// the queue capacity are rejected instead of blocking, so the caller
// can surface backpressure to its own clients.
package pool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolFull is returned when the task queue is at capacity.
var ErrPoolFull = errors.New("pool: task queue full")

// ErrPoolClosed is returned when submitting after Shutdown.
var ErrPoolClosed = errors.New("pool: closed")

// Pool runs submitted tasks on a fixed set of workers.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New starts a pool with the given worker count and queue size.
func New(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	p := &Pool{
		tasks:  make(chan func(), queueSize),
		logger: logger.With(zap.String("component", "pool")),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues a task. It never blocks: a full queue returns
// ErrPoolFull.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting tasks and waits for queued and running work
// to finish, bounded by ctx.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached with tasks still running")
		return ctx.Err()
	}
}
