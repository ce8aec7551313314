package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/anthanhphan/gosdk/logger"
)

var (
	ErrWorkerPoolClosed    = errors.New("worker pool is closed")
	ErrWorkerPoolSaturated = errors.New("worker pool queue is full")
)

// PoolStats is a point-in-time view of a pool's counters.
type PoolStats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Completed int64  `json:"completed"`
	Panicked  int64  `json:"panicked"`
	Rejected  int64  `json:"rejected"`
}

// WorkerPool runs jobs on a fixed number of goroutines fed by a bounded queue.
type WorkerPool struct {
	name    string
	workers int
	jobs    chan func()
	closed  bool
	mu      sync.RWMutex
	once    sync.Once
	wg      sync.WaitGroup

	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// NewWorkerPool starts workers goroutines reading from a queue of queueSize.
func NewWorkerPool(name string, workers, queueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}

	p := &WorkerPool{
		name:    name,
		workers: workers,
		jobs:    make(chan func(), queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.run(job)
			}
		}()
	}

	return p
}

func (p *WorkerPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			logger.Errorw("Worker job panicked", "pool", p.name, "panic", fmt.Sprint(r))
		}
	}()
	job()
	p.completed.Add(1)
}

// Submit enqueues job, waiting for queue space until ctx is done.
func (p *WorkerPool) Submit(ctx context.Context, job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case <-ctx.Done():
		p.rejected.Add(1)
		return ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

// TrySubmit enqueues job without waiting. It returns ErrWorkerPoolSaturated
// when the queue is full.
func (p *WorkerPool) TrySubmit(job func()) error {
	if job == nil {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrWorkerPoolClosed
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		p.rejected.Add(1)
		return ErrWorkerPoolSaturated
	}
}

// Stats returns the pool counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Name:      p.name,
		Workers:   p.workers,
		Queued:    len(p.jobs),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Close stops accepting jobs. Queued jobs still run.
func (p *WorkerPool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Wait blocks until every worker has exited. Call Close first.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}
