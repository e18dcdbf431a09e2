package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBusy means the queue is full; the caller must release its guard
	// entry and tell the user to retry.
	ErrBusy = errors.New("dispatch: pool is busy")
	// ErrStopped means the pool is shutting down.
	ErrStopped = errors.New("dispatch: pool is stopped")
)

// Job is a unit of background work. It runs on a pool worker and must do
// its own error handling; anything it lets escape is recovered and
// logged so the worker survives.
type Job func(ctx context.Context)

type submission struct {
	job  Job
	done func()
}

// Pool runs jobs on a fixed number of workers fed by a bounded queue.
// Every accepted job's done callback runs exactly once after the job
// finishes, whether it returned normally or panicked; rejected jobs never
// run and never call done, so the caller keeps responsibility for
// cleanup on rejection.
type Pool struct {
	logger  *slog.Logger
	workers int
	jobs    chan submission

	mu     sync.Mutex
	closed bool
	group  *errgroup.Group
}

// NewPool sizes the pool; Start launches the workers.
func NewPool(workers, queueSize int, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = 5
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	return &Pool{
		logger:  log.With(slog.String("component", "pool")),
		workers: workers,
		jobs:    make(chan submission, queueSize),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) {
	group, gctx := errgroup.WithContext(ctx)
	p.mu.Lock()
	p.group = group
	p.mu.Unlock()
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			for sub := range p.jobs {
				p.execute(gctx, sub)
			}
			return nil
		})
	}
}

// Submit enqueues a job with a completion callback. It never blocks:
// when the queue is full it returns ErrBusy without consuming done.
func (p *Pool) Submit(job Job, done func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStopped
	}
	// Non-blocking send under the mutex so a concurrent Shutdown cannot
	// close the channel between the check and the send.
	select {
	case p.jobs <- submission{job: job, done: done}:
		return nil
	default:
		return ErrBusy
	}
}

// Shutdown stops accepting work and waits for queued jobs to drain or the
// context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	group := p.group
	p.mu.Unlock()

	close(p.jobs)
	if group == nil {
		return nil
	}

	waitCh := make(chan struct{})
	go func() {
		_ = group.Wait() // workers only return nil
		close(waitCh)
	}()
	select {
	case <-waitCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
}

// execute runs one job. The done callback is deferred so it fires exactly
// once on every exit path; without that, a panic mid-job would leave the
// message ID tracked as in-flight forever.
func (p *Pool) execute(ctx context.Context, sub submission) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
		if sub.done != nil {
			sub.done()
		}
	}()
	sub.job(ctx)
}
