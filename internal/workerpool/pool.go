// Package workerpool runs jobs on a fixed number of goroutines.
//
// Submit appends to an unbounded FIFO and never blocks, so a completion hook
// running on a worker may submit follow-up work without deadlocking the pool.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"lectern/internal/logging"
	"lectern/internal/services"
)

var (
	// ErrStopped is returned by Submit once Stop has been called.
	ErrStopped = errors.New("worker pool stopped")
	// ErrPanic marks a job whose handler panicked.
	ErrPanic = errors.New("job panicked")
)

// Handler executes one job.
type Handler[J any] func(ctx context.Context, job J) error

// Hook observes every finished job on the worker that ran it.
type Hook[J any] func(job J, err error)

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int    `json:"workers"`
	Busy      int    `json:"busy"`
	Queued    int    `json:"queued"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Pool is a fixed-size worker pool over jobs of type J.
type Pool[J any] struct {
	size    int
	handler Handler[J]
	hook    Hook[J]
	logger  *slog.Logger

	mu      sync.Mutex
	pending []J
	running bool
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	wake    chan struct{}

	busy      atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New constructs a pool with size workers. hook may be nil.
func New[J any](size int, handler Handler[J], hook Hook[J], logger *slog.Logger) *Pool[J] {
	if size <= 0 {
		size = 1
	}
	return &Pool[J]{
		size:    size,
		handler: handler,
		hook:    hook,
		logger:  logging.NewComponentLogger(logger, "workerpool"),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the workers. Jobs submitted before Start are picked up once
// workers are running.
func (p *Pool[J]) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if p.running {
		return errors.New("worker pool already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	p.cancel = cancel
	p.group = group
	p.running = true

	for i := 0; i < p.size; i++ {
		worker := fmt.Sprintf("worker-%d", i+1)
		group.Go(func() error {
			p.work(groupCtx, worker)
			return nil
		})
	}
	if len(p.pending) > 0 {
		p.signal()
	}
	p.logger.Debug("worker pool started", logging.Int("workers", p.size))
	return nil
}

// Submit enqueues job. It never blocks.
func (p *Pool[J]) Submit(job J) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.pending = append(p.pending, job)
	p.mu.Unlock()
	p.signal()
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to return. Jobs still
// queued are abandoned and their count is returned.
func (p *Pool[J]) Stop() int {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return 0
	}
	p.stopped = true
	cancel := p.cancel
	group := p.group
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = group.Wait()
	}

	p.mu.Lock()
	abandoned := len(p.pending)
	p.pending = nil
	p.mu.Unlock()
	if abandoned > 0 {
		p.logger.Info("worker pool stopped with queued jobs",
			logging.Int("abandoned", abandoned),
			logging.String(logging.FieldEventType, "pool_abandoned"),
		)
	}
	return abandoned
}

// Stats returns current counters.
func (p *Pool[J]) Stats() Stats {
	p.mu.Lock()
	queued := len(p.pending)
	p.mu.Unlock()
	return Stats{
		Workers:   p.size,
		Busy:      int(p.busy.Load()),
		Queued:    queued,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool[J]) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool[J]) next(ctx context.Context) (J, bool) {
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			job := p.pending[0]
			var zero J
			p.pending[0] = zero
			p.pending = p.pending[1:]
			more := len(p.pending) > 0
			p.mu.Unlock()
			if more {
				// Pass the wakeup on so idle peers see the remaining jobs.
				p.signal()
			}
			return job, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero J
			return zero, false
		case <-p.wake:
		}
	}
}

func (p *Pool[J]) work(ctx context.Context, worker string) {
	workerCtx := services.WithWorker(ctx, worker)
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := p.next(ctx)
		if !ok {
			return
		}
		p.execute(workerCtx, worker, job)
	}
}

func (p *Pool[J]) execute(ctx context.Context, worker string, job J) {
	p.busy.Add(1)
	// Busy covers the hook so follow-up submits are visible before the
	// worker reads as idle.
	defer p.busy.Add(-1)
	err := p.invoke(ctx, job)
	if err != nil {
		p.failed.Add(1)
	} else {
		p.completed.Add(1)
	}
	p.notify(worker, job, err)
}

func (p *Pool[J]) invoke(ctx context.Context, job J) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			logging.ErrorWithContext(logging.WithContext(ctx, p.logger), "job handler panicked", "job_panic",
				logging.String(logging.FieldErrorHint, "inspect the stack trace for the failing collaborator"),
				logging.String("stack", string(debug.Stack())),
				logging.Any("panic", r),
			)
		}
	}()
	return p.handler(ctx, job)
}

func (p *Pool[J]) notify(worker string, job J, err error) {
	if p.hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("completion hook panicked",
				logging.String(logging.FieldWorker, worker),
				logging.String(logging.FieldEventType, "hook_panic"),
				logging.String(logging.FieldErrorHint, "completion hooks must not panic"),
				logging.Any("panic", r),
			)
		}
	}()
	p.hook(job, err)
}
