// Package async runs fire-and-forget work outside of request lifetimes.
package async

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Task is a unit of background work
type Task func(ctx context.Context) error

// ErrorHandler receives failures of background tasks
type ErrorHandler func(ctx context.Context, name string, err error)

type job struct {
	ctx  context.Context
	name string
	fn   Task
}

// Dispatcher executes tasks on a fixed set of workers. Dispatch never blocks
// the caller: when the queue is full the task is dropped and reported to the
// error handler.
type Dispatcher struct {
	queue     chan job
	timeout   time.Duration
	onError   ErrorHandler
	workers   int
	queueSize int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// Option is a functional option for Dispatcher
type Option func(*Dispatcher)

// WithWorkers sets the number of worker goroutines
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the capacity of the pending task queue
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout bounds the execution time of each task
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// WithErrorHandler replaces the default logging error handler
func WithErrorHandler(h ErrorHandler) Option {
	return func(d *Dispatcher) {
		d.onError = h
	}
}

var (
	ErrQueueFull = goerr.New("background queue is full")
	ErrClosed    = goerr.New("dispatcher is closed")
)

// New creates a dispatcher and starts its workers
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		workers:   4,
		queueSize: 256,
		timeout:   30 * time.Second,
		onError:   logError,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.queue = make(chan job, d.queueSize)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}

	return d
}

func logError(ctx context.Context, name string, err error) {
	logging.From(ctx).Error("background task failed", "task", name, "error", err)
}

// Dispatch schedules fn and returns immediately. The task runs with a context
// that keeps ctx's values (logger) but not its cancellation, so a finished
// HTTP request does not abort work scheduled at its end.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	taskCtx := context.WithoutCancel(ctx)
	if d.closed {
		d.onError(taskCtx, name, goerr.Wrap(ErrClosed, "task rejected", goerr.V("task", name)))
		return false
	}

	select {
	case d.queue <- job{ctx: taskCtx, name: name, fn: fn}:
		return true
	default:
		d.onError(taskCtx, name, goerr.Wrap(ErrQueueFull, "task dropped", goerr.V("task", name)))
		return false
	}
}

// Close stops accepting tasks and waits until queued tasks are finished
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.queue {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx := j.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			d.onError(ctx, j.name, goerr.New("background task panicked", goerr.V("task", j.name), goerr.V("panic", r)))
		}
	}()

	if err := j.fn(ctx); err != nil {
		d.onError(ctx, j.name, err)
	}
}
