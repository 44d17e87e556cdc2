package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/gallery/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a pool that is shutting down
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken
	ErrQueueFull = errors.New("worker pool queue full")
)

// Task is a unit of background work
type Task func(context.Context) error

// SafeGo runs fn in a goroutine with a timeout and panic recovery.
// Errors and panics are logged, never propagated.
//
//	SafeGo(context.WithoutCancel(r.Context()), logger, 30*time.Second, "object cleanup", func(ctx context.Context) error {
//	    return cleaner.Release(ctx, key)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn Task) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		runTask(ctx, logger, taskName, fn)
	}()
}

func runTask(ctx context.Context, logger *observability.Logger, taskName string, fn Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"task":  taskName,
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("PANIC recovered in background task")
		}
	}()

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
	}
}

// WorkerPool runs submitted tasks on a fixed number of goroutines
type WorkerPool struct {
	logger   *observability.Logger
	taskName string
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	workCh chan Task
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers goroutines with a queue of queueSize pending tasks.
// Each task runs with its own timeout derived from a context that outlives
// any request.
func NewWorkerPool(logger *observability.Logger, workers, queueSize int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())

	p := &WorkerPool{
		logger:   logger.WithField("pool", taskName),
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan Task, queueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit queues fn, blocking while the queue is full or until ctx is done
func (p *WorkerPool) Submit(ctx context.Context, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues fn without blocking
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits up to timeout for queued tasks to drain.
// Running tasks are cancelled when the timeout expires.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool %s shutdown timed out after %v", p.taskName, timeout)
	}
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for fn := range p.workCh {
		ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
		runTask(ctx, p.logger, p.taskName, fn)
		cancel()
	}
}
