package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ErrShutdownTimeout is reported for a stage still running at the deadline.
var ErrShutdownTimeout = errors.New("shutdown timeout reached")

// ShutdownFunc releases one resource
type ShutdownFunc func(context.Context) error

type shutdownStep struct {
	name string
	fn   ShutdownFunc
}

// ShutdownStage is a named group of steps that run concurrently.
type ShutdownStage struct {
	name  string
	mu    *sync.Mutex
	steps []shutdownStep
}

// Add appends a step and returns the stage for chaining.
func (st *ShutdownStage) Add(name string, fn ShutdownFunc) *ShutdownStage {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.steps = append(st.steps, shutdownStep{name: name, fn: fn})
	return st
}

// ShutdownManager runs stages one after another under a single deadline.
// HTTP servers passed to NewShutdownManager form the first stage, so
// requests and uploads drain before workers and stores are torn down.
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration
	mu      sync.Mutex
	stages  []*ShutdownStage
}

func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	sm := &ShutdownManager{logger: logger, timeout: timeout}

	listeners := sm.Stage("http")
	for _, server := range servers {
		listeners.Add(server.Addr, server.Shutdown)
	}
	return sm
}

// Stage returns the named stage, creating it after all existing ones.
func (sm *ShutdownManager) Stage(name string) *ShutdownStage {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, st := range sm.stages {
		if st.name == name {
			return st
		}
	}
	st := &ShutdownStage{name: name, mu: &sm.mu}
	sm.stages = append(sm.stages, st)
	return st
}

// WaitForShutdown blocks until ctx is done, then shuts everything down.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	<-ctx.Done()
	sm.logger.Info("Starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown runs every stage in order. A stage that overruns the deadline is
// abandoned; later stages still run with the expired context so that
// non-blocking closers release their resources.
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	type snapshot struct {
		name  string
		steps []shutdownStep
	}
	stages := make([]snapshot, 0, len(sm.stages))
	for _, st := range sm.stages {
		stages = append(stages, snapshot{name: st.name, steps: append([]shutdownStep(nil), st.steps...)})
	}
	sm.mu.Unlock()

	var errs []error
	for _, st := range stages {
		errs = append(errs, sm.runStage(ctx, st.name, st.steps)...)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}

func (sm *ShutdownManager) runStage(ctx context.Context, stage string, steps []shutdownStep) []error {
	if len(steps) == 0 {
		return nil
	}
	log := sm.logger.WithField("stage", stage)

	errCh := make(chan error, len(steps))
	var wg sync.WaitGroup
	for _, step := range steps {
		wg.Add(1)
		go func(step shutdownStep) {
			defer wg.Done()
			if err := step.fn(ctx); err != nil {
				log.WithError(err).WithField("step", step.name).Error("Shutdown step failed")
				errCh <- fmt.Errorf("%s/%s: %w", stage, step.name, err)
			}
		}(step)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		default:
			log.Warn("Shutdown deadline reached, abandoning stage")
			return []error{fmt.Errorf("%s: %w", stage, ErrShutdownTimeout)}
		}
	}

	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}
