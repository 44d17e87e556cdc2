package async

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/observability"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSafeGo_Runs(t *testing.T) {
	done := make(chan struct{})
	SafeGo(context.Background(), observability.NopLogger(), time.Second, "test", func(ctx context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestSafeGo_LogsErrorAndPanic(t *testing.T) {
	out := &syncBuffer{}
	logger := observability.NewLogger(observability.InfoLevel, out)

	SafeGo(context.Background(), logger, time.Second, "failing", func(ctx context.Context) error {
		return errors.New("object store unreachable")
	})
	SafeGo(context.Background(), logger, time.Second, "panicking", func(ctx context.Context) error {
		panic("boom")
	})

	assert.Eventually(t, func() bool {
		s := out.String()
		return bytes.Contains([]byte(s), []byte("object store unreachable")) &&
			bytes.Contains([]byte(s), []byte("PANIC recovered"))
	}, time.Second, 10*time.Millisecond)
}

func TestSafeGo_Timeout(t *testing.T) {
	errCh := make(chan error, 1)
	SafeGo(context.Background(), observability.NopLogger(), 20*time.Millisecond, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("timeout not enforced")
	}
}

func TestSafeGo_SurvivesParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := context.WithoutCancel(parent)
	cancel()

	errCh := make(chan error, 1)
	SafeGo(ctx, observability.NopLogger(), time.Second, "detached", func(ctx context.Context) error {
		errCh <- ctx.Err()
		return nil
	})

	assert.NoError(t, <-errCh)
}

func TestWorkerPool_ProcessesAll(t *testing.T) {
	pool := NewWorkerPool(observability.NopLogger(), 4, 16, "test", time.Second)

	var count int32
	for i := 0; i < 50; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			atomic.AddInt32(&count, 1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(5*time.Second))
	assert.Equal(t, int32(50), atomic.LoadInt32(&count))
}

func TestWorkerPool_PanicDoesNotKillWorker(t *testing.T) {
	pool := NewWorkerPool(observability.NopLogger(), 1, 4, "test", time.Second)

	var ran int32
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error { panic("boom") }))
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	}))

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestWorkerPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(observability.NopLogger(), 1, 1, "test", time.Second)
	require.NoError(t, pool.Shutdown(time.Second))
	require.NoError(t, pool.Shutdown(time.Second))

	assert.ErrorIs(t, pool.Submit(context.Background(), func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
}

func TestWorkerPool_TrySubmitQueueFull(t *testing.T) {
	pool := NewWorkerPool(observability.NopLogger(), 1, 1, "test", time.Second)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, pool.TrySubmit(func(ctx context.Context) error { return nil }))

	assert.ErrorIs(t, pool.TrySubmit(func(ctx context.Context) error { return nil }), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(time.Second))
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(observability.NopLogger(), 1, 1, "test", time.Minute)
	started := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		time.Sleep(300 * time.Millisecond)
		return nil
	}))
	<-started

	assert.Error(t, pool.Shutdown(20*time.Millisecond))
}
