// Package async provides safe concurrent execution primitives for background tasks.
//
// SafeGo runs a single task in a goroutine with a timeout and panic recovery:
//
//	async.SafeGo(ctx, logger, 30*time.Second, "object cleanup", func(ctx context.Context) error {
//		return store.DeleteObject(ctx, key)
//	})
//
// WorkerPool bounds the number of concurrent background tasks:
//
//	pool := async.NewWorkerPool(logger, 4, 256, "object cleanup", 30*time.Second)
//	defer pool.Shutdown(10 * time.Second)
//
//	if err := pool.TrySubmit(task); err != nil {
//		async.SafeGo(ctx, logger, 30*time.Second, "object cleanup", task)
//	}
//
// Task errors are logged, never returned to the submitter.
package async
