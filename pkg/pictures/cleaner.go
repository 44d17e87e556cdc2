package pictures

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/gallery/pkg/async"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/spaces"
	"github.com/platinummonkey/gallery/pkg/storage"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// ReferenceCounter counts picture rows that still point at a storage key
type ReferenceCounter interface {
	CountByStorageKey(ctx context.Context, q postgres.Querier, key string) (int64, error)
}

// Cleaner deletes stored objects once no picture row references them.
// Work runs in the background and failures are logged, not retried.
//
// Uploads reuse an existing object with the same content key, so the
// reference count and the delete run under the key's lock. The picture
// service must share the table returned by Locks.
type Cleaner struct {
	db      *sql.DB
	locks   *spaces.KeyedMutex[string]
	refs    ReferenceCounter
	objects storage.ObjectStore
	pool    *async.WorkerPool
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewCleaner creates a cleaner that runs on pool
func NewCleaner(db *sql.DB, refs ReferenceCounter, objects storage.ObjectStore, pool *async.WorkerPool, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Cleaner {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Cleaner{
		db:      db,
		locks:   spaces.NewKeyedMutex[string](),
		refs:    refs,
		objects: objects,
		pool:    pool,
		timeout: timeout,
		logger:  logger.WithField("component", "storage_cleaner"),
		metrics: metrics,
	}
}

// Locks returns the per-key lock table guarding object deletion
func (c *Cleaner) Locks() *spaces.KeyedMutex[string] {
	return c.locks
}

// Schedule queues a cleanup of each key. It never blocks; when the queue is
// full the cleanup runs on its own goroutine.
func (c *Cleaner) Schedule(keys ...string) {
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		key := key
		task := func(ctx context.Context) error {
			return c.Clean(ctx, key)
		}
		if err := c.pool.TrySubmit(task); err != nil {
			async.SafeGo(context.Background(), c.logger, c.timeout, "storage cleanup", task)
		}
	}
}

// Clean deletes key if no picture row references it
func (c *Cleaner) Clean(ctx context.Context, key string) error {
	unlock, err := c.locks.Lock(ctx, key)
	if err != nil {
		c.metrics.RecordCleanup("failed")
		return fmt.Errorf("failed to lock %s: %w", key, err)
	}
	defer unlock()

	count, err := c.refs.CountByStorageKey(ctx, c.db, key)
	if err != nil {
		c.metrics.RecordCleanup("failed")
		return fmt.Errorf("failed to count references to %s: %w", key, err)
	}
	if count > 0 {
		c.metrics.RecordCleanup("retained")
		c.logger.WithFields(map[string]interface{}{
			"key":        key,
			"references": count,
		}).Debug("object still referenced, keeping it")
		return nil
	}

	if err := c.objects.DeleteObject(ctx, key); err != nil {
		c.metrics.RecordCleanup("failed")
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	c.metrics.RecordCleanup("deleted")
	c.logger.WithField("key", key).Debug("object deleted")
	return nil
}
