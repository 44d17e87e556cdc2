package quota

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// Drift is a space whose counters disagree with its pictures
type Drift struct {
	SpaceID     int64
	UsedCount   int64
	UsedBytes   int64
	ActualCount int64
	ActualBytes int64
}

const (
	driftQuery = `
		SELECT s.id, s.used_count, s.used_bytes,
		       COUNT(p.id), COALESCE(SUM(p.size_bytes), 0)
		FROM spaces s
		LEFT JOIN pictures p ON p.space_id = s.id
		GROUP BY s.id, s.used_count, s.used_bytes
		HAVING s.used_count <> COUNT(p.id)
		    OR s.used_bytes <> COALESCE(SUM(p.size_bytes), 0)
		ORDER BY s.id`

	actualUsageQuery = `
		SELECT COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM pictures
		WHERE space_id = $1`

	repairQuery = `
		UPDATE spaces
		SET used_count = $1, used_bytes = $2, updated_at = NOW()
		WHERE id = $3`
)

// ReconcilerConfig configures the periodic drift check
type ReconcilerConfig struct {
	Schedule string
	Repair   bool
}

// Reconciler compares space counters with the pictures they account for
// and optionally rewrites drifted counters
type Reconciler struct {
	db      *sql.DB
	ledger  *Ledger
	config  ReconcilerConfig
	logger  *observability.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler creates a reconciler
func NewReconciler(db *sql.DB, ledger *Ledger, config ReconcilerConfig, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.Schedule == "" {
		config.Schedule = "@every 1h"
	}
	return &Reconciler{
		db:      db,
		ledger:  ledger,
		config:  config,
		logger:  logger.WithField("component", "quota_reconciler"),
		metrics: metrics,
	}
}

// Check returns every drifted space
func (r *Reconciler) Check(ctx context.Context) ([]Drift, error) {
	rows, err := r.db.QueryContext(ctx, driftQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota drift: %w", err)
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.SpaceID, &d.UsedCount, &d.UsedBytes, &d.ActualCount, &d.ActualBytes); err != nil {
			return nil, fmt.Errorf("failed to scan quota drift: %w", err)
		}
		drifts = append(drifts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read quota drift: %w", err)
	}
	return drifts, nil
}

// Repair recomputes one space's counters under its row lock
func (r *Reconciler) Repair(ctx context.Context, spaceID int64) error {
	return postgres.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := r.ledger.Lock(ctx, tx, spaceID); err != nil {
			return err
		}

		var count, bytes int64
		if err := tx.QueryRowContext(ctx, actualUsageQuery, spaceID).Scan(&count, &bytes); err != nil {
			return fmt.Errorf("failed to recompute usage: %w", err)
		}

		if _, err := tx.ExecContext(ctx, repairQuery, count, bytes, spaceID); err != nil {
			return fmt.Errorf("failed to rewrite usage: %w", err)
		}
		return nil
	})
}

// Run performs one reconciliation pass
func (r *Reconciler) Run(ctx context.Context) ([]Drift, error) {
	drifts, err := r.Check(ctx)
	if err != nil {
		return nil, err
	}
	r.metrics.SetDrift(len(drifts))

	for _, d := range drifts {
		log := r.logger.WithFields(map[string]interface{}{
			"space_id":     d.SpaceID,
			"used_count":   d.UsedCount,
			"used_bytes":   d.UsedBytes,
			"actual_count": d.ActualCount,
			"actual_bytes": d.ActualBytes,
		})
		log.Warn("quota drift detected")

		if !r.config.Repair {
			continue
		}
		if err := r.Repair(ctx, d.SpaceID); err != nil {
			log.WithError(err).Error("failed to repair quota drift")
			continue
		}
		log.Info("quota drift repaired")
	}
	return drifts, nil
}

// Start schedules Run on the configured cron spec
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	c := cron.New()
	_, err := c.AddFunc(r.config.Schedule, func() {
		defer observability.RecoverPanic(r.logger, "quota reconciler")
		if _, err := r.Run(ctx); err != nil {
			r.logger.WithError(err).Error("quota reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.config.Schedule, err)
	}

	c.Start()
	r.cron = c
	r.logger.Infof("quota reconciler scheduled: %s (repair=%t)", r.config.Schedule, r.config.Repair)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
