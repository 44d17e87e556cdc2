package quota

import (
	"context"
	"database/sql"
	"errors"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// Usage is a snapshot of a space's counters
type Usage struct {
	UsedCount int64 `json:"used_count"`
	UsedBytes int64 `json:"used_bytes"`
	MaxCount  int64 `json:"max_count"`
	MaxBytes  int64 `json:"max_bytes"`
}

const (
	lockUsageQuery = `
		SELECT used_count, used_bytes, max_count, max_bytes
		FROM spaces
		WHERE id = $1
		FOR UPDATE`

	readUsageQuery = `
		SELECT used_count, used_bytes, max_count, max_bytes
		FROM spaces
		WHERE id = $1`

	reserveQuery = `
		UPDATE spaces
		SET used_count = used_count + $1,
		    used_bytes = used_bytes + $2,
		    updated_at = NOW()
		WHERE id = $3`

	releaseQuery = `
		UPDATE spaces
		SET used_count = GREATEST(used_count - $1, 0),
		    used_bytes = GREATEST(used_bytes - $2, 0),
		    updated_at = NOW()
		WHERE id = $3`
)

// Ledger applies count and byte deltas to space counters. Every method runs
// on the caller's Querier, normally the transaction that also writes the
// picture row, so the counter change commits or rolls back with it.
type Ledger struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLedger creates a ledger. logger and metrics may be nil.
func NewLedger(logger *observability.Logger, metrics *observability.Metrics) *Ledger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Ledger{logger: logger, metrics: metrics}
}

func scanUsage(row *sql.Row, spaceID int64) (*Usage, error) {
	var u Usage
	err := row.Scan(&u.UsedCount, &u.UsedBytes, &u.MaxCount, &u.MaxBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("space %d not found", spaceID)
	}
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to read space usage")
	}
	return &u, nil
}

// Usage reads the current counters without locking
func (l *Ledger) Usage(ctx context.Context, q postgres.Querier, spaceID int64) (*Usage, error) {
	return scanUsage(q.QueryRowContext(ctx, readUsageQuery, spaceID), spaceID)
}

// Lock reads the counters holding the row lock until the transaction ends
func (l *Ledger) Lock(ctx context.Context, q postgres.Querier, spaceID int64) (*Usage, error) {
	return scanUsage(q.QueryRowContext(ctx, lockUsageQuery, spaceID), spaceID)
}

// Reserve admits dCount items and dBytes bytes into the space. The count
// limit is checked before the size limit. On QuotaExceeded nothing is
// written and the caller must roll back.
func (l *Ledger) Reserve(ctx context.Context, q postgres.Querier, spaceID, dCount, dBytes int64) error {
	if dCount < 0 || dBytes < 0 {
		return apperr.InvalidArgument("quota deltas must be non-negative")
	}

	usage, err := l.Lock(ctx, q, spaceID)
	if err != nil {
		return err
	}

	if dCount > 0 && usage.UsedCount+dCount > usage.MaxCount {
		l.metrics.RecordReservation("count_exceeded")
		return apperr.QuotaExceeded(apperr.DimensionCount, usage.UsedCount, usage.MaxCount, dCount)
	}
	if dBytes > 0 && usage.UsedBytes+dBytes > usage.MaxBytes {
		l.metrics.RecordReservation("size_exceeded")
		return apperr.QuotaExceeded(apperr.DimensionSize, usage.UsedBytes, usage.MaxBytes, dBytes)
	}
	if dCount == 0 && dBytes == 0 {
		l.metrics.RecordReservation("ok")
		return nil
	}

	if _, err := q.ExecContext(ctx, reserveQuery, dCount, dBytes, spaceID); err != nil {
		l.metrics.RecordReservation("error")
		return apperr.StorageFailure(err, "failed to reserve quota")
	}
	l.metrics.RecordReservation("ok")
	return nil
}

// Release returns dCount items and dBytes bytes to the space. Counters are
// clamped at zero; a clamp means they had already drifted and is reported.
func (l *Ledger) Release(ctx context.Context, q postgres.Querier, spaceID, dCount, dBytes int64) error {
	if dCount < 0 || dBytes < 0 {
		return apperr.InvalidArgument("quota deltas must be non-negative")
	}
	if dCount == 0 && dBytes == 0 {
		return nil
	}

	usage, err := l.Lock(ctx, q, spaceID)
	if err != nil {
		return err
	}

	if usage.UsedCount < dCount || usage.UsedBytes < dBytes {
		l.metrics.RecordUnderflow()
		l.logger.WithFields(map[string]interface{}{
			"space_id":      spaceID,
			"used_count":    usage.UsedCount,
			"used_bytes":    usage.UsedBytes,
			"release_count": dCount,
			"release_bytes": dBytes,
		}).Warn("quota release underflow, clamping to zero")
	}

	if _, err := q.ExecContext(ctx, releaseQuery, dCount, dBytes, spaceID); err != nil {
		return apperr.StorageFailure(err, "failed to release quota")
	}
	return nil
}

// Adjust applies a signed byte delta, reserving growth and releasing shrinkage
func (l *Ledger) Adjust(ctx context.Context, q postgres.Querier, spaceID, dBytes int64) error {
	switch {
	case dBytes > 0:
		return l.Reserve(ctx, q, spaceID, 0, dBytes)
	case dBytes < 0:
		return l.Release(ctx, q, spaceID, 0, -dBytes)
	default:
		return nil
	}
}
