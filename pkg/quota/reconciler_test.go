package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var driftCols = []string{"id", "used_count", "used_bytes", "count", "sum"}

func TestReconciler_ReportOnly(t *testing.T) {
	ledger, db, mock, metrics := newLedgerMock(t)
	r := NewReconciler(db, ledger, ReconcilerConfig{}, nil, metrics)

	mock.ExpectQuery(`SELECT s.id, s.used_count, s.used_bytes, COUNT\(p.id\)`).
		WillReturnRows(sqlmock.NewRows(driftCols).
			AddRow(1, 3, 300, 2, 200).
			AddRow(4, 0, 0, 1, 50))

	drifts, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, drifts, 2)
	assert.Equal(t, Drift{SpaceID: 1, UsedCount: 3, UsedBytes: 300, ActualCount: 2, ActualBytes: 200}, drifts[0])
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.QuotaDriftSpaces))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciler_Repair(t *testing.T) {
	ledger, db, mock, metrics := newLedgerMock(t)
	r := NewReconciler(db, ledger, ReconcilerConfig{Repair: true}, nil, metrics)

	mock.ExpectQuery(`SELECT s.id`).
		WillReturnRows(sqlmock.NewRows(driftCols).AddRow(1, 3, 300, 2, 200))
	mock.ExpectBegin()
	mock.ExpectQuery(lockPattern).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows(usageCols).AddRow(3, 300, 100, 1000))
	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(size_bytes\), 0\) FROM pictures WHERE space_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(2, 200))
	mock.ExpectExec(`UPDATE spaces SET used_count = \$1, used_bytes = \$2`).
		WithArgs(int64(2), int64(200), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciler_RepairFailureContinues(t *testing.T) {
	ledger, db, mock, _ := newLedgerMock(t)
	r := NewReconciler(db, ledger, ReconcilerConfig{Repair: true}, nil, nil)

	mock.ExpectQuery(`SELECT s.id`).
		WillReturnRows(sqlmock.NewRows(driftCols).AddRow(1, 3, 300, 2, 200))
	mock.ExpectBegin()
	mock.ExpectQuery(lockPattern).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	drifts, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, drifts, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconciler_CheckFails(t *testing.T) {
	ledger, db, mock, _ := newLedgerMock(t)
	r := NewReconciler(db, ledger, ReconcilerConfig{}, nil, nil)

	mock.ExpectQuery(`SELECT s.id`).WillReturnError(errors.New("relation does not exist"))

	_, err := r.Run(context.Background())
	assert.Error(t, err)
}

func TestReconciler_StartStop(t *testing.T) {
	ledger, db, _, _ := newLedgerMock(t)

	bad := NewReconciler(db, ledger, ReconcilerConfig{Schedule: "not a schedule"}, nil, nil)
	assert.Error(t, bad.Start(context.Background()))

	r := NewReconciler(db, ledger, ReconcilerConfig{Schedule: "@every 1h"}, nil, nil)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Stop(ctx))
	assert.NoError(t, r.Stop(ctx))
}
