package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/storage"
)

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	return db, mock
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty", input: "", expected: nil},
		{name: "single", input: "postgres://a/db", expected: []string{"postgres://a/db"}},
		{name: "whitespace and blanks", input: " postgres://a/db ,, postgres://b/db ,", expected: []string{"postgres://a/db", "postgres://b/db"}},
		{name: "only separators", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/gallery"
	cfg.PostgresReplicaURLs = "postgres://r1/gallery,postgres://r2/gallery"

	cc := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres://primary/gallery", cc.PrimaryURL)
	assert.Len(t, cc.ReplicaURLs, 2)
	assert.Equal(t, 20, cc.MaxConns)
	assert.Equal(t, time.Hour, cc.MaxLifetime)
}

func TestReplicaPoolSize(t *testing.T) {
	assert.Equal(t, 2, replicaPoolSize(1))
	assert.Equal(t, 10, replicaPoolSize(20))
}

func TestConnectionManager_Replica(t *testing.T) {
	primary, _ := newPingMock(t)
	defer primary.Close()

	t.Run("falls back to primary", func(t *testing.T) {
		cm := NewConnectionManagerFromDB(primary, observability.NopLogger())
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, _ := newPingMock(t)
		r2, _ := newPingMock(t)
		defer r1.Close()
		defer r2.Close()

		cm := NewConnectionManagerFromDB(primary, observability.NopLogger(), r1, r2)
		seen := map[*sql.DB]int{}
		for i := 0; i < 4; i++ {
			seen[cm.Replica()]++
		}
		assert.Equal(t, 2, seen[r1])
		assert.Equal(t, 2, seen[r2])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("primary down", func(t *testing.T) {
		primary, mock := newPingMock(t)
		defer primary.Close()
		mock.ExpectPing().WillReturnError(errors.New("refused"))

		cm := NewConnectionManagerFromDB(primary, observability.NopLogger())
		err := cm.HealthCheck(context.Background())
		assert.ErrorContains(t, err, "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pmock := newPingMock(t)
		replica, rmock := newPingMock(t)
		defer primary.Close()
		defer replica.Close()
		pmock.ExpectPing()
		rmock.ExpectPing().WillReturnError(errors.New("refused"))

		cm := NewConnectionManagerFromDB(primary, observability.NopLogger(), replica)
		assert.ErrorContains(t, cm.HealthCheck(context.Background()), "all replicas unhealthy")
	})

	t.Run("healthy", func(t *testing.T) {
		primary, pmock := newPingMock(t)
		defer primary.Close()
		pmock.ExpectPing()

		cm := NewConnectionManagerFromDB(primary, observability.NopLogger())
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	good, goodMock := newPingMock(t)
	bad, badMock := newPingMock(t)
	defer primary.Close()
	defer good.Close()

	goodMock.ExpectPing()
	badMock.ExpectPing().WillReturnError(errors.New("gone"))
	badMock.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, observability.NopLogger(), good, bad)
	assert.Equal(t, 1, cm.RemoveUnhealthyReplicas(context.Background()))
	assert.Same(t, good, cm.Replica())
	assert.NoError(t, badMock.ExpectationsWereMet())
}

func TestConnectionManager_Close(t *testing.T) {
	primary, pmock := newPingMock(t)
	replica, rmock := newPingMock(t)
	pmock.ExpectClose()
	rmock.ExpectClose().WillReturnError(errors.New("busy"))

	cm := NewConnectionManagerFromDB(primary, observability.NopLogger(), replica)
	err := cm.Close()
	assert.ErrorContains(t, err, "replica-0")
}
