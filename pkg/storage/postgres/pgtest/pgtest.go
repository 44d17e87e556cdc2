//go:build integration

// Package pgtest starts a disposable Postgres for integration tests and
// applies the gallery schema to it.
package pgtest

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// Start runs a Postgres container, migrates it and returns a connection.
// The container is terminated when the test ends. The test is skipped when
// no container runtime is available.
func Start(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	provider.Close()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("gallery_test"),
		tcpostgres.WithUsername("gallery"),
		tcpostgres.WithPassword("gallery_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	db.SetMaxOpenConns(32)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.PingContext(ctx))

	require.NoError(t, postgres.RunMigrations(ctx, db, observability.NopLogger()))
	return db
}

// CreateUser inserts a user and returns its ID
func CreateUser(t *testing.T, db *sql.DB, account, role string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`INSERT INTO users (account, role) VALUES ($1, $2) RETURNING id`, account, role).Scan(&id)
	require.NoError(t, err)
	return id
}
