package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/gallery/pkg/observability"
)

// Migration is one versioned schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the gallery schema in apply order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					account VARCHAR(256) NOT NULL UNIQUE,
					display_name VARCHAR(256) NOT NULL DEFAULT '',
					role VARCHAR(16) NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
					oidc_subject VARCHAR(255) UNIQUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create spaces table",
			SQL: `
				CREATE TABLE IF NOT EXISTS spaces (
					id BIGSERIAL PRIMARY KEY,
					owner_id BIGINT NOT NULL REFERENCES users(id),
					owner_is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					name VARCHAR(64) NOT NULL,
					space_type VARCHAR(16) NOT NULL CHECK (space_type IN ('private', 'team')),
					level VARCHAR(16) NOT NULL CHECK (level IN ('common', 'professional', 'flagship')),
					max_count BIGINT NOT NULL CHECK (max_count >= 0),
					max_bytes BIGINT NOT NULL CHECK (max_bytes >= 0),
					used_count BIGINT NOT NULL DEFAULT 0 CHECK (used_count >= 0),
					used_bytes BIGINT NOT NULL DEFAULT 0 CHECK (used_bytes >= 0),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					CHECK (used_count <= max_count),
					CHECK (used_bytes <= max_bytes)
				);

				CREATE INDEX IF NOT EXISTS idx_spaces_owner_id ON spaces(owner_id);
				CREATE UNIQUE INDEX IF NOT EXISTS uq_spaces_owner_type
					ON spaces(owner_id, space_type) WHERE NOT owner_is_admin;
			`,
		},
		{
			Version:     3,
			Description: "Create space_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS space_members (
					space_id BIGINT NOT NULL REFERENCES spaces(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(64) NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (space_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_space_members_user_id ON space_members(user_id);
			`,
		},
		{
			Version:     4,
			Description: "Create pictures table",
			SQL: `
				CREATE TABLE IF NOT EXISTS pictures (
					id BIGSERIAL PRIMARY KEY,
					owner_id BIGINT NOT NULL REFERENCES users(id),
					space_id BIGINT REFERENCES spaces(id),
					name VARCHAR(128) NOT NULL,
					introduction TEXT NOT NULL DEFAULT '',
					category VARCHAR(64) NOT NULL DEFAULT '',
					tags TEXT[] NOT NULL DEFAULT '{}',
					size_bytes BIGINT NOT NULL CHECK (size_bytes >= 0),
					format VARCHAR(64) NOT NULL,
					width INT NOT NULL DEFAULT 0,
					height INT NOT NULL DEFAULT 0,
					storage_key VARCHAR(255) NOT NULL,
					thumbnail_key VARCHAR(255),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_pictures_space_id ON pictures(space_id);
				CREATE INDEX IF NOT EXISTS idx_pictures_owner_id ON pictures(owner_id);
				CREATE INDEX IF NOT EXISTS idx_pictures_storage_key ON pictures(storage_key);
				CREATE INDEX IF NOT EXISTS idx_pictures_thumbnail_key ON pictures(thumbnail_key);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction,
// recording applied versions in schema_migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		logger.WithField("version", m.Version).Infof("Running migration: %s", m.Description)

		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
