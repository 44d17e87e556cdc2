package spaces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

const spaceColumns = `id, owner_id, owner_is_admin, name, space_type, level,
	max_count, max_bytes, used_count, used_bytes, created_at, updated_at`

// Store reads and writes space rows. Every method takes the Querier to run
// on so callers decide the transaction boundary.
type Store struct{}

// NewStore creates a space store
func NewStore() *Store {
	return &Store{}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSpace(row scanner) (*Space, error) {
	sp := &Space{}
	var spaceType, level string
	err := row.Scan(
		&sp.ID, &sp.OwnerID, &sp.OwnerIsAdmin, &sp.Name, &spaceType, &level,
		&sp.MaxCount, &sp.MaxBytes, &sp.UsedCount, &sp.UsedBytes, &sp.CreatedAt, &sp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sp.Type = Type(spaceType)
	sp.Level = Level(level)
	return sp, nil
}

// Insert writes a new space and fills its ID and timestamps
func (s *Store) Insert(ctx context.Context, q postgres.Querier, sp *Space) error {
	query := `
		INSERT INTO spaces (owner_id, owner_is_admin, name, space_type, level, max_count, max_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query,
		sp.OwnerID, sp.OwnerIsAdmin, sp.Name, string(sp.Type), string(sp.Level), sp.MaxCount, sp.MaxBytes,
	).Scan(&sp.ID, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert space: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, q postgres.Querier, query string, id int64) (*Space, error) {
	sp, err := scanSpace(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("space %d not found", id)
	}
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to load space")
	}
	return sp, nil
}

// Get loads a space or returns NotFound
func (s *Store) Get(ctx context.Context, q postgres.Querier, id int64) (*Space, error) {
	return s.get(ctx, q, `SELECT `+spaceColumns+` FROM spaces WHERE id = $1`, id)
}

// GetForUpdate loads a space and holds its row lock for the transaction
func (s *Store) GetForUpdate(ctx context.Context, q postgres.Querier, id int64) (*Space, error) {
	return s.get(ctx, q, `SELECT `+spaceColumns+` FROM spaces WHERE id = $1 FOR UPDATE`, id)
}

// ExistsByOwnerAndType reports whether the user already owns a space of type t
func (s *Store) ExistsByOwnerAndType(ctx context.Context, q postgres.Querier, ownerID int64, t Type) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM spaces WHERE owner_id = $1 AND space_type = $2)`,
		ownerID, string(t),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check existing space: %w", err)
	}
	return exists, nil
}

// ListForUser returns the spaces a user owns or is a member of
func (s *Store) ListForUser(ctx context.Context, q postgres.Querier, userID int64) ([]*Space, error) {
	query := `
		SELECT ` + spaceColumns + `
		FROM spaces
		WHERE owner_id = $1
		   OR id IN (SELECT space_id FROM space_members WHERE user_id = $1)
		ORDER BY id ASC
	`
	rows, err := q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to list spaces")
	}
	defer rows.Close()

	var result []*Space
	for rows.Next() {
		sp, err := scanSpace(rows)
		if err != nil {
			return nil, apperr.StorageFailure(err, "failed to scan space")
		}
		result = append(result, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageFailure(err, "failed to list spaces")
	}
	return result, nil
}

// Update writes the mutable fields of a space. Counters are owned by the
// quota ledger and are not touched here.
func (s *Store) Update(ctx context.Context, q postgres.Querier, sp *Space) error {
	query := `
		UPDATE spaces
		SET name = $1, level = $2, max_count = $3, max_bytes = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`
	err := q.QueryRowContext(ctx, query, sp.Name, string(sp.Level), sp.MaxCount, sp.MaxBytes, sp.ID).Scan(&sp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("space %d not found", sp.ID)
	}
	if err != nil {
		return apperr.StorageFailure(err, "failed to update space")
	}
	return nil
}

// Delete removes the space row
func (s *Store) Delete(ctx context.Context, q postgres.Querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM spaces WHERE id = $1`, id)
	if err != nil {
		return apperr.StorageFailure(err, "failed to delete space")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.StorageFailure(err, "failed to get rows affected")
	}
	if rows == 0 {
		return apperr.NotFound("space %d not found", id)
	}
	return nil
}
