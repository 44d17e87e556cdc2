package spaces

import (
	"context"
	"database/sql"
	"errors"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// MemberStore reads and writes team space memberships
type MemberStore struct {
	db *sql.DB
}

// NewMemberStore creates a membership store
func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

// MemberRole implements rbac.MembershipLookup
func (s *MemberStore) MemberRole(ctx context.Context, spaceID, userID int64) (string, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM space_members WHERE space_id = $1 AND user_id = $2`,
		spaceID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return role, true, nil
}

// Add inserts a membership
func (s *MemberStore) Add(ctx context.Context, q postgres.Querier, spaceID, userID int64, role string) (*Member, error) {
	m := &Member{SpaceID: spaceID, UserID: userID, Role: role}
	err := q.QueryRowContext(ctx, `
		INSERT INTO space_members (space_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`, spaceID, userID, role).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if _, dup := postgres.IsUniqueViolation(err); dup {
			return nil, apperr.InvalidArgument("user %d is already a member of space %d", userID, spaceID)
		}
		if _, missing := postgres.IsForeignKeyViolation(err); missing {
			return nil, apperr.NotFound("user %d not found", userID)
		}
		return nil, apperr.StorageFailure(err, "failed to add member")
	}
	return m, nil
}

// UpdateRole changes a member's role
func (s *MemberStore) UpdateRole(ctx context.Context, q postgres.Querier, spaceID, userID int64, role string) (*Member, error) {
	m := &Member{SpaceID: spaceID, UserID: userID, Role: role}
	err := q.QueryRowContext(ctx, `
		UPDATE space_members SET role = $1, updated_at = NOW()
		WHERE space_id = $2 AND user_id = $3
		RETURNING created_at, updated_at
	`, role, spaceID, userID).Scan(&m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user %d is not a member of space %d", userID, spaceID)
	}
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to update member role")
	}
	return m, nil
}

// Remove deletes a membership
func (s *MemberStore) Remove(ctx context.Context, q postgres.Querier, spaceID, userID int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM space_members WHERE space_id = $1 AND user_id = $2`, spaceID, userID)
	if err != nil {
		return apperr.StorageFailure(err, "failed to remove member")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return apperr.StorageFailure(err, "failed to get rows affected")
	}
	if rows == 0 {
		return apperr.NotFound("user %d is not a member of space %d", userID, spaceID)
	}
	return nil
}

// DeleteBySpace removes every membership of a space
func (s *MemberStore) DeleteBySpace(ctx context.Context, q postgres.Querier, spaceID int64) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM space_members WHERE space_id = $1`, spaceID); err != nil {
		return apperr.StorageFailure(err, "failed to delete members")
	}
	return nil
}

// List returns the members of a space, oldest first
func (s *MemberStore) List(ctx context.Context, q postgres.Querier, spaceID int64) ([]*Member, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT space_id, user_id, role, created_at, updated_at
		FROM space_members
		WHERE space_id = $1
		ORDER BY created_at ASC, user_id ASC
	`, spaceID)
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to list members")
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.SpaceID, &m.UserID, &m.Role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, apperr.StorageFailure(err, "failed to scan member")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageFailure(err, "failed to list members")
	}
	return members, nil
}
