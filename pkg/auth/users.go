package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

const userColumns = `id, account, display_name, role, oidc_subject, created_at, updated_at`

// UserStore persists accounts in PostgreSQL
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var (
		u       User
		role    string
		subject sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Account, &u.DisplayName, &role, &subject, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	if subject.Valid {
		s := subject.String
		u.OIDCSubject = &s
	}
	return &u, nil
}

// GetByID returns the user or a NotFound error
func (s *UserStore) GetByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to load user")
	}
	return u, nil
}

// Create inserts a local account
func (s *UserStore) Create(ctx context.Context, account, displayName string, role Role) (*User, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, apperr.InvalidArgument("account is required")
	}
	if !role.Valid() {
		return nil, apperr.InvalidArgument("unknown role %q", role)
	}
	if displayName == "" {
		displayName = account
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (account, display_name, role)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		account, displayName, string(role))
	u, err := scanUser(row)
	if err != nil {
		if _, dup := postgres.IsUniqueViolation(err); dup {
			return nil, apperr.InvalidArgument("account %q already exists", account)
		}
		return nil, apperr.StorageFailure(err, "failed to create user")
	}
	return u, nil
}

// ProvisionOIDC returns the account linked to subject, creating a regular
// user on first sight. Roles of existing accounts are never changed here.
func (s *UserStore) ProvisionOIDC(ctx context.Context, subject, account, displayName string) (*User, error) {
	if subject == "" {
		return nil, apperr.InvalidArgument("subject is required")
	}
	if account == "" {
		account = "oidc:" + subject
	}
	if displayName == "" {
		displayName = account
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (account, display_name, role, oidc_subject)
		VALUES ($1, $2, 'user', $3)
		ON CONFLICT (oidc_subject) DO UPDATE SET updated_at = NOW()
		RETURNING `+userColumns,
		account, displayName, subject)
	u, err := scanUser(row)
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to provision user for %s", account)
	}
	return u, nil
}
