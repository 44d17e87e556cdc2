package auth

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/gallery/pkg/contextkeys"
)

// ErrInvalidToken means a credential was not recognized. Chained
// authenticators treat it as "try the next one".
var ErrInvalidToken = errors.New("invalid or expired token")

// Role is the account-level role flag
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the authenticated caller
type Identity struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

// IsAdmin reports whether the identity is an administrator. Safe on nil.
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role == RoleAdmin
}

// User is a persisted account
type User struct {
	ID          int64     `json:"id"`
	Account     string    `json:"account"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	OIDCSubject *string   `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Identity returns the identity carried by requests made as u
func (u *User) Identity() *Identity {
	return &Identity{UserID: u.ID, Role: u.Role}
}

// Authenticator resolves a bearer credential to an identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// WithIdentity stores the identity in ctx
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return contextkeys.WithIdentity(ctx, identity)
}

// CurrentIdentity returns the identity stored by the auth middleware, or nil
func CurrentIdentity(ctx context.Context) *Identity {
	identity, _ := contextkeys.Identity(ctx).(*Identity)
	return identity
}
