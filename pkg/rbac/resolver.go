package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gallery/pkg/auth"
)

// SpaceType distinguishes single-owner spaces from shared ones
type SpaceType string

const (
	SpacePrivate SpaceType = "private"
	SpaceTeam    SpaceType = "team"
)

// Valid reports whether t is a known space type
func (t SpaceType) Valid() bool {
	return t == SpacePrivate || t == SpaceTeam
}

// Scope is the part of a space that permission resolution looks at.
// A nil *Scope is the public library.
type Scope struct {
	SpaceID int64
	OwnerID int64
	Type    SpaceType
}

// MembershipLookup finds a user's role in a team space
type MembershipLookup interface {
	MemberRole(ctx context.Context, spaceID, userID int64) (role string, found bool, err error)
}

// Resolver computes the permissions an identity holds in a scope
type Resolver struct {
	roles   *RoleConfig
	members MembershipLookup
}

// NewResolver creates a resolver
func NewResolver(roles *RoleConfig, members MembershipLookup) *Resolver {
	return &Resolver{roles: roles, members: members}
}

// Roles returns the role table in use
func (r *Resolver) Roles() *RoleConfig {
	return r.roles
}

// Resolve returns the permission set of identity in space. Lookup failures
// are returned as errors and never as grants.
func (r *Resolver) Resolve(ctx context.Context, identity *auth.Identity, space *Scope) (PermissionSet, error) {
	if identity.IsAdmin() {
		return r.roles.AdminSet(), nil
	}
	if identity == nil || space == nil {
		return PermissionSet{}, nil
	}

	switch space.Type {
	case SpacePrivate:
		if space.OwnerID == identity.UserID {
			return r.roles.AdminSet(), nil
		}
		return PermissionSet{}, nil
	case SpaceTeam:
		role, found, err := r.members.MemberRole(ctx, space.SpaceID, identity.UserID)
		if err != nil {
			return PermissionSet{}, fmt.Errorf("failed to look up membership: %w", err)
		}
		if !found {
			return PermissionSet{}, nil
		}
		return r.roles.PermissionsOf(role), nil
	default:
		return PermissionSet{}, nil
	}
}
