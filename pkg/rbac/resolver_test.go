package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/auth"
)

type memberKey struct{ spaceID, userID int64 }

type fakeMembers struct {
	roles map[memberKey]string
	err   error
	calls int
}

func (f *fakeMembers) MemberRole(_ context.Context, spaceID, userID int64) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	role, ok := f.roles[memberKey{spaceID, userID}]
	return role, ok, nil
}

var (
	admin    = &auth.Identity{UserID: 1, Role: auth.RoleAdmin}
	owner    = &auth.Identity{UserID: 10, Role: auth.RoleUser}
	stranger = &auth.Identity{UserID: 20, Role: auth.RoleUser}
	editor   = &auth.Identity{UserID: 30, Role: auth.RoleUser}

	privateSpace = &Scope{SpaceID: 100, OwnerID: 10, Type: SpacePrivate}
	teamSpace    = &Scope{SpaceID: 200, OwnerID: 10, Type: SpaceTeam}
)

func newTestResolver() (*Resolver, *fakeMembers) {
	members := &fakeMembers{roles: map[memberKey]string{
		{200, 10}: "admin",
		{200, 30}: "editor",
		{200, 40}: "retired",
	}}
	return NewResolver(DefaultRoleConfig(), members), members
}

func TestResolve(t *testing.T) {
	resolver, _ := newTestResolver()
	adminSet := DefaultRoleConfig().AdminSet().Strings()

	tests := []struct {
		name     string
		identity *auth.Identity
		space    *Scope
		want     []string
	}{
		{name: "admin in public library", identity: admin, space: nil, want: adminSet},
		{name: "admin in someone's private space", identity: admin, space: privateSpace, want: adminSet},
		{name: "admin in team space without membership", identity: admin, space: teamSpace, want: adminSet},
		{name: "anonymous", identity: nil, space: privateSpace, want: []string{}},
		{name: "user in public library", identity: owner, space: nil, want: []string{}},
		{name: "private owner", identity: owner, space: privateSpace, want: adminSet},
		{name: "private non-owner", identity: stranger, space: privateSpace, want: []string{}},
		{name: "team admin member", identity: owner, space: teamSpace, want: adminSet},
		{name: "team editor", identity: editor, space: teamSpace, want: []string{"picture:view", "picture:upload", "picture:edit", "picture:delete"}},
		{name: "team non-member", identity: stranger, space: teamSpace, want: []string{}},
		{name: "team member with unknown role", identity: &auth.Identity{UserID: 40, Role: auth.RoleUser}, space: teamSpace, want: []string{}},
		{name: "unknown space type", identity: owner, space: &Scope{SpaceID: 1, OwnerID: 10, Type: "shared"}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := resolver.Resolve(context.Background(), tt.identity, tt.space)
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.Strings())
		})
	}
}

func TestResolve_AdminSkipsMembershipLookup(t *testing.T) {
	resolver, members := newTestResolver()

	_, err := resolver.Resolve(context.Background(), admin, teamSpace)
	require.NoError(t, err)
	assert.Zero(t, members.calls)
}

func TestResolve_LookupFailureIsNotAGrant(t *testing.T) {
	resolver, members := newTestResolver()
	members.err = errors.New("connection refused")

	set, err := resolver.Resolve(context.Background(), editor, teamSpace)
	require.Error(t, err)
	assert.True(t, set.IsEmpty())
}
