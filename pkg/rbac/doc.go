// Package rbac decides what an identity may do inside a space.
//
// Permissions come from three places, checked in this order:
//
//  1. administrators hold the admin role's set everywhere
//  2. the owner of a private space holds the admin role's set there
//  3. members of a team space hold the set of their membership role
//
// Everything else, including the public library for non-administrators,
// resolves to the empty set. The role table is a YAML document embedded in
// the binary (roles.yaml) that can be replaced at startup.
//
//	gate := rbac.NewGate(rbac.NewResolver(roles, members), logger, metrics)
//	if err := gate.Require(ctx, identity, space.Scope(), rbac.PermissionPictureUpload); err != nil {
//		return err
//	}
package rbac
