package rbac

import (
	"context"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/contextkeys"
	"github.com/platinummonkey/gallery/pkg/observability"
)

// Gate is the authorization facade used by services and handlers
type Gate struct {
	resolver *Resolver
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGate creates a gate. logger and metrics may be nil.
func NewGate(resolver *Resolver, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Gate{resolver: resolver, logger: logger, metrics: metrics}
}

// Resolver returns the underlying resolver
func (g *Gate) Resolver() *Resolver {
	return g.resolver
}

// Permissions resolves the caller's permission set without enforcing anything
func (g *Gate) Permissions(ctx context.Context, identity *auth.Identity, space *Scope) (PermissionSet, error) {
	return g.resolver.Resolve(ctx, identity, space)
}

// Require fails unless identity holds perm in space
func (g *Gate) Require(ctx context.Context, identity *auth.Identity, space *Scope, perm Permission) error {
	return g.RequireAll(ctx, identity, space, perm)
}

// RequireAll fails unless identity holds every perm in space. The set is
// resolved once.
func (g *Gate) RequireAll(ctx context.Context, identity *auth.Identity, space *Scope, perms ...Permission) error {
	_, err := g.Authorize(ctx, identity, space, perms...)
	return err
}

// Authorize is RequireAll that also returns the resolved set on success
func (g *Gate) Authorize(ctx context.Context, identity *auth.Identity, space *Scope, perms ...Permission) (PermissionSet, error) {
	if identity == nil {
		for _, perm := range perms {
			g.metrics.RecordDenial(string(perm), "unauthenticated")
		}
		return PermissionSet{}, apperr.AuthenticationRequired()
	}

	set, err := g.resolver.Resolve(ctx, identity, space)
	if err != nil {
		return PermissionSet{}, apperr.StorageFailure(err, "failed to resolve permissions")
	}

	for _, perm := range perms {
		if set.Has(perm) {
			continue
		}
		g.metrics.RecordDenial(string(perm), "missing_permission")
		fields := map[string]interface{}{
			"user_id":    identity.UserID,
			"permission": string(perm),
		}
		if space != nil {
			fields["space_id"] = space.SpaceID
		}
		if requestID := contextkeys.RequestID(ctx); requestID != "" {
			fields["request_id"] = requestID
		}
		g.logger.WithFields(fields).Debug("permission denied")
		return PermissionSet{}, apperr.PermissionDenied("missing permission %s", perm)
	}
	return set, nil
}
