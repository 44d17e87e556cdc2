package spaces

import (
	"context"
	"time"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/rbac"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// SpaceWriter is the part of Store the arbiter needs
type SpaceWriter interface {
	ExistsByOwnerAndType(ctx context.Context, q postgres.Querier, ownerID int64, t Type) (bool, error)
	Insert(ctx context.Context, q postgres.Querier, sp *Space) error
}

// MemberWriter is the part of MemberStore the arbiter needs
type MemberWriter interface {
	Add(ctx context.Context, q postgres.Querier, spaceID, userID int64, role string) (*Member, error)
}

// Arbiter serializes space creation per user so a non-administrator ends
// up with at most one space of each type
type Arbiter struct {
	tx      postgres.TxRunner
	spaces  SpaceWriter
	members MemberWriter
	locks   *KeyedMutex[int64]
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewArbiter creates an arbiter
func NewArbiter(tx postgres.TxRunner, spaces SpaceWriter, members MemberWriter, logger *observability.Logger, metrics *observability.Metrics) *Arbiter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Arbiter{
		tx:      tx,
		spaces:  spaces,
		members: members,
		locks:   NewKeyedMutex[int64](),
		logger:  logger,
		metrics: metrics,
	}
}

// Create inserts a copy of req owned by identity and returns it. The
// uniqueness check, the insert and the creator's admin membership (team
// spaces) commit together while the creator's scope is held. req is never
// modified.
func (a *Arbiter) Create(ctx context.Context, identity *auth.Identity, req *Space) (*Space, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}

	start := time.Now()
	unlock, err := a.locks.Lock(ctx, identity.UserID)
	if err != nil {
		a.metrics.RecordSpaceCreation(string(req.Type), "cancelled", time.Since(start))
		return nil, err
	}
	defer unlock()
	wait := time.Since(start)

	sp := *req
	sp.OwnerID = identity.UserID
	sp.OwnerIsAdmin = identity.IsAdmin()

	err = a.tx.InTx(ctx, func(q postgres.Querier) error {
		if !identity.IsAdmin() {
			exists, err := a.spaces.ExistsByOwnerAndType(ctx, q, identity.UserID, sp.Type)
			if err != nil {
				return apperr.StorageFailure(err, "failed to check existing space")
			}
			if exists {
				return apperr.DuplicateSpace(identity.UserID, string(sp.Type))
			}
		}

		if err := a.spaces.Insert(ctx, q, &sp); err != nil {
			if _, dup := postgres.IsUniqueViolation(err); dup {
				return apperr.DuplicateSpace(identity.UserID, string(sp.Type))
			}
			return apperr.StorageFailure(err, "failed to create space")
		}

		if sp.Type == TypeTeam {
			if _, err := a.members.Add(ctx, q, sp.ID, identity.UserID, rbac.RoleAdmin); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
		a.metrics.RecordSpaceCreation(string(sp.Type), "created", wait)
	case apperr.KindOf(err) == apperr.KindDuplicateSpace:
		a.metrics.RecordSpaceCreation(string(sp.Type), "duplicate", wait)
		return nil, err
	default:
		a.metrics.RecordSpaceCreation(string(sp.Type), "error", wait)
		return nil, err
	}

	a.logger.WithFields(map[string]interface{}{
		"space_id": sp.ID,
		"owner_id": sp.OwnerID,
		"type":     string(sp.Type),
		"level":    string(sp.Level),
	}).Info("space created")
	return &sp, nil
}
