package spaces

import (
	"context"
	"database/sql"
	"strings"
	"unicode/utf8"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/quota"
	"github.com/platinummonkey/gallery/pkg/rbac"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// PictureRemover deletes every picture of a space inside the caller's
// transaction and returns the storage keys they referenced
type PictureRemover interface {
	DeleteBySpace(ctx context.Context, q postgres.Querier, spaceID int64) ([]string, error)
}

// StorageCleaner removes objects that are no longer referenced
type StorageCleaner interface {
	Schedule(keys ...string)
}

// UsageReader reads a space's quota counters
type UsageReader interface {
	Usage(ctx context.Context, q postgres.Querier, spaceID int64) (*quota.Usage, error)
}

// Service implements space and membership management
type Service struct {
	db       *sql.DB
	tx       postgres.TxRunner
	store    *Store
	members  *MemberStore
	arbiter  *Arbiter
	gate     *rbac.Gate
	pictures PictureRemover
	cleaner  StorageCleaner
	usage    UsageReader
	logger   *observability.Logger
}

// ServiceDeps groups the collaborators of Service
type ServiceDeps struct {
	DB       *sql.DB
	Store    *Store
	Members  *MemberStore
	Arbiter  *Arbiter
	Gate     *rbac.Gate
	Pictures PictureRemover
	Cleaner  StorageCleaner
	Usage    UsageReader // nil reads through a plain quota.Ledger
	Logger   *observability.Logger
}

// NewService creates a space service
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	var usage UsageReader = deps.Usage
	if usage == nil {
		usage = quota.NewLedger(logger, nil)
	}
	return &Service{
		db:       deps.DB,
		tx:       postgres.DBRunner{DB: deps.DB},
		store:    deps.Store,
		members:  deps.Members,
		arbiter:  deps.Arbiter,
		gate:     deps.Gate,
		pictures: deps.Pictures,
		cleaner:  deps.Cleaner,
		usage:    usage,
		logger:   logger,
	}
}

func validateName(name string) error {
	if utf8.RuneCountInString(name) > MaxNameLength {
		return apperr.InvalidArgument("space name must be at most %d characters", MaxNameLength)
	}
	return nil
}

// Create creates a space, filling defaults for missing fields
func (s *Service) Create(ctx context.Context, identity *auth.Identity, req CreateRequest) (*Space, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = DefaultName
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	spaceType := req.Type
	if spaceType == "" {
		spaceType = TypePrivate
	}
	if !spaceType.Valid() {
		return nil, apperr.InvalidArgument("unknown space type %q", spaceType)
	}

	level := req.Level
	if level == "" {
		level = LevelCommon
	}
	if !level.Valid() {
		return nil, apperr.InvalidArgument("unknown space level %q", level)
	}
	if level != LevelCommon && !identity.IsAdmin() {
		return nil, apperr.PermissionDenied("only administrators may create %s spaces", level)
	}

	limits := level.Limits()
	return s.arbiter.Create(ctx, identity, &Space{
		Name:     name,
		Type:     spaceType,
		Level:    level,
		MaxCount: limits.MaxCount,
		MaxBytes: limits.MaxBytes,
	})
}

// Get returns a space with the caller's permissions
func (s *Service) Get(ctx context.Context, identity *auth.Identity, id int64) (*View, error) {
	sp, err := s.store.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	perms, err := s.gate.Authorize(ctx, identity, sp.Scope(), rbac.PermissionPictureView)
	if err != nil {
		return nil, err
	}
	return &View{Space: sp, Permissions: perms.Strings()}, nil
}

// Usage reports how full a space is. Anyone who may view its pictures may
// read it.
func (s *Service) Usage(ctx context.Context, identity *auth.Identity, id int64) (*UsageReport, error) {
	sp, err := s.store.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Require(ctx, identity, sp.Scope(), rbac.PermissionPictureView); err != nil {
		return nil, err
	}
	u, err := s.usage.Usage(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return newUsageReport(id, u), nil
}

// Permissions returns the caller's permissions in a space without
// requiring any of them
func (s *Service) Permissions(ctx context.Context, identity *auth.Identity, id int64) ([]string, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}
	sp, err := s.store.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	perms, err := s.gate.Permissions(ctx, identity, sp.Scope())
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to resolve permissions")
	}
	return perms.Strings(), nil
}

// List returns the caller's spaces
func (s *Service) List(ctx context.Context, identity *auth.Identity) ([]*Space, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}
	return s.store.ListForUser(ctx, s.db, identity.UserID)
}

func canAdminister(identity *auth.Identity, sp *Space) bool {
	return identity.IsAdmin() || (identity != nil && sp.OwnerID == identity.UserID)
}

// Update renames a space or, for administrators, changes its level and
// limits. Limits follow the new level unless given explicitly and may not
// drop below current usage.
func (s *Service) Update(ctx context.Context, identity *auth.Identity, id int64, req UpdateRequest) (*Space, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}
	changesLimits := req.Level != nil || req.MaxCount != nil || req.MaxBytes != nil
	if changesLimits && !identity.IsAdmin() {
		return nil, apperr.PermissionDenied("only administrators may change space level or limits")
	}
	if req.Level != nil && !req.Level.Valid() {
		return nil, apperr.InvalidArgument("unknown space level %q", *req.Level)
	}
	if (req.MaxCount != nil && *req.MaxCount < 0) || (req.MaxBytes != nil && *req.MaxBytes < 0) {
		return nil, apperr.InvalidArgument("space limits must be non-negative")
	}

	var updated *Space
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		sp, err := s.store.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if !canAdminister(identity, sp) {
			return apperr.PermissionDenied("only the owner or an administrator may edit space %d", id)
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return apperr.InvalidArgument("space name must not be blank")
			}
			if err := validateName(name); err != nil {
				return err
			}
			sp.Name = name
		}

		if req.Level != nil {
			sp.Level = *req.Level
			limits := sp.Level.Limits()
			sp.MaxCount, sp.MaxBytes = limits.MaxCount, limits.MaxBytes
		}
		if req.MaxCount != nil {
			sp.MaxCount = *req.MaxCount
		}
		if req.MaxBytes != nil {
			sp.MaxBytes = *req.MaxBytes
		}
		if sp.MaxCount < sp.UsedCount {
			return apperr.InvalidArgument("max count %d is below current usage %d", sp.MaxCount, sp.UsedCount)
		}
		if sp.MaxBytes < sp.UsedBytes {
			return apperr.InvalidArgument("max bytes %d is below current usage %d", sp.MaxBytes, sp.UsedBytes)
		}

		if err := s.store.Update(ctx, q, sp); err != nil {
			return err
		}
		updated = sp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a space with its pictures and memberships, then schedules
// cleanup of the objects they referenced
func (s *Service) Delete(ctx context.Context, identity *auth.Identity, id int64) error {
	if identity == nil {
		return apperr.AuthenticationRequired()
	}

	var keys []string
	err := s.tx.InTx(ctx, func(q postgres.Querier) error {
		sp, err := s.store.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if !canAdminister(identity, sp) {
			return apperr.PermissionDenied("only the owner or an administrator may delete space %d", id)
		}

		keys, err = s.pictures.DeleteBySpace(ctx, q, id)
		if err != nil {
			return err
		}
		if err := s.members.DeleteBySpace(ctx, q, id); err != nil {
			return err
		}
		return s.store.Delete(ctx, q, id)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"space_id": id,
		"user_id":  identity.UserID,
		"objects":  len(keys),
	}).Info("space deleted")

	if len(keys) > 0 {
		s.cleaner.Schedule(keys...)
	}
	return nil
}

// loadTeamSpace loads a team space and requires spaceUser:manage on it
func (s *Service) loadTeamSpace(ctx context.Context, identity *auth.Identity, spaceID int64) (*Space, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}
	sp, err := s.store.Get(ctx, s.db, spaceID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Require(ctx, identity, sp.Scope(), rbac.PermissionSpaceUserManage); err != nil {
		return nil, err
	}
	if sp.Type != TypeTeam {
		return nil, apperr.InvalidArgument("space %d is not a team space", spaceID)
	}
	return sp, nil
}

func (s *Service) validateRole(role string) error {
	if !s.gate.Resolver().Roles().HasRole(role) {
		return apperr.InvalidArgument("unknown role %q", role)
	}
	return nil
}

// AddMember adds a user to a team space
func (s *Service) AddMember(ctx context.Context, identity *auth.Identity, spaceID, userID int64, role string) (*Member, error) {
	if _, err := s.loadTeamSpace(ctx, identity, spaceID); err != nil {
		return nil, err
	}
	if err := s.validateRole(role); err != nil {
		return nil, err
	}
	return s.members.Add(ctx, s.db, spaceID, userID, role)
}

// UpdateMember changes a member's role. The owner keeps the admin role.
func (s *Service) UpdateMember(ctx context.Context, identity *auth.Identity, spaceID, userID int64, role string) (*Member, error) {
	sp, err := s.loadTeamSpace(ctx, identity, spaceID)
	if err != nil {
		return nil, err
	}
	if err := s.validateRole(role); err != nil {
		return nil, err
	}
	if userID == sp.OwnerID && role != rbac.RoleAdmin {
		return nil, apperr.InvalidArgument("the space owner must keep the %s role", rbac.RoleAdmin)
	}
	return s.members.UpdateRole(ctx, s.db, spaceID, userID, role)
}

// RemoveMember removes a user from a team space. The owner cannot be removed.
func (s *Service) RemoveMember(ctx context.Context, identity *auth.Identity, spaceID, userID int64) error {
	sp, err := s.loadTeamSpace(ctx, identity, spaceID)
	if err != nil {
		return err
	}
	if userID == sp.OwnerID {
		return apperr.InvalidArgument("the space owner cannot be removed")
	}
	return s.members.Remove(ctx, s.db, spaceID, userID)
}

// ListMembers lists the members of a team space
func (s *Service) ListMembers(ctx context.Context, identity *auth.Identity, spaceID int64) ([]*Member, error) {
	if _, err := s.loadTeamSpace(ctx, identity, spaceID); err != nil {
		return nil, err
	}
	return s.members.List(ctx, s.db, spaceID)
}

// FindSpace loads a space without any permission check
func (s *Service) FindSpace(ctx context.Context, id int64) (*Space, error) {
	return s.store.Get(ctx, s.db, id)
}
