package pictures

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/quota"
	"github.com/platinummonkey/gallery/pkg/rbac"
	"github.com/platinummonkey/gallery/pkg/spaces"
	"github.com/platinummonkey/gallery/pkg/storage"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

// DefaultMaxUploadBytes is the per-upload limit when none is configured
const DefaultMaxUploadBytes = 20 * 1024 * 1024

// SpaceLoader loads the space a picture belongs to
type SpaceLoader interface {
	Get(ctx context.Context, q postgres.Querier, id int64) (*spaces.Space, error)
}

// Scheduler queues storage cleanup
type Scheduler interface {
	Schedule(keys ...string)
}

// ReadPool hands out connections for read-only queries, typically a
// postgres.ConnectionManager spreading load over replicas
type ReadPool interface {
	Replica() *sql.DB
}

// ServiceDeps groups the collaborators of Service
type ServiceDeps struct {
	DB             *sql.DB
	Reads          ReadPool // serves listings; nil lists from DB
	Store          *Store
	Spaces         SpaceLoader
	Gate           *rbac.Gate
	Ledger         *quota.Ledger
	Objects        storage.ObjectStore
	Cleaner        Scheduler
	ContentLocks   *spaces.KeyedMutex[string] // shared with the Cleaner; nil creates a private table
	MaxUploadBytes int64
	Logger         *observability.Logger
}

// Service implements the picture lifecycle. Every quota-relevant write
// commits together with its ledger delta.
type Service struct {
	db        *sql.DB
	reads     ReadPool
	tx        postgres.TxRunner
	store     *Store
	spaces    SpaceLoader
	gate      *rbac.Gate
	ledger    *quota.Ledger
	objects   storage.ObjectStore
	cleaner   Scheduler
	locks     *spaces.KeyedMutex[string]
	maxUpload int64
	logger    *observability.Logger
}

// NewService creates a picture service
func NewService(deps ServiceDeps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	locks := deps.ContentLocks
	if locks == nil {
		locks = spaces.NewKeyedMutex[string]()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Service{
		db:        deps.DB,
		reads:     deps.Reads,
		tx:        postgres.DBRunner{DB: deps.DB},
		store:     deps.Store,
		spaces:    deps.Spaces,
		gate:      deps.Gate,
		ledger:    deps.Ledger,
		objects:   deps.Objects,
		cleaner:   deps.Cleaner,
		locks:     locks,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// content is an upload read into memory and identified
type content struct {
	data   []byte
	digest string
	key    string
	mime   string
	format string
	width  int
	height int
}

func (s *Service) readContent(r io.Reader) (*content, error) {
	if r == nil {
		return nil, apperr.InvalidArgument("picture content is required")
	}
	data, err := io.ReadAll(io.LimitReader(r, s.maxUpload+1))
	if err != nil {
		return nil, apperr.InvalidArgument("failed to read upload: %v", err)
	}
	if len(data) == 0 {
		return nil, apperr.InvalidArgument("picture content is empty")
	}
	if int64(len(data)) > s.maxUpload {
		return nil, apperr.InvalidArgument("picture exceeds the %d byte upload limit", s.maxUpload)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, apperr.InvalidArgument("unsupported content type %s", mt.String())
	}

	sum := sha256.Sum256(data)
	c := &content{
		data:   data,
		digest: hex.EncodeToString(sum[:]),
		key:    storage.ContentKey(sum),
		mime:   mt.String(),
		format: strings.TrimPrefix(mt.Extension(), "."),
	}
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		c.width, c.height = cfg.Width, cfg.Height
	}
	return c, nil
}

// storeContent writes the bytes unless an identical object is already
// present. Callers hold the key's lock until the row referencing it commits.
func (s *Service) storeContent(ctx context.Context, c *content) error {
	exists, err := s.objects.ObjectExists(ctx, c.key)
	if err != nil {
		return apperr.StorageFailure(err, "failed to check stored object")
	}
	if exists {
		return nil
	}
	if err := s.objects.PutObject(ctx, c.key, bytes.NewReader(c.data), int64(len(c.data)), c.mime); err != nil {
		return apperr.StorageFailure(err, "failed to store picture")
	}
	return nil
}

func (s *Service) loadSpace(ctx context.Context, spaceID *int64) (*spaces.Space, error) {
	if spaceID == nil {
		return nil, nil
	}
	return s.spaces.Get(ctx, s.db, *spaceID)
}

// authorize checks perm on an existing picture. Public-library pictures are
// viewable by anyone and otherwise managed by their owner or an administrator.
func (s *Service) authorize(ctx context.Context, identity *auth.Identity, p *Picture, perm rbac.Permission) error {
	if p.SpaceID == nil {
		if perm == rbac.PermissionPictureView {
			return nil
		}
		if identity == nil {
			return apperr.AuthenticationRequired()
		}
		if identity.IsAdmin() || identity.UserID == p.OwnerID {
			return nil
		}
		return apperr.PermissionDenied("only the owner or an administrator may change picture %d", p.ID)
	}

	sp, err := s.spaces.Get(ctx, s.db, *p.SpaceID)
	if err != nil {
		return err
	}
	return s.gate.Require(ctx, identity, sp.Scope(), perm)
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.InvalidArgument("picture name must not be blank")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperr.InvalidArgument("picture name must be at most %d characters", MaxNameLength)
	}
	return name, nil
}

func sameSpace(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Upload stores a new picture, or replaces the content of an existing one
// when req.PictureID is set
func (s *Service) Upload(ctx context.Context, identity *auth.Identity, req UploadRequest) (*Picture, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}
	if req.PictureID != nil {
		return s.replace(ctx, identity, *req.PictureID, req)
	}

	sp, err := s.loadSpace(ctx, req.SpaceID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Require(ctx, identity, sp.Scope(), rbac.PermissionPictureUpload); err != nil {
		return nil, err
	}

	c, err := s.readContent(req.Content)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if strings.TrimSpace(name) == "" {
		name = c.digest[:12] + "." + c.format
	}
	if name, err = validateName(name); err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, c.key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.storeContent(ctx, c); err != nil {
		return nil, err
	}

	p := &Picture{
		OwnerID:    identity.UserID,
		SpaceID:    req.SpaceID,
		Name:       name,
		Tags:       []string{},
		SizeBytes:  int64(len(c.data)),
		Format:     c.format,
		Width:      c.width,
		Height:     c.height,
		StorageKey: c.key,
	}

	err = s.tx.InTx(ctx, func(q postgres.Querier) error {
		if err := s.store.Insert(ctx, q, p); err != nil {
			return err
		}
		if p.SpaceID != nil {
			return s.ledger.Reserve(ctx, q, *p.SpaceID, 1, p.SizeBytes)
		}
		return nil
	})
	if err != nil {
		s.cleaner.Schedule(c.key)
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"picture_id": p.ID,
		"user_id":    identity.UserID,
		"size_bytes": p.SizeBytes,
	}).Info("picture uploaded")
	return p, nil
}

func (s *Service) replace(ctx context.Context, identity *auth.Identity, pictureID int64, req UploadRequest) (*Picture, error) {
	existing, err := s.store.Get(ctx, s.db, pictureID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, identity, existing, rbac.PermissionPictureEdit); err != nil {
		return nil, err
	}
	if !sameSpace(existing.SpaceID, req.SpaceID) {
		return nil, apperr.InvalidArgument("picture %d belongs to a different space", pictureID)
	}

	c, err := s.readContent(req.Content)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(ctx, c.key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.storeContent(ctx, c); err != nil {
		return nil, err
	}

	var (
		updated *Picture
		oldKeys []string
	)
	err = s.tx.InTx(ctx, func(q postgres.Querier) error {
		p, err := s.store.GetForUpdate(ctx, q, pictureID)
		if err != nil {
			return err
		}
		if !sameSpace(p.SpaceID, existing.SpaceID) {
			return apperr.InvalidArgument("picture %d moved while being replaced", pictureID)
		}

		delta := int64(len(c.data)) - p.SizeBytes
		oldKeys = p.Keys()

		p.SizeBytes = int64(len(c.data))
		p.Format = c.format
		p.Width, p.Height = c.width, c.height
		p.StorageKey = c.key
		p.ThumbnailKey = nil
		if err := s.store.UpdateContent(ctx, q, p); err != nil {
			return err
		}
		if p.SpaceID != nil {
			if err := s.ledger.Adjust(ctx, q, *p.SpaceID, delta); err != nil {
				return err
			}
		}
		updated = p
		return nil
	})
	if err != nil {
		s.cleaner.Schedule(c.key)
		return nil, err
	}

	var stale []string
	for _, key := range oldKeys {
		if key != c.key {
			stale = append(stale, key)
		}
	}
	if len(stale) > 0 {
		s.cleaner.Schedule(stale...)
	}
	return updated, nil
}

// Delete removes a picture, releases its quota and schedules cleanup of
// its objects
func (s *Service) Delete(ctx context.Context, identity *auth.Identity, id int64) error {
	if identity == nil {
		return apperr.AuthenticationRequired()
	}
	p, err := s.store.Get(ctx, s.db, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, identity, p, rbac.PermissionPictureDelete); err != nil {
		return err
	}

	var deleted *Picture
	err = s.tx.InTx(ctx, func(q postgres.Querier) error {
		d, err := s.store.Delete(ctx, q, id)
		if err != nil {
			return err
		}
		if d.SpaceID != nil {
			if err := s.ledger.Release(ctx, q, *d.SpaceID, 1, d.SizeBytes); err != nil {
				return err
			}
		}
		deleted = d
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"picture_id": id,
		"user_id":    identity.UserID,
	}).Info("picture deleted")
	s.cleaner.Schedule(deleted.Keys()...)
	return nil
}

// Edit changes picture metadata. The row is re-read under a lock so
// concurrent edits apply one after the other.
func (s *Service) Edit(ctx context.Context, identity *auth.Identity, id int64, req EditRequest) (*Picture, error) {
	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}
	existing, err := s.store.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, identity, existing, rbac.PermissionPictureEdit); err != nil {
		return nil, err
	}

	var name, category *string
	if req.Name != nil {
		n, err := validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		name = &n
	}
	if req.Category != nil {
		c := strings.TrimSpace(*req.Category)
		if utf8.RuneCountInString(c) > MaxCategoryLength {
			return nil, apperr.InvalidArgument("picture category must be at most %d characters", MaxCategoryLength)
		}
		category = &c
	}
	var tags []string
	if req.SetTags {
		if tags, err = normalizeTags(req.Tags); err != nil {
			return nil, err
		}
	}

	var updated *Picture
	err = s.tx.InTx(ctx, func(q postgres.Querier) error {
		p, err := s.store.GetForUpdate(ctx, q, id)
		if err != nil {
			return err
		}
		if !sameSpace(p.SpaceID, existing.SpaceID) {
			return apperr.InvalidArgument("picture %d moved while being edited", id)
		}
		if name != nil {
			p.Name = *name
		}
		if req.Introduction != nil {
			p.Introduction = *req.Introduction
		}
		if category != nil {
			p.Category = *category
		}
		if req.SetTags {
			p.Tags = tags
		}
		if err := s.store.UpdateMetadata(ctx, q, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func normalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) > MaxTags {
		return nil, apperr.InvalidArgument("a picture may have at most %d tags", MaxTags)
	}
	return out, nil
}

// Get returns a picture the caller may view
func (s *Service) Get(ctx context.Context, identity *auth.Identity, id int64) (*Picture, error) {
	p, err := s.store.Get(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, identity, p, rbac.PermissionPictureView); err != nil {
		return nil, err
	}
	return p, nil
}

// Open returns the stored bytes of a picture the caller may view
func (s *Service) Open(ctx context.Context, identity *auth.Identity, id int64) (*Picture, io.ReadCloser, error) {
	p, err := s.Get(ctx, identity, id)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.objects.GetObject(ctx, p.StorageKey)
	if err != nil {
		return nil, nil, apperr.StorageFailure(err, "failed to read picture %d", id)
	}
	return p, body, nil
}

// List returns a page of pictures from a space the caller may view, or from
// the public library
func (s *Service) List(ctx context.Context, identity *auth.Identity, q ListQuery) ([]*Picture, error) {
	if q.SpaceID != nil {
		sp, err := s.spaces.Get(ctx, s.db, *q.SpaceID)
		if err != nil {
			return nil, err
		}
		if err := s.gate.Require(ctx, identity, sp.Scope(), rbac.PermissionPictureView); err != nil {
			return nil, err
		}
	}
	return s.store.List(ctx, s.readDB(), q)
}

func (s *Service) readDB() *sql.DB {
	if s.reads == nil {
		return s.db
	}
	return s.reads.Replica()
}

// FindPicture loads a picture without any permission check
func (s *Service) FindPicture(ctx context.Context, id int64) (*Picture, error) {
	return s.store.Get(ctx, s.db, id)
}
