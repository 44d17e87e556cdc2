package pictures

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

const pictureColumns = `id, owner_id, space_id, name, introduction, category, tags,
	size_bytes, format, width, height, storage_key, thumbnail_key, created_at, updated_at`

// Store reads and writes picture rows on a caller-provided Querier
type Store struct{}

// NewStore creates a picture store
func NewStore() *Store {
	return &Store{}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPicture(row scanner) (*Picture, error) {
	p := &Picture{}
	var (
		spaceID   sql.NullInt64
		tags      pq.StringArray
		thumbnail sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.OwnerID, &spaceID, &p.Name, &p.Introduction, &p.Category, &tags,
		&p.SizeBytes, &p.Format, &p.Width, &p.Height, &p.StorageKey, &thumbnail, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if spaceID.Valid {
		id := spaceID.Int64
		p.SpaceID = &id
	}
	if thumbnail.Valid {
		key := thumbnail.String
		p.ThumbnailKey = &key
	}
	p.Tags = []string(tags)
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return p, nil
}

func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// Insert writes a new picture and fills its ID and timestamps
func (s *Store) Insert(ctx context.Context, q postgres.Querier, p *Picture) error {
	query := `
		INSERT INTO pictures (owner_id, space_id, name, introduction, category, tags,
		                      size_bytes, format, width, height, storage_key, thumbnail_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`
	err := q.QueryRowContext(ctx, query,
		p.OwnerID, nullableInt64(p.SpaceID), p.Name, p.Introduction, p.Category, pq.Array(p.Tags),
		p.SizeBytes, p.Format, p.Width, p.Height, p.StorageKey, nullableString(p.ThumbnailKey),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.StorageFailure(err, "failed to insert picture")
	}
	return nil
}

func (s *Store) get(ctx context.Context, q postgres.Querier, query string, id int64) (*Picture, error) {
	p, err := scanPicture(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("picture %d not found", id)
	}
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to load picture")
	}
	return p, nil
}

// Get loads a picture or returns NotFound
func (s *Store) Get(ctx context.Context, q postgres.Querier, id int64) (*Picture, error) {
	return s.get(ctx, q, `SELECT `+pictureColumns+` FROM pictures WHERE id = $1`, id)
}

// GetForUpdate loads a picture holding its row lock
func (s *Store) GetForUpdate(ctx context.Context, q postgres.Querier, id int64) (*Picture, error) {
	return s.get(ctx, q, `SELECT `+pictureColumns+` FROM pictures WHERE id = $1 FOR UPDATE`, id)
}

// UpdateContent points a picture at new bytes
func (s *Store) UpdateContent(ctx context.Context, q postgres.Querier, p *Picture) error {
	query := `
		UPDATE pictures
		SET size_bytes = $1, format = $2, width = $3, height = $4,
		    storage_key = $5, thumbnail_key = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING updated_at
	`
	err := q.QueryRowContext(ctx, query,
		p.SizeBytes, p.Format, p.Width, p.Height, p.StorageKey, nullableString(p.ThumbnailKey), p.ID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("picture %d not found", p.ID)
	}
	if err != nil {
		return apperr.StorageFailure(err, "failed to update picture")
	}
	return nil
}

// UpdateMetadata writes name, introduction, category and tags
func (s *Store) UpdateMetadata(ctx context.Context, q postgres.Querier, p *Picture) error {
	query := `
		UPDATE pictures
		SET name = $1, introduction = $2, category = $3, tags = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at
	`
	err := q.QueryRowContext(ctx, query,
		p.Name, p.Introduction, p.Category, pq.Array(p.Tags), p.ID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("picture %d not found", p.ID)
	}
	if err != nil {
		return apperr.StorageFailure(err, "failed to update picture")
	}
	return nil
}

// Delete removes a picture and returns the row as it was deleted
func (s *Store) Delete(ctx context.Context, q postgres.Querier, id int64) (*Picture, error) {
	return s.get(ctx, q, `DELETE FROM pictures WHERE id = $1 RETURNING `+pictureColumns, id)
}

// DeleteBySpace removes every picture of a space and returns the distinct
// storage keys they referenced
func (s *Store) DeleteBySpace(ctx context.Context, q postgres.Querier, spaceID int64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`DELETE FROM pictures WHERE space_id = $1 RETURNING storage_key, thumbnail_key`, spaceID)
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to delete pictures")
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var keys []string
	add := func(key string) {
		if _, ok := seen[key]; ok || key == "" {
			return
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for rows.Next() {
		var key string
		var thumbnail sql.NullString
		if err := rows.Scan(&key, &thumbnail); err != nil {
			return nil, apperr.StorageFailure(err, "failed to scan deleted picture")
		}
		add(key)
		if thumbnail.Valid {
			add(thumbnail.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageFailure(err, "failed to delete pictures")
	}
	return keys, nil
}

// List returns a page of pictures in a space, or in the public library
// when q.SpaceID is nil, newest first
func (s *Store) List(ctx context.Context, db postgres.Querier, q ListQuery) ([]*Picture, error) {
	q = q.Normalized()

	var (
		rows *sql.Rows
		err  error
	)
	if q.SpaceID != nil {
		rows, err = db.QueryContext(ctx, `
			SELECT `+pictureColumns+`
			FROM pictures
			WHERE space_id = $1
			ORDER BY id DESC
			LIMIT $2 OFFSET $3
		`, *q.SpaceID, q.Limit, q.Offset)
	} else {
		rows, err = db.QueryContext(ctx, `
			SELECT `+pictureColumns+`
			FROM pictures
			WHERE space_id IS NULL
			ORDER BY id DESC
			LIMIT $1 OFFSET $2
		`, q.Limit, q.Offset)
	}
	if err != nil {
		return nil, apperr.StorageFailure(err, "failed to list pictures")
	}
	defer rows.Close()

	result := []*Picture{}
	for rows.Next() {
		p, err := scanPicture(rows)
		if err != nil {
			return nil, apperr.StorageFailure(err, "failed to scan picture")
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.StorageFailure(err, "failed to list pictures")
	}
	return result, nil
}

// CountByStorageKey counts rows referencing key as content or thumbnail
func (s *Store) CountByStorageKey(ctx context.Context, q postgres.Querier, key string) (int64, error) {
	var count int64
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pictures WHERE storage_key = $1 OR thumbnail_key = $1`, key,
	).Scan(&count)
	if err != nil {
		return 0, apperr.StorageFailure(err, "failed to count references")
	}
	return count, nil
}
