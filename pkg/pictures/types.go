package pictures

import (
	"io"
	"time"
)

const (
	// MaxNameLength is the maximum picture name length in runes
	MaxNameLength = 128
	// MaxTags is the maximum number of tags on a picture
	MaxTags = 32
	// MaxCategoryLength is the maximum category length in runes
	MaxCategoryLength = 64

	defaultPageSize = 20
	maxPageSize     = 100
)

// Picture is an uploaded image and its metadata. A nil SpaceID places the
// picture in the public library.
type Picture struct {
	ID           int64     `json:"id"`
	OwnerID      int64     `json:"owner_id"`
	SpaceID      *int64    `json:"space_id,omitempty"`
	Name         string    `json:"name"`
	Introduction string    `json:"introduction"`
	Category     string    `json:"category"`
	Tags         []string  `json:"tags"`
	SizeBytes    int64     `json:"size_bytes"`
	Format       string    `json:"format"`
	Width        int       `json:"width,omitempty"`
	Height       int       `json:"height,omitempty"`
	StorageKey   string    `json:"-"`
	ThumbnailKey *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Keys returns every storage key the picture references
func (p *Picture) Keys() []string {
	keys := []string{p.StorageKey}
	if p.ThumbnailKey != nil && *p.ThumbnailKey != "" {
		keys = append(keys, *p.ThumbnailKey)
	}
	return keys
}

// UploadRequest carries a new or replacement image. Setting PictureID
// replaces the content of an existing picture.
type UploadRequest struct {
	SpaceID   *int64
	PictureID *int64
	Name      string
	Content   io.Reader
}

// EditRequest holds metadata changes; nil fields are left unchanged
type EditRequest struct {
	Name         *string
	Introduction *string
	Category     *string
	Tags         []string
	SetTags      bool
}

// ListQuery selects a page of pictures from one space or the public library
type ListQuery struct {
	SpaceID *int64
	Limit   int
	Offset  int
}

// Normalized applies the default page size and clamps limit and offset
func (q ListQuery) Normalized() ListQuery {
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
