package pictures

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/storage"
	"github.com/platinummonkey/gallery/pkg/storage/postgres"
)

var pictureCols = []string{
	"id", "owner_id", "space_id", "name", "introduction", "category", "tags",
	"size_bytes", "format", "width", "height", "storage_key", "thumbnail_key", "created_at", "updated_at",
}

var spaceCols = []string{
	"id", "owner_id", "owner_is_admin", "name", "space_type", "level",
	"max_count", "max_bytes", "used_count", "used_bytes", "created_at", "updated_at",
}

func pictureRow(id, owner int64, spaceID interface{}, size int64, key string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(pictureCols).
		AddRow(id, owner, spaceID, "cat.png", "", "", "{cute,cat}", size, "png", 2, 3, key, nil, now, now)
}

func spaceRow(id, owner int64, spaceType string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(spaceCols).
		AddRow(id, owner, false, "Team", spaceType, "common", 5, 10_000_000, 0, 0, now, now)
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// memoryStore is an in-memory storage.ObjectStore that records deletions
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	puts    int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) PutObject(_ context.Context, key string, content io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.puts++
	return nil
}

func (m *memoryStore) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) ObjectExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memoryStore) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memoryStore) HealthCheck(context.Context) error { return nil }

func (m *memoryStore) deletions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// recordingScheduler captures scheduled cleanups
type recordingScheduler struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingScheduler) Schedule(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
}

// staticRefs reports a fixed reference count per key
type staticRefs map[string]int64

func (s staticRefs) CountByStorageKey(_ context.Context, _ postgres.Querier, key string) (int64, error) {
	return s[key], nil
}
