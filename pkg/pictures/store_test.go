package pictures

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/apperr"
)

func newStoreMock(t *testing.T) (*Store, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(), db, mock
}

func TestStore_Get(t *testing.T) {
	store, db, mock := newStoreMock(t)

	mock.ExpectQuery(`SELECT .* FROM pictures WHERE id = \$1`).
		WithArgs(int64(4)).
		WillReturnRows(pictureRow(4, 10, int64(7), 1234, "pictures/sha256/ab/cd"))

	p, err := store.Get(context.Background(), db, 4)
	require.NoError(t, err)
	require.NotNil(t, p.SpaceID)
	assert.Equal(t, int64(7), *p.SpaceID)
	assert.Equal(t, []string{"cute", "cat"}, p.Tags)
	assert.Nil(t, p.ThumbnailKey)
	assert.Equal(t, []string{"pictures/sha256/ab/cd"}, p.Keys())
}

func TestStore_Get_PublicAndMissing(t *testing.T) {
	store, db, mock := newStoreMock(t)

	mock.ExpectQuery(`SELECT .* FROM pictures`).
		WillReturnRows(pictureRow(4, 10, nil, 1234, "k"))
	p, err := store.Get(context.Background(), db, 4)
	require.NoError(t, err)
	assert.Nil(t, p.SpaceID)

	mock.ExpectQuery(`SELECT .* FROM pictures`).WillReturnError(sql.ErrNoRows)
	_, err = store.Get(context.Background(), db, 5)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStore_DeleteBySpace_DedupesKeys(t *testing.T) {
	store, db, mock := newStoreMock(t)

	mock.ExpectQuery(`DELETE FROM pictures WHERE space_id = \$1 RETURNING storage_key, thumbnail_key`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"storage_key", "thumbnail_key"}).
			AddRow("a", nil).
			AddRow("b", "thumbnails/b").
			AddRow("a", nil))

	keys, err := store.DeleteBySpace(context.Background(), db, 7)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "thumbnails/b"}, keys)
}

func TestStore_CountByStorageKey(t *testing.T) {
	store, db, mock := newStoreMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM pictures WHERE storage_key = \$1 OR thumbnail_key = \$1`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := store.CountByStorageKey(context.Background(), db, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	mock.ExpectQuery(`SELECT COUNT`).WillReturnError(errors.New("boom"))
	_, err = store.CountByStorageKey(context.Background(), db, "a")
	assert.Equal(t, apperr.KindStorageFailure, apperr.KindOf(err))
}

func TestStore_List(t *testing.T) {
	store, db, mock := newStoreMock(t)
	spaceID := int64(7)

	mock.ExpectQuery(`SELECT .* FROM pictures WHERE space_id = \$1 ORDER BY id DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(int64(7), 100, 0).
		WillReturnRows(pictureRow(4, 10, int64(7), 10, "k"))

	list, err := store.List(context.Background(), db, ListQuery{SpaceID: &spaceID, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	mock.ExpectQuery(`SELECT .* FROM pictures WHERE space_id IS NULL`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(pictureCols))

	list, err = store.List(context.Background(), db, ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NotNil(t, list)
}
