//go:build integration

package pictures

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/quota"
	"github.com/platinummonkey/gallery/pkg/rbac"
	"github.com/platinummonkey/gallery/pkg/spaces"
	"github.com/platinummonkey/gallery/pkg/storage/postgres/pgtest"
)

func newIntegrationService(db *sql.DB) (*Service, *quota.Reconciler) {
	ledger := quota.NewLedger(nil, nil)
	gate := rbac.NewGate(rbac.NewResolver(rbac.DefaultRoleConfig(), spaces.NewMemberStore(db)), nil, nil)
	svc := NewService(ServiceDeps{
		DB:      db,
		Store:   NewStore(),
		Spaces:  spaces.NewStore(),
		Gate:    gate,
		Ledger:  ledger,
		Objects: newMemoryStore(),
		Cleaner: &recordingScheduler{},
	})
	return svc, quota.NewReconciler(db, ledger, quota.ReconcilerConfig{}, nil, nil)
}

func createSpace(t *testing.T, db *sql.DB, owner, maxCount, maxBytes int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		INSERT INTO spaces (owner_id, name, space_type, level, max_count, max_bytes)
		VALUES ($1, 'Default space', 'private', 'common', $2, $3) RETURNING id`,
		owner, maxCount, maxBytes).Scan(&id)
	require.NoError(t, err)
	return id
}

func usage(t *testing.T, db *sql.DB, spaceID int64) quota.Usage {
	t.Helper()
	u, err := quota.NewLedger(nil, nil).Usage(context.Background(), db, spaceID)
	require.NoError(t, err)
	return *u
}

func TestIntegration_ConcurrentUploadsRespectQuota(t *testing.T) {
	db := pgtest.Start(t)
	ctx := context.Background()
	owner := pgtest.CreateUser(t, db, "owner", "user")
	spaceID := createSpace(t, db, owner, 5, 10_000_000)
	svc, reconciler := newIntegrationService(db)
	identity := &auth.Identity{UserID: owner, Role: auth.RoleUser}

	const uploads = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
		other    []error
	)
	images := make([][]byte, uploads)
	for i := range images {
		images[i] = testPNG(t, i+1, 1)
	}

	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(data []byte) {
			defer wg.Done()
			_, err := svc.Upload(ctx, identity, UploadRequest{SpaceID: &spaceID, Content: bytes.NewReader(data)})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.KindQuotaExceeded:
				rejected++
			default:
				other = append(other, err)
			}
		}(images[i])
	}
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 5, ok)
	assert.Equal(t, uploads-5, rejected)

	u := usage(t, db, spaceID)
	assert.Equal(t, int64(5), u.UsedCount)

	drift, err := reconciler.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift, "counters must match the pictures table")
}

func TestIntegration_LifecycleKeepsCountersExact(t *testing.T) {
	db := pgtest.Start(t)
	ctx := context.Background()
	owner := pgtest.CreateUser(t, db, "owner", "user")
	spaceID := createSpace(t, db, owner, 10, 10_000_000)
	svc, reconciler := newIntegrationService(db)
	identity := &auth.Identity{UserID: owner, Role: auth.RoleUser}

	var ids []int64
	for i := 1; i <= 3; i++ {
		p, err := svc.Upload(ctx, identity, UploadRequest{SpaceID: &spaceID, Content: bytes.NewReader(testPNG(t, i*10, i*10))})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	// replace with a larger image, then delete another
	bigger := testPNG(t, 200, 200)
	_, err := svc.Upload(ctx, identity, UploadRequest{PictureID: &ids[0], Content: bytes.NewReader(bigger)})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, identity, ids[1]))

	var wantBytes int64
	require.NoError(t, db.QueryRow(`SELECT COALESCE(SUM(size_bytes), 0) FROM pictures WHERE space_id = $1`, spaceID).Scan(&wantBytes))

	u := usage(t, db, spaceID)
	assert.Equal(t, int64(2), u.UsedCount)
	assert.Equal(t, wantBytes, u.UsedBytes)

	drift, err := reconciler.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestIntegration_ReconcilerRepairsDrift(t *testing.T) {
	db := pgtest.Start(t)
	ctx := context.Background()
	owner := pgtest.CreateUser(t, db, "owner", "user")
	spaceID := createSpace(t, db, owner, 10, 10_000_000)
	svc, _ := newIntegrationService(db)
	identity := &auth.Identity{UserID: owner, Role: auth.RoleUser}

	_, err := svc.Upload(ctx, identity, UploadRequest{SpaceID: &spaceID, Content: bytes.NewReader(testPNG(t, 4, 4))})
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE spaces SET used_count = 7 WHERE id = $1`, spaceID)
	require.NoError(t, err)

	repairing := quota.NewReconciler(db, quota.NewLedger(nil, nil), quota.ReconcilerConfig{Repair: true}, nil, nil)
	drift, err := repairing.Run(ctx)
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, spaceID, drift[0].SpaceID)

	assert.Equal(t, int64(1), usage(t, db, spaceID).UsedCount)
	drift, err = repairing.Check(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
}
