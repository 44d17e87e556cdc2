package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionStore(t *testing.T, ttl time.Duration) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessionStore(client, ttl), mr
}

func TestSessionStore_CreateLookupRevoke(t *testing.T) {
	store, mr := newTestSessionStore(t, time.Hour)
	ctx := context.Background()

	token, err := store.Create(ctx, 42)
	require.NoError(t, err)

	// only the hash is persisted
	assert.False(t, mr.Exists(sessionKeyPrefix+token))
	assert.True(t, mr.Exists(store.key(token)))

	userID, err := store.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	require.NoError(t, store.Revoke(ctx, token))
	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionStore_Expiry(t *testing.T) {
	store, mr := newTestSessionStore(t, time.Minute)
	ctx := context.Background()

	token, err := store.Create(ctx, 1)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = store.Lookup(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionStore_Lookup_MalformedToken(t *testing.T) {
	store, _ := newTestSessionStore(t, time.Hour)

	_, err := store.Lookup(context.Background(), "not-a-session")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionStore_Lookup_CorruptEntry(t *testing.T) {
	store, mr := newTestSessionStore(t, time.Hour)
	token, err := newSessionToken()
	require.NoError(t, err)
	require.NoError(t, mr.Set(store.key(token), "abc"))

	_, err = store.Lookup(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestSessionStore_RedisDown(t *testing.T) {
	store, mr := newTestSessionStore(t, time.Hour)
	mr.Close()

	_, err := store.Create(context.Background(), 1)
	assert.Error(t, err)
}
