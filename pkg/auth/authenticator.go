package auth

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gallery/pkg/apperr"
)

// UserLookup is the subset of UserStore the authenticators need
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*User, error)
}

// SessionAuthenticator resolves session tokens issued by SessionStore.
// Resolved identities are cached for a short TTL so role changes and
// revocations take effect within that window.
type SessionAuthenticator struct {
	sessions *SessionStore
	users    UserLookup
	cache    *lru.LRU[string, *Identity]
}

// NewSessionAuthenticator creates a session authenticator with an identity cache
func NewSessionAuthenticator(sessions *SessionStore, users UserLookup, cacheSize int, cacheTTL time.Duration) *SessionAuthenticator {
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &SessionAuthenticator{
		sessions: sessions,
		users:    users,
		cache:    lru.NewLRU[string, *Identity](cacheSize, nil, cacheTTL),
	}
}

// Authenticate implements Authenticator
func (a *SessionAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if identity, ok := a.cache.Get(tokenDigest(token)); ok {
		return identity, nil
	}

	userID, err := a.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	identity := user.Identity()
	a.cache.Add(tokenDigest(token), identity)
	return identity, nil
}

// Logout revokes the session and drops its cached identity
func (a *SessionAuthenticator) Logout(ctx context.Context, token string) error {
	a.cache.Remove(tokenDigest(token))
	return a.sessions.Revoke(ctx, token)
}

// ChainAuthenticator tries each authenticator in order. ErrInvalidToken
// moves on to the next one; any other error stops the chain.
type ChainAuthenticator []Authenticator

// Authenticate implements Authenticator
func (c ChainAuthenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	for _, a := range c {
		if a == nil {
			continue
		}
		identity, err := a.Authenticate(ctx, token)
		if err == nil {
			return identity, nil
		}
		if !errors.Is(err, ErrInvalidToken) {
			return nil, err
		}
	}
	return nil, ErrInvalidToken
}
