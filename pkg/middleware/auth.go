package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/contextkeys"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/observability"
)

// AuthMiddleware resolves the caller's identity from a Bearer token or the
// session cookie. Requests carrying no credentials continue anonymously so
// handlers can decide whether an identity is required; credentials that do
// not resolve are rejected with 401.
type AuthMiddleware struct {
	authenticator auth.Authenticator
	cookieName    string
	logger        *observability.Logger
}

// NewAuthMiddleware creates the authentication middleware
func NewAuthMiddleware(authenticator auth.Authenticator, cookieName string, logger *observability.Logger) *AuthMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthMiddleware{
		authenticator: authenticator,
		cookieName:    cookieName,
		logger:        logger,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present, err := m.credentials(r)
		if err != nil {
			m.logger.WithError(err).Debug("rejecting malformed credentials")
			httputil.WriteAppError(w, r, apperr.AuthenticationRequired())
			return
		}
		if !present {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				m.logger.WithError(err).Error("authentication backend failed")
				httputil.WriteAppError(w, r, apperr.StorageFailure(err, "authentication unavailable"))
				return
			}
			httputil.WriteAppError(w, r, apperr.AuthenticationRequired())
			return
		}

		ctx := auth.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// credentials extracts the token. The Authorization header takes precedence
// over the cookie.
func (m *AuthMiddleware) credentials(r *http.Request) (string, bool, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false, errors.New("invalid authorization header format")
		}
		return strings.TrimSpace(parts[1]), true, nil
	}
	if m.cookieName != "" {
		if cookie, err := r.Cookie(m.cookieName); err == nil && cookie.Value != "" {
			return cookie.Value, true, nil
		}
	}
	return "", false, nil
}

// RequireIdentity rejects anonymous requests with 401
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.CurrentIdentity(r.Context()) == nil {
			httputil.WriteAppError(w, r, apperr.AuthenticationRequired())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerToken returns the raw credential the request authenticated with
func (m *AuthMiddleware) BearerToken(r *http.Request) string {
	token, _, _ := m.credentials(r)
	return token
}
