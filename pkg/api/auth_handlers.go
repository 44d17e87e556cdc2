package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/middleware"
	"github.com/platinummonkey/gallery/pkg/observability"
)

// SessionIssuer opens sessions for a user
type SessionIssuer interface {
	Create(ctx context.Context, userID int64) (string, error)
}

// SessionCloser ends the session a token belongs to
type SessionCloser interface {
	Logout(ctx context.Context, token string) error
}

// UserDirectory reads and creates local users
type UserDirectory interface {
	GetByID(ctx context.Context, id int64) (*auth.User, error)
	Create(ctx context.Context, account, displayName string, role auth.Role) (*auth.User, error)
}

// AuthHandlers exchanges credentials for session tokens and manages users
type AuthHandlers struct {
	sessions   SessionIssuer
	closer     SessionCloser
	users      UserDirectory
	token      func(*http.Request) string
	cookieName string
	sessionTTL time.Duration
	logger     *observability.Logger
}

// AuthHandlersConfig groups the collaborators of AuthHandlers
type AuthHandlersConfig struct {
	Sessions   SessionIssuer
	Closer     SessionCloser
	Users      UserDirectory
	Token      func(*http.Request) string
	CookieName string
	SessionTTL time.Duration
	Logger     *observability.Logger
}

// NewAuthHandlers creates a new AuthHandlers
func NewAuthHandlers(cfg AuthHandlersConfig) *AuthHandlers {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AuthHandlers{
		sessions:   cfg.Sessions,
		closer:     cfg.Closer,
		users:      cfg.Users,
		token:      cfg.Token,
		cookieName: cfg.CookieName,
		sessionTTL: cfg.SessionTTL,
		logger:     logger,
	}
}

// RegisterRoutes registers session and user routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	r := router.NewRoute().Subrouter()
	r.MethodNotAllowedHandler = methodNotAllowed
	r.Use(middleware.RequireIdentity, httputil.MaxBytesMiddleware(maxJSONBody))

	r.HandleFunc("/auth/session", h.openSession).Methods("POST")
	r.HandleFunc("/auth/session", h.closeSession).Methods("DELETE")
	r.HandleFunc("/users/me", h.me).Methods("GET")
	r.HandleFunc("/users", h.createUser).Methods("POST")
	r.HandleFunc("/users/{id}/sessions", h.openSessionFor).Methods("POST")
}

// openSession trades whatever credential authenticated the request (usually
// an OIDC ID token) for a gallery session token
func (h *AuthHandlers) openSession(w http.ResponseWriter, r *http.Request) {
	identity := auth.CurrentIdentity(r.Context())
	h.issue(w, r, identity.UserID)
}

// openSessionFor lets an admin mint a session for a local user
func (h *AuthHandlers) openSessionFor(w http.ResponseWriter, r *http.Request) {
	if !auth.CurrentIdentity(r.Context()).IsAdmin() {
		httputil.WriteAppError(w, r, apperr.PermissionDenied("only admins may open sessions for other users"))
		return
	}
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if _, err := h.users.GetByID(r.Context(), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	token, err := h.sessions.Create(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.StorageFailure(err, "failed to open session"))
		return
	}
	httputil.WriteCreated(w, SessionResponse{Token: token, UserID: id, ExpiresIn: int64(h.sessionTTL.Seconds())})
}

func (h *AuthHandlers) issue(w http.ResponseWriter, r *http.Request, userID int64) {
	token, err := h.sessions.Create(r.Context(), userID)
	if err != nil {
		httputil.WriteAppError(w, r, apperr.StorageFailure(err, "failed to open session"))
		return
	}

	if h.cookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.cookieName,
			Value:    token,
			Path:     "/",
			MaxAge:   int(h.sessionTTL.Seconds()),
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteLaxMode,
		})
	}

	h.logger.WithField("user_id", userID).Info("session opened")
	httputil.WriteCreated(w, SessionResponse{Token: token, UserID: userID, ExpiresIn: int64(h.sessionTTL.Seconds())})
}

func (h *AuthHandlers) closeSession(w http.ResponseWriter, r *http.Request) {
	if token := h.token(r); token != "" {
		if err := h.closer.Logout(r.Context(), token); err != nil {
			httputil.WriteAppError(w, r, apperr.StorageFailure(err, "failed to close session"))
			return
		}
	}

	if h.cookieName != "" {
		http.SetCookie(w, &http.Cookie{Name: h.cookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), auth.CurrentIdentity(r.Context()).UserID)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, user)
}

func (h *AuthHandlers) createUser(w http.ResponseWriter, r *http.Request) {
	if !auth.CurrentIdentity(r.Context()).IsAdmin() {
		httputil.WriteAppError(w, r, apperr.PermissionDenied("only admins may create users"))
		return
	}
	var req CreateUserRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	role := auth.Role(req.Role)
	if role == "" {
		role = auth.RoleUser
	}

	user, err := h.users.Create(r.Context(), req.Account, req.DisplayName, role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, user)
}
