package collab

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/pictures"
	"github.com/platinummonkey/gallery/pkg/rbac"
	"github.com/platinummonkey/gallery/pkg/spaces"
)

// Session is an authorized editing session on one picture
type Session struct {
	Identity *auth.Identity
	Picture  *pictures.Picture
	Space    *spaces.Space
}

// SessionHandler takes over an upgraded connection. It owns conn and must
// close it when done.
type SessionHandler interface {
	Serve(ctx context.Context, conn *websocket.Conn, session *Session)
}

// SessionHandlerFunc adapts a function to SessionHandler
type SessionHandlerFunc func(ctx context.Context, conn *websocket.Conn, session *Session)

// Serve implements SessionHandler
func (f SessionHandlerFunc) Serve(ctx context.Context, conn *websocket.Conn, session *Session) {
	f(ctx, conn, session)
}

// PictureFinder loads a picture by ID
type PictureFinder interface {
	FindPicture(ctx context.Context, id int64) (*pictures.Picture, error)
}

// SpaceFinder loads a space by ID
type SpaceFinder interface {
	FindSpace(ctx context.Context, id int64) (*spaces.Space, error)
}

// Handshake authorizes GET /ws/picture/edit?pictureId=N and upgrades the
// connection only when the caller may edit the picture in a team space
type Handshake struct {
	pictures PictureFinder
	spaces   SpaceFinder
	gate     *rbac.Gate
	handler  SessionHandler
	upgrader websocket.Upgrader
	logger   *observability.Logger
	metrics  *observability.OTelMetrics
}

// NewHandshake creates the handshake handler. A nil handler drains the
// connection until the client closes it.
func NewHandshake(pics PictureFinder, sps SpaceFinder, gate *rbac.Gate, handler SessionHandler, checkOrigin func(*http.Request) bool, logger *observability.Logger) *Handshake {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if handler == nil {
		handler = DrainHandler{}
	}
	return &Handshake{
		pictures: pics,
		spaces:   sps,
		gate:     gate,
		handler:  handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// WithMetrics records handshake outcomes to m
func (h *Handshake) WithMetrics(m *observability.OTelMetrics) *Handshake {
	h.metrics = m
	return h
}

// Authorize runs every handshake check in order and returns the session
// the connection would carry
func (h *Handshake) Authorize(ctx context.Context, identity *auth.Identity, rawPictureID string) (*Session, error) {
	if rawPictureID == "" {
		return nil, apperr.InvalidArgument("pictureId is required")
	}
	pictureID, err := strconv.ParseInt(rawPictureID, 10, 64)
	if err != nil || pictureID <= 0 {
		return nil, apperr.InvalidArgument("pictureId must be a positive integer")
	}

	if identity == nil {
		return nil, apperr.AuthenticationRequired()
	}

	picture, err := h.pictures.FindPicture(ctx, pictureID)
	if err != nil {
		return nil, err
	}
	if picture.SpaceID == nil {
		return nil, apperr.PermissionDenied("collaborative editing is only available in team spaces")
	}

	space, err := h.spaces.FindSpace(ctx, *picture.SpaceID)
	if err != nil {
		return nil, err
	}
	if space.Type != spaces.TypeTeam {
		return nil, apperr.PermissionDenied("collaborative editing is only available in team spaces")
	}

	if err := h.gate.Require(ctx, identity, space.Scope(), rbac.PermissionPictureEdit); err != nil {
		return nil, err
	}
	return &Session{Identity: identity, Picture: picture, Space: space}, nil
}

// ServeHTTP implements http.Handler
func (h *Handshake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.Authorize(r.Context(), auth.CurrentIdentity(r.Context()), r.URL.Query().Get("pictureId"))
	if err != nil {
		h.metrics.RecordCollabSession(r.Context(), apperr.KindOf(err).String())
		httputil.WriteAppError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.WithError(err).Warn("websocket upgrade failed")
		h.metrics.RecordCollabSession(r.Context(), "upgrade_failed")
		return
	}
	h.metrics.RecordCollabSession(r.Context(), "opened")

	h.logger.WithFields(map[string]interface{}{
		"user_id":    session.Identity.UserID,
		"picture_id": session.Picture.ID,
		"space_id":   session.Space.ID,
	}).Info("picture edit session opened")

	h.handler.Serve(context.WithoutCancel(r.Context()), conn, session)
}

// DrainHandler reads and discards messages until the peer disconnects
type DrainHandler struct{}

// Serve implements SessionHandler
func (DrainHandler) Serve(_ context.Context, conn *websocket.Conn, _ *Session) {
	defer conn.Close()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// AllowOrigins returns an origin check accepting the listed origins. With no
// origins it returns nil, which keeps the upgrader's same-origin default.
func AllowOrigins(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}
