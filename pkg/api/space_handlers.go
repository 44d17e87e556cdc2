package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/middleware"
	"github.com/platinummonkey/gallery/pkg/spaces"
)

// SpaceService is the space and membership surface the handlers need
type SpaceService interface {
	Create(ctx context.Context, identity *auth.Identity, req spaces.CreateRequest) (*spaces.Space, error)
	Get(ctx context.Context, identity *auth.Identity, id int64) (*spaces.View, error)
	Permissions(ctx context.Context, identity *auth.Identity, id int64) ([]string, error)
	Usage(ctx context.Context, identity *auth.Identity, id int64) (*spaces.UsageReport, error)
	List(ctx context.Context, identity *auth.Identity) ([]*spaces.Space, error)
	Update(ctx context.Context, identity *auth.Identity, id int64, req spaces.UpdateRequest) (*spaces.Space, error)
	Delete(ctx context.Context, identity *auth.Identity, id int64) error

	AddMember(ctx context.Context, identity *auth.Identity, spaceID, userID int64, role string) (*spaces.Member, error)
	UpdateMember(ctx context.Context, identity *auth.Identity, spaceID, userID int64, role string) (*spaces.Member, error)
	RemoveMember(ctx context.Context, identity *auth.Identity, spaceID, userID int64) error
	ListMembers(ctx context.Context, identity *auth.Identity, spaceID int64) ([]*spaces.Member, error)
}

// SpaceHandlers handles space-related HTTP requests
type SpaceHandlers struct {
	spaces SpaceService
}

// NewSpaceHandlers creates a new SpaceHandlers
func NewSpaceHandlers(service SpaceService) *SpaceHandlers {
	return &SpaceHandlers{spaces: service}
}

// RegisterRoutes registers space and membership routes
func (h *SpaceHandlers) RegisterRoutes(router *mux.Router) {
	// registered ahead of /spaces/{id} and open to anonymous callers
	router.HandleFunc("/spaces/levels", h.listLevels).Methods("GET")

	r := router.NewRoute().Subrouter()
	r.MethodNotAllowedHandler = methodNotAllowed
	r.Use(middleware.RequireIdentity, httputil.MaxBytesMiddleware(maxJSONBody))

	r.HandleFunc("/spaces", h.createSpace).Methods("POST")
	r.HandleFunc("/spaces", h.listSpaces).Methods("GET")
	r.HandleFunc("/spaces/{id}", h.getSpace).Methods("GET")
	r.HandleFunc("/spaces/{id}", h.updateSpace).Methods("PATCH")
	r.HandleFunc("/spaces/{id}", h.deleteSpace).Methods("DELETE")
	r.HandleFunc("/spaces/{id}/permissions", h.getPermissions).Methods("GET")
	r.HandleFunc("/spaces/{id}/usage", h.getUsage).Methods("GET")

	r.HandleFunc("/spaces/{id}/members", h.listMembers).Methods("GET")
	r.HandleFunc("/spaces/{id}/members", h.addMember).Methods("POST")
	r.HandleFunc("/spaces/{id}/members/{userId}", h.updateMember).Methods("PUT")
	r.HandleFunc("/spaces/{id}/members/{userId}", h.removeMember).Methods("DELETE")
}

func (h *SpaceHandlers) createSpace(w http.ResponseWriter, r *http.Request) {
	var req CreateSpaceRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	sp, err := h.spaces.Create(r.Context(), auth.CurrentIdentity(r.Context()), req.toDomain())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, sp)
}

func (h *SpaceHandlers) listSpaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.spaces.List(r.Context(), auth.CurrentIdentity(r.Context()))
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*spaces.Space{}
	}
	httputil.WriteSuccess(w, list)
}

func (h *SpaceHandlers) getSpace(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	view, err := h.spaces.Get(r.Context(), auth.CurrentIdentity(r.Context()), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, view)
}

func (h *SpaceHandlers) updateSpace(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req UpdateSpaceRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	sp, err := h.spaces.Update(r.Context(), auth.CurrentIdentity(r.Context()), id, req.toDomain())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, sp)
}

func (h *SpaceHandlers) deleteSpace(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if err := h.spaces.Delete(r.Context(), auth.CurrentIdentity(r.Context()), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *SpaceHandlers) getPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	perms, err := h.spaces.Permissions(r.Context(), auth.CurrentIdentity(r.Context()), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, PermissionsResponse{SpaceID: id, Permissions: perms})
}

func (h *SpaceHandlers) listLevels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, spaces.Levels())
}

func (h *SpaceHandlers) getUsage(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	report, err := h.spaces.Usage(r.Context(), auth.CurrentIdentity(r.Context()), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, report)
}

func (h *SpaceHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	members, err := h.spaces.ListMembers(r.Context(), auth.CurrentIdentity(r.Context()), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if members == nil {
		members = []*spaces.Member{}
	}
	httputil.WriteSuccess(w, members)
}

func (h *SpaceHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req AddMemberRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	member, err := h.spaces.AddMember(r.Context(), auth.CurrentIdentity(r.Context()), id, req.UserID, req.Role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteCreated(w, member)
}

func (h *SpaceHandlers) updateMember(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	userID, err := httputil.ParsePathInt64(r, "userId")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req UpdateMemberRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	member, err := h.spaces.UpdateMember(r.Context(), auth.CurrentIdentity(r.Context()), id, userID, req.Role)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, member)
}

func (h *SpaceHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	userID, err := httputil.ParsePathInt64(r, "userId")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if err := h.spaces.RemoveMember(r.Context(), auth.CurrentIdentity(r.Context()), id, userID); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
