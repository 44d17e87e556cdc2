package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/middleware"
	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/pictures"
)

// multipartOverhead is the allowance for form fields and boundaries on top
// of the picture itself
const multipartOverhead = 1 << 20

// PictureService is the picture surface the handlers need
type PictureService interface {
	Upload(ctx context.Context, identity *auth.Identity, req pictures.UploadRequest) (*pictures.Picture, error)
	Get(ctx context.Context, identity *auth.Identity, id int64) (*pictures.Picture, error)
	Open(ctx context.Context, identity *auth.Identity, id int64) (*pictures.Picture, io.ReadCloser, error)
	Edit(ctx context.Context, identity *auth.Identity, id int64, req pictures.EditRequest) (*pictures.Picture, error)
	Delete(ctx context.Context, identity *auth.Identity, id int64) error
	List(ctx context.Context, identity *auth.Identity, q pictures.ListQuery) ([]*pictures.Picture, error)
}

// PictureHandlers handles picture-related HTTP requests
type PictureHandlers struct {
	pictures       PictureService
	maxUploadBytes int64
	throttle       func(http.Handler) http.Handler
}

// NewPictureHandlers creates a new PictureHandlers. throttle wraps the upload
// route and may be nil.
func NewPictureHandlers(service PictureService, maxUploadBytes int64, throttle func(http.Handler) http.Handler) *PictureHandlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = pictures.DefaultMaxUploadBytes
	}
	return &PictureHandlers{
		pictures:       service,
		maxUploadBytes: maxUploadBytes,
		throttle:       throttle,
	}
}

// RegisterRoutes registers picture routes
func (h *PictureHandlers) RegisterRoutes(router *mux.Router) {
	var upload http.Handler = middleware.RequireIdentity(http.HandlerFunc(h.uploadPicture))
	if h.throttle != nil {
		upload = h.throttle(upload)
	}
	router.Handle("/pictures", upload).Methods("POST")

	// reads are open to anonymous callers for the public library
	router.HandleFunc("/pictures", h.listPictures).Methods("GET")
	router.HandleFunc("/pictures/{id}", h.getPicture).Methods("GET")
	router.HandleFunc("/pictures/{id}/content", h.getContent).Methods("GET")
	router.HandleFunc("/spaces/{id}/pictures", h.listSpacePictures).Methods("GET")

	mutate := httputil.Chain(middleware.RequireIdentity, httputil.MaxBytesMiddleware(maxJSONBody))
	router.Handle("/pictures/{id}", mutate(http.HandlerFunc(h.editPicture))).Methods("PATCH")
	router.Handle("/pictures/{id}", mutate(http.HandlerFunc(h.deletePicture))).Methods("DELETE")
}

// uploadPicture accepts multipart/form-data with a "file" part and optional
// spaceId, pictureId and name fields. A pictureId replaces that picture's
// content.
func (h *PictureHandlers) uploadPicture(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		httputil.WriteAppError(w, r, apperr.InvalidArgument("expected multipart/form-data: %v", err))
		return
	}

	var req pictures.UploadRequest
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			httputil.WriteAppError(w, r, uploadReadError(err))
			return
		}

		switch part.FormName() {
		case "file":
			// the file part is consumed by the service, so it must come last
			req.Content = part
		case "spaceId", "pictureId", "name":
			value, err := io.ReadAll(io.LimitReader(part, 1024))
			if err != nil {
				httputil.WriteAppError(w, r, uploadReadError(err))
				return
			}
			if err := applyUploadField(&req, part.FormName(), string(value)); err != nil {
				httputil.WriteAppError(w, r, err)
				return
			}
		}
		if req.Content != nil {
			break
		}
	}

	if req.Content == nil {
		httputil.WriteAppError(w, r, apperr.InvalidArgument("missing file part"))
		return
	}

	p, err := h.pictures.Upload(r.Context(), auth.CurrentIdentity(r.Context()), req)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if req.PictureID != nil {
		httputil.WriteSuccess(w, p)
		return
	}
	httputil.WriteCreated(w, p)
}

func applyUploadField(req *pictures.UploadRequest, field, value string) error {
	if field == "name" {
		req.Name = value
		return nil
	}
	if value == "" {
		return nil
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return apperr.InvalidArgument("invalid %s: %s", field, value)
	}
	if field == "spaceId" {
		req.SpaceID = &id
	} else {
		req.PictureID = &id
	}
	return nil
}

func uploadReadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.InvalidArgument("request body exceeds %d bytes", tooLarge.Limit)
	}
	return apperr.InvalidArgument("malformed multipart body: %v", err)
}

func (h *PictureHandlers) getPicture(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	p, err := h.pictures.Get(r.Context(), auth.CurrentIdentity(r.Context()), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (h *PictureHandlers) getContent(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	p, body, err := h.pictures.Open(r.Context(), auth.CurrentIdentity(r.Context()), id)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension("." + p.Format)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(p.SizeBytes, 10))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("picture_id", id).Warn("failed to stream picture")
	}
}

func (h *PictureHandlers) editPicture(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	var req EditPictureRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	p, err := h.pictures.Edit(r.Context(), auth.CurrentIdentity(r.Context()), id, req.toDomain())
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

func (h *PictureHandlers) deletePicture(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	if err := h.pictures.Delete(r.Context(), auth.CurrentIdentity(r.Context()), id); err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listPictures serves GET /pictures?public=true or GET /pictures?spaceId=N
func (h *PictureHandlers) listPictures(w http.ResponseWriter, r *http.Request) {
	public, err := httputil.ParseQueryBool(r, "public", false)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	spaceID, err := httputil.ParseQueryInt64(r, "spaceId", 0)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}

	var q pictures.ListQuery
	switch {
	case spaceID > 0 && public:
		httputil.WriteAppError(w, r, apperr.InvalidArgument("spaceId and public=true are mutually exclusive"))
		return
	case spaceID > 0:
		q.SpaceID = &spaceID
	case !public:
		httputil.WriteAppError(w, r, apperr.InvalidArgument("either spaceId or public=true is required"))
		return
	}
	h.list(w, r, q)
}

func (h *PictureHandlers) listSpacePictures(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	h.list(w, r, pictures.ListQuery{SpaceID: &id})
}

func (h *PictureHandlers) list(w http.ResponseWriter, r *http.Request, q pictures.ListQuery) {
	limit, err := httputil.ParseQueryInt64(r, "limit", 0)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	offset, err := httputil.ParseQueryInt64(r, "offset", 0)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	q.Limit, q.Offset = int(limit), int(offset)
	q = q.Normalized()

	list, err := h.pictures.List(r.Context(), auth.CurrentIdentity(r.Context()), q)
	if err != nil {
		httputil.WriteAppError(w, r, err)
		return
	}
	if list == nil {
		list = []*pictures.Picture{}
	}
	httputil.WriteSuccess(w, PictureList{Pictures: list, Limit: q.Limit, Offset: q.Offset})
}
