package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/apperr"
	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/pictures"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

type fakePictureService struct {
	uploads   []pictures.UploadRequest
	uploaded  [][]byte
	uploadErr error
	edits     []pictures.EditRequest
	queries   []pictures.ListQuery
	deleted   []int64
}

func (f *fakePictureService) Upload(_ context.Context, identity *auth.Identity, req pictures.UploadRequest) (*pictures.Picture, error) {
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, apperr.InvalidArgument("failed to read upload: %v", err)
	}
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploads = append(f.uploads, req)
	f.uploaded = append(f.uploaded, data)
	id := int64(100)
	if req.PictureID != nil {
		id = *req.PictureID
	}
	return &pictures.Picture{ID: id, OwnerID: identity.UserID, SpaceID: req.SpaceID, Name: req.Name, SizeBytes: int64(len(data)), Format: "png"}, nil
}

func (f *fakePictureService) Get(_ context.Context, identity *auth.Identity, id int64) (*pictures.Picture, error) {
	if id != 100 {
		return nil, apperr.NotFound("picture %d not found", id)
	}
	return &pictures.Picture{ID: 100, Name: "cat", SizeBytes: int64(len(pngBytes)), Format: "png"}, nil
}

func (f *fakePictureService) Open(ctx context.Context, identity *auth.Identity, id int64) (*pictures.Picture, io.ReadCloser, error) {
	p, err := f.Get(ctx, identity, id)
	if err != nil {
		return nil, nil, err
	}
	return p, io.NopCloser(bytes.NewReader(pngBytes)), nil
}

func (f *fakePictureService) Edit(_ context.Context, identity *auth.Identity, id int64, req pictures.EditRequest) (*pictures.Picture, error) {
	f.edits = append(f.edits, req)
	return &pictures.Picture{ID: id, Tags: req.Tags}, nil
}

func (f *fakePictureService) Delete(_ context.Context, identity *auth.Identity, id int64) error {
	if identity == nil {
		return apperr.AuthenticationRequired()
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakePictureService) List(_ context.Context, identity *auth.Identity, q pictures.ListQuery) ([]*pictures.Picture, error) {
	f.queries = append(f.queries, q)
	return nil, nil
}

func postUpload(t *testing.T, url, token string, fields map[string]string, file []byte) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields, file)
	req, err := http.NewRequest(http.MethodPost, url+"/api/v1/pictures", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestPictureHandlers_Upload(t *testing.T) {
	svc := &fakePictureService{}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 1024, nil)})

	resp := postUpload(t, srv.URL, userToken, map[string]string{"spaceId": "5", "name": "sunset"}, pngBytes)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.Len(t, svc.uploads, 1)
	req := svc.uploads[0]
	require.NotNil(t, req.SpaceID)
	assert.Equal(t, int64(5), *req.SpaceID)
	assert.Nil(t, req.PictureID)
	assert.Equal(t, "sunset", req.Name)
	assert.Equal(t, pngBytes, svc.uploaded[0])

	var p pictures.Picture
	decode(t, resp, &p)
	assert.Equal(t, int64(7), p.OwnerID)
}

func TestPictureHandlers_Replace(t *testing.T) {
	svc := &fakePictureService{}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 1024, nil)})

	resp := postUpload(t, srv.URL, userToken, map[string]string{"pictureId": "100"}, pngBytes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, svc.uploads[0].PictureID)
	assert.Equal(t, int64(100), *svc.uploads[0].PictureID)
	assert.Nil(t, svc.uploads[0].SpaceID)
}

func TestPictureHandlers_UploadRejections(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		fields     map[string]string
		file       []byte
		uploadErr  error
		wantStatus int
	}{
		{name: "anonymous", fields: map[string]string{}, file: pngBytes, wantStatus: http.StatusUnauthorized},
		{name: "missing file", token: userToken, fields: map[string]string{"spaceId": "5"}, wantStatus: http.StatusBadRequest},
		{name: "bad space id", token: userToken, fields: map[string]string{"spaceId": "five"}, file: pngBytes, wantStatus: http.StatusBadRequest},
		{name: "negative picture id", token: userToken, fields: map[string]string{"pictureId": "-3"}, file: pngBytes, wantStatus: http.StatusBadRequest},
		{name: "permission denied", token: userToken, fields: map[string]string{"spaceId": "5"}, file: pngBytes, uploadErr: apperr.PermissionDenied("missing picture:upload"), wantStatus: http.StatusForbidden},
		{name: "storage failure", token: userToken, fields: map[string]string{}, file: pngBytes, uploadErr: apperr.StorageFailure(io.ErrUnexpectedEOF, "failed to store picture"), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakePictureService{uploadErr: tt.uploadErr}
			srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 1024, nil)})

			resp := postUpload(t, srv.URL, tt.token, tt.fields, tt.file)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestPictureHandlers_UploadQuotaExceeded(t *testing.T) {
	svc := &fakePictureService{uploadErr: apperr.QuotaExceeded(apperr.DimensionCount, 5, 5, 1)}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 1024, nil)})

	resp := postUpload(t, srv.URL, userToken, map[string]string{"spaceId": "5"}, pngBytes)
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var body httputil.ErrorResponse
	decode(t, resp, &body)
	assert.Equal(t, "quota_exceeded", body.Kind)
	require.NotNil(t, body.Quota)
	assert.Equal(t, "count", body.Quota.Dimension)
	assert.Equal(t, int64(5), body.Quota.Current)
	assert.Equal(t, int64(5), body.Quota.Limit)
	assert.Equal(t, int64(1), body.Quota.Requested)
}

func TestPictureHandlers_UploadThrottled(t *testing.T) {
	throttle := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteTooManyRequests(w, "upload rate limit exceeded")
		})
	}
	svc := &fakePictureService{}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 1024, throttle)})

	resp := postUpload(t, srv.URL, userToken, map[string]string{}, pngBytes)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Empty(t, svc.uploads)

	// reads are not throttled
	resp = doJSON(t, srv, http.MethodGet, "/api/v1/pictures/100", userToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPictureHandlers_GetAndContent(t *testing.T) {
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(&fakePictureService{}, 0, nil)})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/pictures/100", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p pictures.Picture
	decode(t, resp, &p)
	assert.Equal(t, "cat", p.Name)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/pictures/101", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/pictures/100/content", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestPictureHandlers_Edit(t *testing.T) {
	svc := &fakePictureService{}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 0, nil)})

	resp := doJSON(t, srv, http.MethodPatch, "/api/v1/pictures/100", userToken, map[string]interface{}{"category": "nature"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.edits, 1)
	assert.False(t, svc.edits[0].SetTags)
	require.NotNil(t, svc.edits[0].Category)
	assert.Equal(t, "nature", *svc.edits[0].Category)

	resp = doJSON(t, srv, http.MethodPatch, "/api/v1/pictures/100", userToken, map[string]interface{}{"tags": []string{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, svc.edits, 2)
	assert.True(t, svc.edits[1].SetTags)
	assert.Empty(t, svc.edits[1].Tags)

	resp = doJSON(t, srv, http.MethodPatch, "/api/v1/pictures/100", userToken, map[string]interface{}{"name": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodPatch, "/api/v1/pictures/100", "", map[string]interface{}{"category": "x"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Len(t, svc.edits, 2)
}

func TestPictureHandlers_Delete(t *testing.T) {
	svc := &fakePictureService{}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 0, nil)})

	resp := doJSON(t, srv, http.MethodDelete, "/api/v1/pictures/100", userToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, []int64{100}, svc.deleted)
}

func TestPictureHandlers_List(t *testing.T) {
	svc := &fakePictureService{}
	srv := newTestServer(t, ServerConfig{Pictures: NewPictureHandlers(svc, 0, nil)})

	resp := doJSON(t, srv, http.MethodGet, "/api/v1/pictures", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/pictures?public=true&spaceId=3", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/pictures?public=true&limit=500", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page PictureList
	decode(t, resp, &page)
	assert.NotNil(t, page.Pictures)
	assert.Equal(t, 100, page.Limit)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/spaces/3/pictures?offset=20", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, srv, http.MethodGet, "/api/v1/pictures?spaceId=4", userToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, svc.queries, 3)
	assert.Nil(t, svc.queries[0].SpaceID)
	require.NotNil(t, svc.queries[1].SpaceID)
	assert.Equal(t, int64(3), *svc.queries[1].SpaceID)
	assert.Equal(t, 20, svc.queries[1].Offset)
	assert.Equal(t, 20, svc.queries[1].Limit)
	assert.Equal(t, int64(4), *svc.queries[2].SpaceID)
}

func TestUploadReadError(t *testing.T) {
	err := uploadReadError(&http.MaxBytesError{Limit: 2048})
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "2048")

	err = uploadReadError(io.ErrUnexpectedEOF)
	assert.Equal(t, apperr.KindInvalidArgument, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "malformed multipart body")
}
