package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/middleware"
)

const (
	userToken  = "gly_user"
	adminToken = "gly_admin"
)

type staticTokens map[string]*auth.Identity

func (s staticTokens) Authenticate(_ context.Context, token string) (*auth.Identity, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidToken
}

func testAuthMiddleware() *middleware.AuthMiddleware {
	return middleware.NewAuthMiddleware(staticTokens{
		userToken:  {UserID: 7, Role: auth.RoleUser},
		adminToken: {UserID: 1, Role: auth.RoleAdmin},
	}, "gallery_session", nil)
}

// newTestServer mounts the given handler groups behind the real auth middleware
func newTestServer(t *testing.T, cfg ServerConfig) *httptest.Server {
	t.Helper()
	cfg.Authenticate = testAuthMiddleware().Handler
	srv := httptest.NewServer(NewServer(cfg))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, dest interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

// multipartBody builds an upload form. fields are written before the file part.
func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "upload.png")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf, mw.FormDataContentType()
}
