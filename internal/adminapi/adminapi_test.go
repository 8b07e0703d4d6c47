package adminapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeti-lnp/lnpresolver/internal/adminapi"
)

func newTestRouter(h *adminapi.Handler, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	adminapi.RegisterRoutes(r, h, apiKey)
	return r
}

func TestHealthzIsAlwaysOpen(t *testing.T) {
	h := adminapi.NewHandler(nil, nil)
	r := newTestRouter(h, "secret")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body adminapi.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestStatsRequiresAPIKeyWhenConfigured(t *testing.T) {
	h := adminapi.NewHandler(nil, func() int { return 4 })
	r := newTestRouter(h, "secret")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var body adminapi.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 4, body.DriverCount)
}

func TestStatsOpenWhenNoAPIKeyConfigured(t *testing.T) {
	h := adminapi.NewHandler(nil, nil)
	r := newTestRouter(h, "")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReloadCallsFuncAndReportsSuccess(t *testing.T) {
	called := false
	h := adminapi.NewHandler(func(ctx context.Context) error {
		called = true
		return nil
	}, nil)
	r := newTestRouter(h, "")

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestReloadReportsFailureAsInternalServerError(t *testing.T) {
	h := adminapi.NewHandler(func(ctx context.Context) error {
		return errors.New("registry load rows: boom")
	}, nil)
	r := newTestRouter(h, "")

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body adminapi.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "boom")
}

func TestReloadWithNilFuncIsNoop(t *testing.T) {
	h := adminapi.NewHandler(nil, nil)
	r := newTestRouter(h, "")

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var body adminapi.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "noop", body.Status)
}
