package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	WidgetHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestWidgetHandler_ServesAssets(t *testing.T) {
	rec := get("/captcha/widget.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "submit-challenge")

	rec = get("/captcha/handler.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CODECAPTCHA_JWT")
}

func TestWidgetHandler_ChallengePathGetsIndex(t *testing.T) {
	rec := get("/captcha/3f0c6c1e-8d7e-4a53-9d5e-1d1f5a3c2b10")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `<script src="/captcha/widget.js">`)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
