package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docsage/docsage/internal/config"
)

func TestAdminAuthRejectsWhenNoTokenConfigured(t *testing.T) {
	s := &Server{cfg: config.Default()}
	h := s.adminAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/runtime", nil)
	req.Header.Set("Authorization", "Bearer anything")
	h(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminAuthChecksToken(t *testing.T) {
	cfg := config.Default()
	cfg.Global.AdminToken = "tok"
	s := &Server{cfg: cfg}
	h := s.adminAuth(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/runtime", nil)
	req.Header.Set("Authorization", "Bearer tok")
	h(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	req.Header.Set("Authorization", "Bearer wrong")
	h(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAddr(t *testing.T) {
	cfg := config.Default()
	cfg.Services.Host = "127.0.0.1"
	cfg.Services.Port = 7861
	s := &Server{cfg: cfg}
	assert.Equal(t, "127.0.0.1:7861", s.Addr())
}
