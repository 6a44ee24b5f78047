package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRouter_StubsUnsetHandlersWith501(t *testing.T) {
	r := NewRouter(RouterConfig{AllowedOrigins: []string{"*"}})

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestNewRouter_DispatchesToConfiguredHandler(t *testing.T) {
	called := false
	r := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		StatusHandler: func(w http.ResponseWriter, req *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		},
	})

	req := httptest.NewRequest(http.MethodHead, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRouter_MountsWSHandlerAtConfiguredPath(t *testing.T) {
	wsCalled := false
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { wsCalled = true })

	r := NewRouter(RouterConfig{
		AllowedOrigins: []string{"*"},
		WSHandler:      ws,
		WSPath:         "/chat",
	})

	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.True(t, wsCalled)
}
