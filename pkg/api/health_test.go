package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthRoutes(t *testing.T) {
	s := NewServer(nil)

	tests := []struct {
		name           string
		method         string
		path           string
		expectedStatus int
	}{
		{name: "liveness", method: http.MethodGet, path: "/livez", expectedStatus: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", expectedStatus: http.StatusOK},
		{name: "ready without manager", method: http.MethodGet, path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{name: "POST health rejected", method: http.MethodPost, path: "/health", expectedStatus: http.StatusMethodNotAllowed},
		{name: "unknown path", method: http.MethodGet, path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()

			s.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func TestReadyWithoutManager(t *testing.T) {
	s := NewServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response metrics.HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, metrics.StatusNotReady, response.Status)
	assert.Contains(t, response.Components["raft"], "manager not initialized")
	assert.Contains(t, response.Components["store"], "manager not initialized")
	assert.NotEmpty(t, response.Message)
}

func TestReadOnly(t *testing.T) {
	h := ReadOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	for method, expected := range map[string]int{
		http.MethodGet:    http.StatusTeapot,
		http.MethodHead:   http.StatusTeapot,
		http.MethodPost:   http.StatusForbidden,
		http.MethodPut:    http.StatusForbidden,
		http.MethodDelete: http.StatusForbidden,
	} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(method, "/v1/clusters", nil))
		assert.Equal(t, expected, w.Code, method)
	}
}
