package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServerMux(t *testing.T) {
	c := newTestCollector()
	ready := false
	mux := newMux(c.Registry(), func() bool { return ready })

	tests := []struct {
		name     string
		path     string
		ready    bool
		wantCode int
		wantBody string
	}{
		{"health", "/health", false, http.StatusOK, "ok"},
		{"healthz", "/healthz", false, http.StatusOK, "ok"},
		{"not ready", "/ready", false, http.StatusServiceUnavailable, "not ready"},
		{"ready", "/readyz", true, http.StatusOK, "ok"},
		{"metrics", "/metrics", false, http.StatusOK, "worker_swarm_desired_workers 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			body, _ := io.ReadAll(rec.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body = %q, want substring %q", body, tt.wantBody)
			}
		})
	}
}

func TestServerMux_NilReady(t *testing.T) {
	mux := newMux(newTestCollector().Registry(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
