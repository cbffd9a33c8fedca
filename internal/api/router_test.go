package api

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/saveenergy/chunkbench/internal/results"
)

func TestRouterAllowedOriginWildcard(t *testing.T) {
	router := &Router{
		allowedOrigins: []string{"*.example.com"},
	}

	if !router.isAllowedOrigin("https://foo.example.com") {
		t.Fatalf("expected wildcard origin to be allowed")
	}
	if router.isAllowedOrigin("https://example.org") {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestRouterAllowedOriginHostMatch(t *testing.T) {
	router := &Router{
		allowedOrigins: []string{"foo.example.com"},
	}

	if !router.isAllowedOrigin("https://foo.example.com:8443") {
		t.Fatalf("expected host-only origin to be allowed")
	}
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	store, err := results.New(filepath.Join(t.TempDir(), "results.db"), 10)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(store.Close)

	router := NewRouter()
	router.SetResultsHandler(results.NewHandler(store))
	router.SetFeedHandler(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return router
}

func TestSetupRoutes(t *testing.T) {
	handler := newTestRouter(t).SetupRoutes()

	tests := []struct {
		path string
		want int
	}{
		{"/health", http.StatusOK},
		{"/ws", http.StatusTeapot},
		{"/api/v1/sessions", http.StatusOK},
		{"/api/v1/sessions/not-a-uuid", http.StatusBadRequest},
		{"/api/v1/streams", http.StatusNotFound},
		{"/index.html", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Fatalf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
		if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
			t.Fatalf("GET %s missing security headers", tt.path)
		}
	}
}

func TestSetupRoutesWithoutHistory(t *testing.T) {
	router := NewRouter()
	handler := router.SetupRoutes()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("history route mounted without a store: %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t)
	router.SetAllowedOrigins([]string{"https://dash.example.com"})
	handler := router.SetupRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("allowed preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example.com" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.net")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign preflight = %d", rec.Code)
	}
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	router := newTestRouter(t)
	router.SetRateLimiter(2)
	handler := router.SetupRoutes()

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "192.0.2.10:40000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := get("/api/v1/sessions"); code != http.StatusOK {
			t.Fatalf("request %d = %d", i+1, code)
		}
	}
	if code := get("/api/v1/sessions"); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
	if code := get("/health"); code != http.StatusOK {
		t.Fatalf("health limited: %d", code)
	}
}
