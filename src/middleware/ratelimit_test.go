package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func newLimitedRouter() *chi.Mux {
	r := chi.NewRouter()
	Setup(r)
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(10, false))
		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	r.Get("/gateway", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestRateLimitAllowsRequestsUnderLimit(t *testing.T) {
	r := newLimitedRouter()
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRateLimitRejectsExcessiveRequests(t *testing.T) {
	r := newLimitedRouter()
	successCount := 0
	rateLimitedCount := 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.RemoteAddr = "192.168.1.2:54321"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		switch w.Code {
		case http.StatusOK:
			successCount++
		case http.StatusTooManyRequests:
			rateLimitedCount++
		}
	}
	if rateLimitedCount == 0 {
		t.Error("expected some requests to be rate limited")
	}
	if successCount == 0 {
		t.Error("expected some requests to succeed")
	}
}

func TestRateLimitSeparatePerIP(t *testing.T) {
	r := newLimitedRouter()
	for _, addr := range []string{"192.168.1.3:12345", "192.168.1.4:12345"} {
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", addr, w.Code)
		}
	}
}

func TestRateLimitDoesNotCoverSocketRoute(t *testing.T) {
	r := newLimitedRouter()
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest("GET", "/gateway", nil)
		req.RemoteAddr = "192.168.1.5:12345"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("socket route rate limited on request %d: %d", i, w.Code)
		}
	}
}
