package limiter

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ldesign/toolkit/meta"
)

func newTestRouter(t *testing.T, store Store) http.Handler {
	t.Helper()
	cfg := &Config{Rules: []Rule{
		{Path: "/items/{id}", LimitBy: []string{LimitByIP}, Bucket: Bucket{Capacity: 1, TokensPerInterval: 1, Interval: 90 * time.Second}},
	}}
	if err := cfg.ValidateAndPrepare(); err != nil {
		t.Fatalf("ValidateAndPrepare() error = %v", err)
	}

	r := chi.NewRouter()
	r.With(HTTPMiddleware(NewRuleLimiter(cfg, store))).Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(meta.String(r.Context(), LimitByIP)))
	})
	return r
}

func TestHTTPMiddlewareLimitsByRoutePattern(t *testing.T) {
	h := newTestRouter(t, NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/items/1", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "192.0.2.1" {
		t.Fatalf("expected identity in handler context, got %q", rec.Body.String())
	}

	// a different id hits the same route pattern and so the same bucket
	req = httptest.NewRequest(http.MethodGet, "/items/2", nil)
	req.RemoteAddr = "192.0.2.1:5678"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "90" {
		t.Fatalf("expected Retry-After 90, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/items/2", nil)
	req.RemoteAddr = "192.0.2.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("another client should pass, got %d", rec.Code)
	}
}

func TestHTTPMiddlewareStoreFailure(t *testing.T) {
	h := newTestRouter(t, failingStore{err: errors.New("redis down")})

	req := httptest.NewRequest(http.MethodGet, "/items/1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestIdentityFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:443"
	req.Header.Set(HeaderDeviceID, "dev-1")

	ctx := IdentityFromRequest(req)
	if got := meta.String(ctx, LimitByIP); got != "198.51.100.7" {
		t.Fatalf("unexpected ip %q", got)
	}
	if got := meta.String(ctx, LimitByDeviceID); got != "dev-1" {
		t.Fatalf("unexpected device id %q", got)
	}
	if _, ok := meta.FromContext(ctx).Get(LimitByUserID); ok {
		t.Fatal("an absent header must not produce an identifier")
	}
}
