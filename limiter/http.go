package limiter

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/ldesign/toolkit/meta"
)

// HTTPMiddleware rejects requests limited by rl with 429 Too Many Requests and a
// Retry-After header. When mounted with chi's Router.With or inside a Group, the
// matched route pattern (for example "/v1/plan/{id}") is used as the rule path;
// otherwise the URL path is.
func HTTPMiddleware(rl *RuleLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := IdentityFromRequest(r)
			d := rl.Check(ctx, routePath(r))
			if d.Limited {
				if d.Err != nil {
					http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
					return
				}
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromRequest attaches the client IP and the X-Device-ID / X-User-ID
// headers to the request context as limiter identifiers.
func IdentityFromRequest(r *http.Request) context.Context {
	md := meta.New()
	md.Set(LimitByIP, hostOnly(r.RemoteAddr))
	md.Set(LimitByDeviceID, r.Header.Get(HeaderDeviceID))
	md.Set(LimitByUserID, r.Header.Get(HeaderUserID))
	return md.WithContext(r.Context())
}

func routePath(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
