// middleware.go — request ID, legacy-path redirect, CORS, and rate limiting.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tubetext/tubetext/internal/auth"
	"github.com/tubetext/tubetext/internal/logger"
	"github.com/tubetext/tubetext/internal/ratelimit"
)

const apiVersion = "v1"

type requestIDKey struct{}

// RequestID returns the request's correlation ID, or "" outside a request.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// withRequestID echoes a client-supplied X-Request-ID or mints one, stamps
// the standard version header, and stores a request-scoped logger so every
// line logged downstream carries the correlation ID.
func withRequestID(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		w.Header().Set("X-API-Version", apiVersion)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = logger.WithContext(ctx, log.With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withVersionRedirect sends unversioned /api/ paths to their /api/v1/
// equivalent with a permanent redirect and a deprecation marker.
func withVersionRedirect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if strings.HasPrefix(p, "/api/") && !strings.HasPrefix(p, "/api/v1/") {
			target := "/api/v1/" + strings.TrimPrefix(p, "/api/")
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			w.Header().Set("X-API-Deprecation", "true")
			w.Header().Set("X-API-Version", apiVersion)
			http.Redirect(w, r, target, http.StatusPermanentRedirect)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS implements the ALLOWED_ORIGINS policy: explicit list, "*", or
// empty meaning no cross-origin access.
func withCORS(origins []string, next http.Handler) http.Handler {
	allowAll := len(origins) == 1 && origins[0] == "*"
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit enforces the per-(client IP, endpoint) token bucket on API
// paths. Health, liveness, and metrics stay open for probes and scrapers.
func withRateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		res := limiter.Check(r.Context(), auth.ClientIP(r), r.URL.Path)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		w.Header().Set("X-RateLimit-Policy", fmt.Sprintf("%d;w=60;burst=%d", limiter.RPM(), limiter.Burst()))
		if !res.Allowed {
			retryAfter := int(time.Until(res.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, r, apiError{
				Status:  http.StatusTooManyRequests,
				Code:    CodeRateLimited,
				Message: "rate limit exceeded",
				Hint:    "slow down or retry after the reset",
				Meta: map[string]any{
					"retry_after": retryAfter,
					"reset_at":    res.ResetAt.UTC().Format(time.RFC3339),
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
