package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/metrics"
	"github.com/ferro-labs/verifygw/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// metricsMiddleware records request count and latency by route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RequestsTotal.WithLabelValues(route, r.Method, statusClass(status)).Inc()
		metrics.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// rateLimitMiddleware applies a token bucket per authenticated user, or per
// client IP for anonymous callers.
func rateLimitMiddleware(limits *ratelimit.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyType, key := "ip", clientIP(r)
			if uid := logging.UserIDFromContext(r.Context()); uid != "" {
				keyType, key = "user", uid
			}
			if !limits.Allow(keyType + ":" + key) {
				metrics.RateLimitRejections.WithLabelValues(keyType).Inc()
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "", "rate_limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the caller address without its port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
