package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// RateLimit returns middleware that allows limit requests per window to
// each tenant, or to each client IP when no tenant header is sent, so one
// noisy dashboard cannot starve the others.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(max(1, int(window.Seconds())))
	limitHeader := strconv.Itoa(limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), rateKey(r), limit, window)
			if err != nil {
				// Fail open.
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Limit", limitHeader)
			if !allowed {
				w.Header().Set("Retry-After", retryAfter)
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rateKey(r *http.Request) string {
	if tenant := strings.TrimSpace(r.Header.Get(TenantHeader)); tenant != "" {
		return "api:tenant:" + tenant
	}
	return "api:ip:" + extractClientIP(r)
}

// extractClientIP returns the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote host.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
