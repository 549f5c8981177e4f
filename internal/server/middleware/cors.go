package middleware

import (
	"net/http"
	"strings"
)

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-API-Key",
	TenantHeader,
	BrokerKeyHeader,
	BrokerTokenHeader,
}, ", ")

// corsPolicy is the parsed origin list. "*" or an empty list allows any
// origin; the request origin is echoed back either way.
type corsPolicy struct {
	any     bool
	origins map[string]bool
}

func newCORSPolicy(allowed []string) corsPolicy {
	p := corsPolicy{any: len(allowed) == 0, origins: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			p.any = true
		}
		p.origins[o] = true
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	return p.any || p.origins[strings.ToLower(origin)]
}

// CORS returns middleware that lets dashboards on the allowed origins call
// the API with tenant and broker headers. Preflight requests are answered
// here and never reach the API.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newCORSPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
				if policy.allows(origin) {
					h := w.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
					h.Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID, X-RateLimit-Limit")
					h.Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
