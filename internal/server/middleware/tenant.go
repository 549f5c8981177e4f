package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// Request headers carrying the tenant and its broker session.
const (
	TenantHeader      = "X-Tenant-ID"
	BrokerKeyHeader   = "X-Broker-API-Key"
	BrokerTokenHeader = "X-Broker-Access-Token"
)

type tenantKey struct{}

// Tenant returns middleware that builds the domain.TenantContext from the
// request headers. Requests without a tenant id are rejected with 400.
func Tenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc := domain.TenantContext{
				TenantID: strings.TrimSpace(r.Header.Get(TenantHeader)),
				Credentials: domain.Credentials{
					APIKey:      r.Header.Get(BrokerKeyHeader),
					AccessToken: r.Header.Get(BrokerTokenHeader),
				},
			}
			if err := tc.Validate(); err != nil {
				writeJSONError(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tc)))
		})
	}
}

// WithTenant returns a copy of ctx carrying tc.
func WithTenant(ctx context.Context, tc domain.TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, tc)
}

// TenantFrom returns the TenantContext stored by Tenant.
func TenantFrom(ctx context.Context) (domain.TenantContext, bool) {
	tc, ok := ctx.Value(tenantKey{}).(domain.TenantContext)
	return tc, ok
}
