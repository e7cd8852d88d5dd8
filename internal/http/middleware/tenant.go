package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/wolfman30/voice-turn-core/internal/tenancy"
)

// TenantHeader carries the tenant on voice transport requests.
const TenantHeader = "X-Tenant-Id"

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// RequireTenant rejects requests without a well-formed X-Tenant-Id and
// stores the tenant in the request context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := strings.TrimSpace(r.Header.Get(TenantHeader))
		if tenantID == "" {
			http.Error(w, "missing X-Tenant-Id", http.StatusBadRequest)
			return
		}
		if !tenantIDPattern.MatchString(tenantID) {
			http.Error(w, "invalid X-Tenant-Id", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r.WithContext(tenancy.WithTenantID(r.Context(), tenantID)))
	})
}
