package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ocx/crm-automation/internal/central"
)

type ctxKey int

const tenantCodeKey ctxKey = iota

// WithTenantCode attaches a resolved tenant code to ctx.
func WithTenantCode(ctx context.Context, tenantCode string) context.Context {
	return context.WithValue(ctx, tenantCodeKey, tenantCode)
}

// TenantCodeFromContext returns the tenant code attached by TenantAuth, or
// "" if none is present (e.g. an admin-only route).
func TenantCodeFromContext(ctx context.Context) string {
	code, _ := ctx.Value(tenantCodeKey).(string)
	return code
}

// TenantAuth authenticates every request against the central tenant store
// using the x-api-key / x-client-code header pair (the "Tenant auth
// middleware" contract) and attaches the resolved tenantCode to the
// request context for downstream handlers.
func TenantAuth(store *central.Store, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("x-api-key")
		clientCode := r.Header.Get("x-client-code")
		if apiKey == "" {
			writeAuthError(w, http.StatusUnauthorized, "missing x-api-key header")
			return
		}

		tenant, err := store.ValidateAPIKey(r.Context(), apiKey)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		if clientCode != "" && clientCode != tenant.TenantCode {
			writeAuthError(w, http.StatusUnauthorized, "x-client-code does not match the authenticated tenant")
			return
		}

		ctx := WithTenantCode(r.Context(), tenant.TenantCode)
		next(w, r.WithContext(ctx))
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
