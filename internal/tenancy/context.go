package tenancy

import "context"

type ctxKey string

const (
	tenantKey ctxKey = "voice.tenant_id"
	callKey   ctxKey = "voice.call_id"
)

// WithTenantID stores the tenant id in context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

// TenantIDFromContext extracts the tenant id if present.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, tenantKey)
}

// WithCallID stores the call leg id in context.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callKey, callID)
}

// CallIDFromContext extracts the call id if present.
func CallIDFromContext(ctx context.Context) (string, bool) {
	return stringValue(ctx, callKey)
}

func stringValue(ctx context.Context, key ctxKey) (string, bool) {
	val := ctx.Value(key)
	if val == nil {
		return "", false
	}
	s, ok := val.(string)
	return s, ok && s != ""
}
