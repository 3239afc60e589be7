// Package tenantctx carries the active tenant through request and job
// contexts. Background workers must re-enter a tenant context explicitly;
// there is no process-wide current tenant.
package tenantctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// TenantContextKey is the context key for the active tenant ID.
type TenantContextKey struct{}

// WithTenantID stores the tenant ID in the context.
func WithTenantID(ctx context.Context, tenantID snowflake.ID) context.Context {
	return context.WithValue(ctx, TenantContextKey{}, tenantID)
}

// WithPlatform marks the context as platform-scoped (no tenant).
func WithPlatform(ctx context.Context) context.Context {
	return context.WithValue(ctx, TenantContextKey{}, snowflake.ID(0))
}

// TenantIDFromContext returns the tenant ID from context, if set.
// A stored zero ID means platform scope and reports ok=false.
func TenantIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(TenantContextKey{})
	switch typed := value.(type) {
	case snowflake.ID:
		return typed, typed != 0
	case int64:
		return snowflake.ID(typed), typed != 0
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, parsed != 0
		}
	}
	return 0, false
}
