package database

import (
	"context"
)

// tenantScopeKey keys the org-scoped connection in a request or task context.
type tenantScopeKey struct{}

// GetTenantScope returns the org-scoped connection stored in ctx, if any.
// Repositories refuse to run without one.
func GetTenantScope(ctx context.Context) (*TenantScope, bool) {
	scope, ok := ctx.Value(tenantScopeKey{}).(*TenantScope)
	return scope, ok && scope != nil
}

// SetTenantScope stores scope in ctx.
func SetTenantScope(ctx context.Context, scope *TenantScope) context.Context {
	return context.WithValue(ctx, tenantScopeKey{}, scope)
}
