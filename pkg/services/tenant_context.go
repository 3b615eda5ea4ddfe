package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/paygap-engine/pkg/database"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

// TenantContextFunc acquires an org-scoped database connection.
// Returns the scoped context, a cleanup function (MUST be called), and any error.
// Background tasks use it because the request that enqueued them has already returned.
type TenantContextFunc func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error)

// NewTenantContextFunc creates a TenantContextFunc that uses the given database.
func NewTenantContextFunc(db *database.DB) TenantContextFunc {
	return func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
		scope, err := db.WithTenant(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
		tenantCtx := database.SetTenantScope(ctx, scope)
		return tenantCtx, func() { scope.Close() }, nil
	}
}

// WithActorWrapper wraps a TenantContextFunc so the scoped context carries
// actor as API provenance. Tasks use it to attribute their writes and audit
// events to the user whose request enqueued them.
func WithActorWrapper(fn TenantContextFunc, actor string) TenantContextFunc {
	return func(ctx context.Context, orgID uuid.UUID) (context.Context, func(), error) {
		tenantCtx, cleanup, err := fn(ctx, orgID)
		if err != nil {
			return nil, nil, err
		}
		return models.WithAPIProvenance(tenantCtx, actor), cleanup, nil
	}
}

// detachedWriteTimeout bounds terminal-state writes made after the task's own
// context is gone.
const detachedWriteTimeout = 10 * time.Second

// runDetached runs fn on a fresh org connection whose context survives
// cancellation of ctx. Used to record a terminal status for work that could
// not run.
func runDetached(ctx context.Context, getTenantCtx TenantContextFunc, orgID uuid.UUID, actor string, fn func(ctx context.Context) error) error {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedWriteTimeout)
	defer cancel()
	tenantCtx, cleanup, err := WithActorWrapper(getTenantCtx, actor)(detached, orgID)
	if err != nil {
		return fmt.Errorf("failed to acquire org connection: %w", err)
	}
	defer cleanup()
	return fn(tenantCtx)
}
