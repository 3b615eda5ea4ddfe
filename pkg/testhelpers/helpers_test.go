//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/paygap-engine/pkg/database"
)

func mustScope(t *testing.T, ctx context.Context) *pgxpool.Conn {
	t.Helper()
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		t.Fatal("no org scope in context")
	}
	return scope.Conn
}
