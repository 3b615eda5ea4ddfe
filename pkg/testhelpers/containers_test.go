//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineDB_MigrationsApplied(t *testing.T) {
	engineDB := GetEngineDB(t)
	ctx := context.Background()

	for _, table := range []string{
		"paygap_import_jobs",
		"paygap_employees",
		"paygap_employee_snapshots",
		"paygap_risk_runs",
		"paygap_group_results",
		"paygap_narrative_reports",
	} {
		var rls bool
		err := engineDB.Admin.QueryRow(ctx,
			"SELECT relrowsecurity FROM pg_class WHERE relname = $1", table).Scan(&rls)
		require.NoError(t, err, table)
		assert.True(t, rls, "%s should have row level security enabled", table)
	}
}

func TestEngineDB_OrgIsolation(t *testing.T) {
	engineDB := GetEngineDB(t)
	orgA, orgB := uuid.New(), uuid.New()
	t.Cleanup(func() {
		engineDB.CleanupOrg(t, orgA)
		engineDB.CleanupOrg(t, orgB)
	})

	_, err := engineDB.Admin.Exec(context.Background(), `
		INSERT INTO paygap_risk_runs (org_id, trigger) VALUES ($1, 'on_demand')`, orgA)
	require.NoError(t, err)

	ctxB, cleanupB := engineDB.CreateTestContext(t, orgB)
	defer cleanupB()

	scope := mustScope(t, ctxB)
	var visible int
	require.NoError(t, scope.QueryRow(ctxB, "SELECT COUNT(*) FROM paygap_risk_runs").Scan(&visible))
	assert.Equal(t, 0, visible, "org B must not see org A runs")

	ctxA, cleanupA := engineDB.CreateTestContext(t, orgA)
	defer cleanupA()
	require.NoError(t, mustScope(t, ctxA).QueryRow(ctxA, "SELECT COUNT(*) FROM paygap_risk_runs").Scan(&visible))
	assert.Equal(t, 1, visible)
}
