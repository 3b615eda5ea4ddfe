// Package testhelpers provides utilities for integration-testing paygap-engine components.
package testhelpers

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/database"
)

const (
	postgresImage = "postgres:16-alpine"
	adminUser     = "paygap"
	adminPassword = "test_password"
	testDatabase  = "paygap_engine_test"

	// appRole is not a superuser, so row-level security applies to it.
	appRole     = "paygap_app"
	appPassword = "app_password"
)

// EngineDB holds a migrated database. DB connects as a non-superuser role so
// org isolation policies are enforced; Admin bypasses them for setup and cleanup.
type EngineDB struct {
	Container *postgres.PostgresContainer
	DB        *database.DB
	Admin     *pgxpool.Pool
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared database for integration tests.
// The container is started once per test binary and migrations are applied.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

// MigrationsPath returns the absolute path of the repository's migrations directory.
func MigrationsPath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func setupEngineDB() (*EngineDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := postgres.Run(ctx,
		postgresImage,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(adminUser),
		postgres.WithPassword(adminPassword),
		postgres.BasicWaitStrategies(),
		testcontainers.WithLabels(map[string]string{"test": "paygap-engine"}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	adminConnStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	admin, err := database.NewConnection(ctx, &database.Config{URL: adminConnStr, MaxConnections: 5})
	if err != nil {
		return nil, fmt.Errorf("failed to connect as admin: %w", err)
	}

	sqlDB := admin.SQLDB()
	defer sqlDB.Close()
	if err := database.RunMigrations(sqlDB, MigrationsPath(), zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	grants := []string{
		fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD '%s' NOSUPERUSER", appRole, appPassword),
		fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA public TO %s", appRole),
	}
	for _, stmt := range grants {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to prepare app role: %w", err)
		}
	}

	appURL, err := url.Parse(adminConnStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	appURL.User = url.UserPassword(appRole, appPassword)

	db, err := database.NewConnection(ctx, &database.Config{URL: appURL.String(), MaxConnections: 10})
	if err != nil {
		return nil, fmt.Errorf("failed to connect as app role: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		Admin:     admin.Pool,
		ConnStr:   appURL.String(),
	}, nil
}

// CreateTestContext returns a context carrying an org-scoped connection for orgID.
// The cleanup function releases the connection.
func (e *EngineDB) CreateTestContext(t *testing.T, orgID uuid.UUID) (context.Context, func()) {
	t.Helper()

	scope, err := e.DB.WithTenant(context.Background(), orgID)
	if err != nil {
		t.Fatalf("Failed to create org scope: %v", err)
	}
	return database.SetTenantScope(context.Background(), scope), scope.Close
}

// CleanupOrg deletes every row belonging to orgID.
func (e *EngineDB) CleanupOrg(t *testing.T, orgID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	for _, table := range []string{
		"paygap_narrative_reports",
		"paygap_group_results",
		"paygap_risk_runs",
		"paygap_employee_snapshots",
		"paygap_employees",
		"paygap_import_jobs",
	} {
		if _, err := e.Admin.Exec(ctx, "DELETE FROM "+table+" WHERE org_id = $1", orgID); err != nil {
			t.Logf("cleanup %s: %v", table, err)
		}
	}
}
