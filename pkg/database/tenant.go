package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// orgSetting is the session variable every row-level security policy reads.
const orgSetting = "app.current_org_id"

const resetTimeout = 5 * time.Second

// TenantScope is a pooled connection bound to one organization.
type TenantScope struct {
	Conn  *pgxpool.Conn
	OrgID uuid.UUID
}

// Close clears the org binding and returns the connection to the pool.
// Skipping it would leak one org's visibility into the next borrower.
func (s *TenantScope) Close() {
	if s.Conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	if _, err := s.Conn.Exec(ctx, "RESET "+orgSetting); err != nil {
		// The session still carries the org; drop it rather than recycle it.
		_ = s.Conn.Conn().Close(ctx)
	}
	s.Conn.Release()
	s.Conn = nil
}

// WithTenant borrows a connection and binds it to orgID. Callers defer Close.
func (db *DB) WithTenant(ctx context.Context, orgID uuid.UUID) (*TenantScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT set_config($1, $2, false)", orgSetting, orgID.String()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("set org scope: %w", err)
	}

	return &TenantScope{Conn: conn, OrgID: orgID}, nil
}
