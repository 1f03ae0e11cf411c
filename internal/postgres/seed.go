package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed seed/seed.sql
var seedFS embed.FS

// seedTenantID matches the tenant inserted by seed/seed.sql; the row-level
// policies need it bound before the tenant-scoped inserts run.
const seedTenantID = "550e8400-0000-0000-0000-000000440001"

// ApplySeed loads a small demo dataset for local manual testing. Callers
// are expected to refuse this in production environments.
func ApplySeed(ctx context.Context, pool *pgxpool.Pool) error {
	b, err := seedFS.ReadFile("seed/seed.sql")
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, seedTenantID); err != nil {
		return fmt.Errorf("set tenant context: %w", err)
	}
	if _, err := tx.Exec(ctx, string(b)); err != nil {
		return fmt.Errorf("apply seed: %w", err)
	}
	return tx.Commit(ctx)
}
