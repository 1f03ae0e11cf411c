//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/baechuer/fcfs-booking/internal/logging"
	"github.com/baechuer/fcfs-booking/internal/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDSN resolves the database under test: TEST_DB_DSN when provided,
// otherwise a throwaway postgres container.
func testDSN(t *testing.T) string {
	t.Helper()

	if dsn := os.Getenv("TEST_DB_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("booking_test"),
		tcpostgres.WithUsername("booking"),
		tcpostgres.WithPassword("booking"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping integration test: no TEST_DB_DSN and no docker (%v)", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// setupPool migrates the schema and wipes all state for a fresh run.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	log := logging.New(os.Stderr, logging.Options{Service: "fcfs-booking-test", Format: "json"})

	dsn := testDSN(t)
	require.NoError(t, postgres.RunMigrations(dsn, log))

	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(context.Background(),
		"TRUNCATE TABLE audit_log, outbox_events, claims, job_slots, job_posts, projects, tenants RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return pool
}

type fixture struct {
	TenantID  uuid.UUID
	ProjectID uuid.UUID
	JobPostID uuid.UUID
	SlotIDs   []uuid.UUID // one per work date, slot_no=1
}

// seedFixture creates a tenant with one published interior job post and
// one available slot per work date.
func seedFixture(t *testing.T, pool *pgxpool.Pool, workDates ...string) fixture {
	t.Helper()
	ctx := context.Background()

	f := fixture{
		TenantID:  uuid.New(),
		ProjectID: uuid.New(),
		JobPostID: uuid.New(),
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO tenants (id, name, integration_mode, active) VALUES ($1, 'Test Tenant', 'standalone', true)
	`, f.TenantID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO projects (id, tenant_id, name, address, start_date, end_date, external_project_id)
		VALUES ($1, $2, 'Test Project', '1-1 Test-cho', '2024-11-01', '2024-11-30', 'dw-proj-1')
	`, f.ProjectID, f.TenantID)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO job_posts (id, tenant_id, project_id, trade, title, start_date, end_date, price_cents, published)
		VALUES ($1, $2, $3, 'interior', '5階内装仕上げ工事', '2024-11-05', '2024-11-07', 5000000, true)
	`, f.JobPostID, f.TenantID, f.ProjectID)
	require.NoError(t, err)

	for _, d := range workDates {
		id := uuid.New()
		_, err = pool.Exec(ctx, `
			INSERT INTO job_slots (id, tenant_id, job_post_id, work_date, slot_no, status)
			VALUES ($1, $2, $3, $4, 1, 'available')
		`, id, f.TenantID, f.JobPostID, d)
		require.NoError(t, err)
		f.SlotIDs = append(f.SlotIDs, id)
	}

	return f
}

func countRows(t *testing.T, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(), query, args...).Scan(&n))
	return n
}

func newEngineHarness(t *testing.T, pool *pgxpool.Pool) *postgres.TxManager {
	t.Helper()
	return postgres.NewTxManager(pool, zerolog.Nop())
}

var _ domain.TxManager = (*postgres.TxManager)(nil)
