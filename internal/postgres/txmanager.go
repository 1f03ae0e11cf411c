// Package postgres holds the transaction manager, the tenant-scoped
// claim repository, the outbox store, and the schema migrations.
//
// Every claim-engine write goes through TxManager.RunInTx, which binds the
// tenant identity to the transaction before any query runs; a repository
// is always built on a transaction handle (NewRepository takes a pgx.Tx).
// The outbox store's operator requeue writes in its own transaction and
// binds the tenant there.
package postgres

import (
	"context"
	"fmt"

	"github.com/baechuer/fcfs-booking/internal/audit"
	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/baechuer/fcfs-booking/internal/outboxproducer"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// TxManager implements domain.TxManager against a *pgxpool.Pool.
type TxManager struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewTxManager(pool *pgxpool.Pool, log zerolog.Logger) *TxManager {
	return &TxManager{pool: pool, log: log}
}

// RunInTx opens a transaction, binds tenantID as a transaction-local
// Postgres setting so row-level security policies (see
// migrations/0002_rls.up.sql) scope every query to that tenant, invokes fn,
// and commits on success or rolls back otherwise — including when fn
// panics, in which case the rollback runs and the panic is re-raised so a
// handler panic never leaves a dangling transaction or connection.
func (m *TxManager) RunInTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, repo domain.ClaimRepository, rec domain.AuditRecorder, out domain.OutboxProducer) error) (err error) {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// SET LOCAL scopes to this transaction only; it never leaks across
	// pooled connections once the transaction ends.
	if _, err = tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
		return fmt.Errorf("set tenant context: %w", err)
	}

	repo := NewRepository(tx, tenantID)
	rec := audit.New(tx, m.log)
	out := outboxproducer.New(tx)

	if err = fn(ctx, repo, rec, out); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
