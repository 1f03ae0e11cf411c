package postgres

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxStore implements dispatcher.Store plus the operator read/requeue
// views. It works on the pool directly: outbox rows carry no tenant and
// the dispatcher is deliberately tenant-agnostic.
type OutboxStore struct {
	pool *pgxpool.Pool
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

const outboxColumns = `id, event_id, event_name, payload, target, status, retry_count, next_attempt_at, last_error, created_at, updated_at`

// ClaimBatch selects deliverable rows with FOR UPDATE SKIP LOCKED so
// concurrent dispatcher instances never hand out the same row twice, then
// pushes next_attempt_at slightly into the future before committing. The
// push marks the rows in-flight without holding the claiming transaction
// open across network I/O.
//
// Parked rows carry retry_count >= maxRetries and are excluded here; an
// operator requeue resets retry_count and makes them deliverable again.
func (s *OutboxStore) ClaimBatch(ctx context.Context, batchSize, maxRetries int, inFlight time.Duration) ([]domain.OutboxEvent, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE status IN ('pending', 'failed')
		  AND next_attempt_at <= NOW()
		  AND retry_count < $2
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, batchSize, maxRetries)
	if err != nil {
		return nil, err
	}

	events, err := scanOutboxEvents(rows)
	if err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, tx.Commit(ctx)
	}

	inFlightUntil := time.Now().Add(inFlight)
	for _, ev := range events {
		if _, err := tx.Exec(ctx, `
			UPDATE outbox_events SET next_attempt_at = $2, updated_at = NOW() WHERE id = $1
		`, ev.ID, inFlightUntil); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'sent', last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (s *OutboxStore) Reschedule(ctx context.Context, id int64, retryCount int, nextAttemptAt time.Time, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = $2, next_attempt_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, retryCount, nextAttemptAt, lastErr)
	return err
}

func (s *OutboxStore) Park(ctx context.Context, id int64, retryCount int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'failed', retry_count = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`, id, retryCount, lastErr)
	return err
}

// Requeue re-pushes a parked event back to pending with a jittered next
// attempt (60s ±10%) so a bulk requeue does not thunder onto the target
// all at once. The requeue is audited under the operator's tenant in the
// same transaction.
func (s *OutboxStore) Requeue(ctx context.Context, id int64, tenantID uuid.UUID, actorUserID *uuid.UUID, actorRole string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
		return err
	}

	jitter := time.Duration(54+rand.Intn(13)) * time.Second // 60s ±10%
	tag, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = 'pending', retry_count = 0, next_attempt_at = NOW() + $2, updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id, jitter)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_log (tenant_id, actor_user_id, actor_role, action, target_table, target_id, payload, created_at)
		VALUES ($1, $2, $3, 'outbox_requeue', 'outbox_events', $4, $5, NOW())
	`, tenantID, actorUserID, actorRole, fmt.Sprint(id), []byte(fmt.Sprintf(`{"outbox_id": %d}`, id))); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListEvents is the operator read view over the outbox, newest first.
// status filters when non-empty.
func (s *OutboxStore) ListEvents(ctx context.Context, status string, limit int) ([]domain.OutboxEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if status != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+outboxColumns+`
			FROM outbox_events
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, status, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+outboxColumns+`
			FROM outbox_events
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	return scanOutboxEvents(rows)
}

// ListAudit is the operator read view over the audit trail, scoped to the
// caller's tenant both by predicate and by the row-level policy.
func (s *OutboxStore) ListAudit(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.AuditRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('app.tenant_id', $1, true)`, tenantID.String()); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, tenant_id, actor_user_id, actor_role, action, target_table, target_id, payload, created_at
		FROM audit_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}

	var out []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.TenantID, &a.ActorUserID, &a.ActorRole, &a.Action, &a.TargetTable, &a.TargetID, &a.Payload, &a.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func scanOutboxEvents(rows pgx.Rows) ([]domain.OutboxEvent, error) {
	defer rows.Close()
	var out []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.EventID, &ev.EventName, &ev.Payload, &ev.Target, &ev.Status,
			&ev.RetryCount, &ev.NextAttemptAt, &ev.LastError, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
