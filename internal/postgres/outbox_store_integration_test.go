//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/baechuer/fcfs-booking/internal/postgres"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxStore_ClaimBatch(t *testing.T) {
	pool := setupPool(t)
	store := postgres.NewOutboxStore(pool)
	ctx := context.Background()

	// one due, one future, one parked
	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_name, payload, target, status, retry_count, next_attempt_at)
		VALUES
			('evt-due',    'claim.confirmed', '{}', 'integration', 'pending', 0, NOW() - interval '1 second'),
			('evt-future', 'claim.confirmed', '{}', 'integration', 'pending', 0, NOW() + interval '1 hour'),
			('evt-parked', 'claim.confirmed', '{}', 'integration', 'failed',  5, NOW() - interval '1 second')
	`)
	require.NoError(t, err)

	events, err := store.ClaimBatch(ctx, 10, 5, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-due", events[0].EventID)

	// the claimed row is marked in-flight: an immediate second poll skips it
	events, err = store.ClaimBatch(ctx, 10, 5, 30*time.Second)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOutboxStore_SentAndRescheduleAndPark(t *testing.T) {
	pool := setupPool(t)
	store := postgres.NewOutboxStore(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_name, payload, target, status, retry_count, next_attempt_at)
		VALUES ('evt-1', 'claim.confirmed', '{}', 'integration', 'pending', 0, NOW())
	`)
	require.NoError(t, err)

	events, err := store.ClaimBatch(ctx, 10, 5, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 1)
	id := events[0].ID

	next := time.Now().Add(60 * time.Second)
	require.NoError(t, store.Reschedule(ctx, id, 1, next, "HTTP 500"))

	var status, lastErr string
	var retry int
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status, retry_count, last_error FROM outbox_events WHERE id = $1", id).
		Scan(&status, &retry, &lastErr))
	assert.Equal(t, "pending", status)
	assert.Equal(t, 1, retry)
	assert.Equal(t, "HTTP 500", lastErr)

	require.NoError(t, store.Park(ctx, id, 5, "HTTP 502"))
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status, retry_count FROM outbox_events WHERE id = $1", id).Scan(&status, &retry))
	assert.Equal(t, "failed", status)
	assert.Equal(t, 5, retry)

	require.NoError(t, store.MarkSent(ctx, id))
	var nullableErr *string
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status, last_error FROM outbox_events WHERE id = $1", id).Scan(&status, &nullableErr))
	assert.Equal(t, "sent", status)
	assert.Nil(t, nullableErr)
}

func TestOutboxStore_RequeueParkedEvent(t *testing.T) {
	pool := setupPool(t)
	f := seedFixture(t, pool, "2024-11-05")
	store := postgres.NewOutboxStore(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_name, payload, target, status, retry_count, next_attempt_at, last_error)
		VALUES ('evt-parked', 'claim.confirmed', '{}', 'integration', 'failed', 6, NOW(), 'HTTP 502')
	`)
	require.NoError(t, err)

	var id int64
	require.NoError(t, pool.QueryRow(ctx, "SELECT id FROM outbox_events WHERE event_id = 'evt-parked'").Scan(&id))

	actor := uuid.New()
	require.NoError(t, store.Requeue(ctx, id, f.TenantID, &actor, "admin"))

	var status string
	var retry int
	var next time.Time
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT status, retry_count, next_attempt_at FROM outbox_events WHERE id = $1", id).
		Scan(&status, &retry, &next))
	assert.Equal(t, "pending", status)
	assert.Zero(t, retry)
	// jittered 60s ±10%
	delay := time.Until(next)
	assert.Greater(t, delay, 50*time.Second)
	assert.Less(t, delay, 70*time.Second)

	// the requeue is audited under the operator's tenant
	assert.Equal(t, 1, countRows(t, pool,
		"SELECT COUNT(*) FROM audit_log WHERE action = 'outbox_requeue' AND tenant_id = $1", f.TenantID))

	// requeueing a non-parked event is a no-op error
	err = store.Requeue(ctx, id, f.TenantID, &actor, "admin")
	assert.Error(t, err)
}

func TestOutboxStore_ListEvents(t *testing.T) {
	pool := setupPool(t)
	store := postgres.NewOutboxStore(pool)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_name, payload, target, status, retry_count, next_attempt_at)
		VALUES
			('evt-a', 'claim.confirmed', '{}', 'integration', 'sent',    0, NOW()),
			('evt-b', 'claim.cancelled', '{}', 'integration', 'pending', 0, NOW())
	`)
	require.NoError(t, err)

	all, err := store.ListEvents(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	sent, err := store.ListEvents(ctx, "sent", 0)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, "evt-a", sent[0].EventID)
}
