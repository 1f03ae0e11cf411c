// Package outboxproducer enqueues integration event rows with
// status=pending, always within the same transaction as the state change
// being announced, so the change and its announcement commit atomically.
package outboxproducer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Producer implements domain.OutboxProducer against a transactional
// handle. It never runs outside the transaction it was constructed with.
type Producer struct {
	tx pgx.Tx
}

func New(tx pgx.Tx) *Producer {
	return &Producer{tx: tx}
}

// NewEventID derives a globally unique event id from an entity id, the
// current time, and a random suffix.
func NewEventID(entityID string) string {
	var buf [6]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%d-%s", entityID, time.Now().UTC().UnixNano(), hex.EncodeToString(buf[:]))
}

// Enqueue inserts one outbox row with status=pending and
// next_attempt_at=now, within the caller's transaction.
func (p *Producer) Enqueue(ctx context.Context, eventID, eventName, target string, payload []byte) error {
	_, err := p.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, event_name, payload, target, status, retry_count, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, NOW(), NOW(), NOW())
	`, eventID, eventName, payload, target)
	return err
}
