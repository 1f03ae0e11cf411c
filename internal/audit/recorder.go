// Package audit appends an immutable event row per significant state
// change, within the caller's transaction, so a rollback discards the
// audit entry along with the state change it describes.
package audit

import (
	"context"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Recorder implements domain.AuditRecorder against a transactional handle.
type Recorder struct {
	tx  pgx.Tx
	log zerolog.Logger
}

func New(tx pgx.Tx, log zerolog.Logger) *Recorder {
	return &Recorder{tx: tx, log: log.With().Bool("audit", true).Logger()}
}

// Append inserts one audit_log row and emits a matching structured log
// line. Only the row shares the caller's transaction lifetime: if the
// surrounding transaction aborts, the row never exists, but the log line
// (already written) remains and is treated as best-effort telemetry only.
func (r *Recorder) Append(ctx context.Context, e domain.AuditEntry) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO audit_log (tenant_id, actor_user_id, actor_role, action, target_table, target_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, e.TenantID, e.ActorUserID, e.ActorRole, e.Action, e.TargetTable, e.TargetID, e.Payload)
	if err != nil {
		return err
	}

	r.log.Info().
		Str("action", e.Action).
		Str("target_table", e.TargetTable).
		Str("target_id", e.TargetID).
		Str("tenant_id", e.TenantID.String()).
		Msg("audit")
	return nil
}
