package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository implements domain.ClaimRepository against a single
// transaction. Every statement filters on tenant_id = $tenant in addition
// to whatever RLS policy is active, so cross-tenant identifier guessing
// dead-ends even if a policy is misconfigured.
type Repository struct {
	tx       pgx.Tx
	tenantID uuid.UUID
}

func NewRepository(tx pgx.Tx, tenantID uuid.UUID) *Repository {
	return &Repository{tx: tx, tenantID: tenantID}
}

func (r *Repository) FindClaimByRequestID(ctx context.Context, requestID string) (*domain.Claim, *domain.JobSlot, error) {
	row := r.tx.QueryRow(ctx, `
		SELECT c.id, c.tenant_id, c.slot_id, c.company_id, c.user_id, c.request_id, c.claimed_at,
		       s.id, s.tenant_id, s.job_post_id, s.work_date, s.slot_no, s.status,
		       s.claimed_by_company, s.claimed_by_user, s.claimed_at, s.cancelled_at, s.cancel_reason, s.created_at
		FROM claims c
		JOIN job_slots s ON s.id = c.slot_id
		WHERE c.request_id = $1 AND c.tenant_id = $2
	`, requestID, r.tenantID)

	c, s, err := scanClaimAndSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return c, s, nil
}

func (r *Repository) GetSlot(ctx context.Context, slotID uuid.UUID) (*domain.JobSlot, error) {
	row := r.tx.QueryRow(ctx, `
		SELECT id, tenant_id, job_post_id, work_date, slot_no, status,
		       claimed_by_company, claimed_by_user, claimed_at, cancelled_at, cancel_reason, created_at
		FROM job_slots
		WHERE id = $1 AND tenant_id = $2
	`, slotID, r.tenantID)
	s, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// TryClaimSlot is the atomic FCFS compare-and-swap: a single conditional
// UPDATE filtered on status='available', relying on the storage engine to
// serialize concurrent attempts on the same row.
func (r *Repository) TryClaimSlot(ctx context.Context, slotID, companyID uuid.UUID, userID *uuid.UUID, now time.Time) (*domain.JobSlot, error) {
	row := r.tx.QueryRow(ctx, `
		UPDATE job_slots
		SET status = 'claimed', claimed_by_company = $3, claimed_by_user = $4, claimed_at = $5
		WHERE id = $1 AND tenant_id = $2 AND status = 'available'
		RETURNING id, tenant_id, job_post_id, work_date, slot_no, status,
		          claimed_by_company, claimed_by_user, claimed_at, cancelled_at, cancel_reason, created_at
	`, slotID, r.tenantID, companyID, userID, now)

	s, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCASMiss
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) InsertClaim(ctx context.Context, c domain.Claim) error {
	_, err := r.tx.Exec(ctx, `
		INSERT INTO claims (id, tenant_id, slot_id, company_id, user_id, request_id, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.TenantID, c.SlotID, c.CompanyID, c.UserID, c.RequestID, c.ClaimedAt)
	if err == nil {
		return nil
	}
	switch constraintName(err) {
	case "claims_tenant_id_request_id_key":
		return domain.ErrRequestIDConflict
	case "claims_slot_id_key":
		return domain.ErrSlotConflict
	default:
		return err
	}
}

func (r *Repository) GetSlotWithClaim(ctx context.Context, slotID uuid.UUID) (*domain.JobSlot, *domain.Claim, error) {
	slot, err := r.GetSlot(ctx, slotID)
	if err != nil {
		return nil, nil, err
	}

	row := r.tx.QueryRow(ctx, `
		SELECT id, tenant_id, slot_id, company_id, user_id, request_id, claimed_at
		FROM claims
		WHERE slot_id = $1 AND tenant_id = $2
	`, slotID, r.tenantID)
	claim, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return slot, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return slot, claim, nil
}

// CancelSlot conditionally moves claimed -> cancelled.
func (r *Repository) CancelSlot(ctx context.Context, slotID uuid.UUID, reason domain.CancelReason, now time.Time) (*domain.JobSlot, error) {
	row := r.tx.QueryRow(ctx, `
		UPDATE job_slots
		SET status = 'cancelled', cancelled_at = $3, cancel_reason = $4
		WHERE id = $1 AND tenant_id = $2 AND status = 'claimed'
		RETURNING id, tenant_id, job_post_id, work_date, slot_no, status,
		          claimed_by_company, claimed_by_user, claimed_at, cancelled_at, cancel_reason, created_at
	`, slotID, r.tenantID, now, string(reason))

	s, err := scanSlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCASMiss
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindAlternatives returns up to three available slots in the same
// project/trade within `days` calendar days of the origin, ordered by
// work_date ascending then created_at descending.
func (r *Repository) FindAlternatives(ctx context.Context, slotID uuid.UUID, days int) ([]domain.AlternativeSlot, error) {
	origin := r.tx.QueryRow(ctx, `
		SELECT s.work_date, jp.project_id, jp.trade
		FROM job_slots s
		JOIN job_posts jp ON jp.id = s.job_post_id
		WHERE s.id = $1 AND s.tenant_id = $2
	`, slotID, r.tenantID)

	var workDate time.Time
	var projectID uuid.UUID
	var trade string
	if err := origin.Scan(&workDate, &projectID, &trade); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	rows, err := r.tx.Query(ctx, `
		SELECT s.id, s.work_date, jp.id, jp.title, jp.trade
		FROM job_slots s
		JOIN job_posts jp ON jp.id = s.job_post_id
		WHERE jp.project_id = $1
		  AND jp.trade = $2
		  AND s.tenant_id = $3
		  AND s.status = 'available'
		  AND s.id <> $4
		  AND s.work_date BETWEEN $5::date - $6::int AND $5::date + $6::int
		ORDER BY s.work_date ASC, s.created_at DESC
		LIMIT 3
	`, projectID, trade, r.tenantID, slotID, workDate, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AlternativeSlot
	for rows.Next() {
		var a domain.AlternativeSlot
		if err := rows.Scan(&a.SlotID, &a.WorkDate, &a.JobPost.ID, &a.JobPost.Title, &a.JobPost.Trade); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) FindProjectExternalID(ctx context.Context, jobPostID uuid.UUID) (*string, error) {
	row := r.tx.QueryRow(ctx, `
		SELECT p.external_project_id
		FROM job_posts jp
		JOIN projects p ON p.id = jp.project_id
		WHERE jp.id = $1 AND jp.tenant_id = $2
	`, jobPostID, r.tenantID)

	var ext *string
	if err := row.Scan(&ext); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return ext, nil
}

func scanSlot(row pgx.Row) (*domain.JobSlot, error) {
	var s domain.JobSlot
	var reason *string
	if err := row.Scan(&s.ID, &s.TenantID, &s.JobPostID, &s.WorkDate, &s.SlotNo, &s.Status,
		&s.ClaimedByCompany, &s.ClaimedByUser, &s.ClaimedAt, &s.CancelledAt, &reason, &s.CreatedAt); err != nil {
		return nil, err
	}
	if reason != nil {
		cr := domain.CancelReason(*reason)
		s.CancelReason = &cr
	}
	return &s, nil
}

func scanClaim(row pgx.Row) (*domain.Claim, error) {
	var c domain.Claim
	if err := row.Scan(&c.ID, &c.TenantID, &c.SlotID, &c.CompanyID, &c.UserID, &c.RequestID, &c.ClaimedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanClaimAndSlot(row pgx.Row) (*domain.Claim, *domain.JobSlot, error) {
	var c domain.Claim
	var s domain.JobSlot
	var reason *string
	err := row.Scan(&c.ID, &c.TenantID, &c.SlotID, &c.CompanyID, &c.UserID, &c.RequestID, &c.ClaimedAt,
		&s.ID, &s.TenantID, &s.JobPostID, &s.WorkDate, &s.SlotNo, &s.Status,
		&s.ClaimedByCompany, &s.ClaimedByUser, &s.ClaimedAt, &s.CancelledAt, &reason, &s.CreatedAt)
	if err != nil {
		return nil, nil, err
	}
	if reason != nil {
		cr := domain.CancelReason(*reason)
		s.CancelReason = &cr
	}
	return &c, &s, nil
}

// constraintName extracts the violated constraint name from a pgx error,
// if any, so callers can discriminate unique-violation causes without
// string-matching the error message.
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
