// Package claimengine implements first-come-first-served claim, cancel,
// and alternatives over the job-slot state machine. All storage, audit,
// and outbox access goes through the domain.TxManager port, so this
// package never imports a database driver directly and can be exercised
// in tests against an in-memory fake.
//
// Contention on a slot is resolved by a single conditional update
// (UPDATE ... WHERE status = 'available' RETURNING ...): the storage
// engine serializes concurrent attempts on the row, so at most one
// caller observes the slot as available. No application-held locks.
package claimengine

import (
	"context"
	"errors"
	"time"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/baechuer/fcfs-booking/internal/outboxproducer"
	"github.com/google/uuid"
)

// OutboxTarget names the integration target tag stored on every enqueued
// event.
const OutboxTarget = "integration"

// Engine brokers FCFS claims over job slots.
type Engine struct {
	txm domain.TxManager
}

func New(txm domain.TxManager) *Engine {
	return &Engine{txm: txm}
}

type ClaimInput struct {
	SlotID    uuid.UUID
	CompanyID uuid.UUID
	UserID    *uuid.UUID
	RequestID string
}

type ClaimResult struct {
	Slot  domain.JobSlot
	Claim domain.Claim
}

func (in ClaimInput) validate() *Error {
	if in.SlotID == uuid.Nil {
		return ErrValidation("slotId is required")
	}
	if in.CompanyID == uuid.Nil {
		return ErrValidation("companyId is required")
	}
	if in.RequestID == "" {
		return ErrValidation("requestId is required")
	}
	return nil
}

// Claim attempts the FCFS transition available -> claimed. Under
// concurrent invocation on the same slot exactly one caller succeeds;
// the rest get ALREADY_CLAIMED. A repeat call with an already-used
// request id returns the first call's stored result unchanged, with no
// further writes.
func (e *Engine) Claim(ctx context.Context, tenantID uuid.UUID, in ClaimInput) (*ClaimResult, *Error) {
	if tenantID == uuid.Nil {
		return nil, ErrValidation("tenant is required")
	}
	if verr := in.validate(); verr != nil {
		return nil, verr
	}

	var result *ClaimResult
	var engineErr *Error

	txErr := e.txm.RunInTx(ctx, tenantID, func(ctx context.Context, repo domain.ClaimRepository, rec domain.AuditRecorder, out domain.OutboxProducer) error {
		now := time.Now().UTC()

		// Step 1: idempotency probe.
		if existingClaim, existingSlot, err := repo.FindClaimByRequestID(ctx, in.RequestID); err == nil {
			result = &ClaimResult{Slot: *existingSlot, Claim: *existingClaim}
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			engineErr = ErrInternal(err.Error())
			return err
		}

		// Step 2: atomic FCFS CAS.
		slot, err := repo.TryClaimSlot(ctx, in.SlotID, in.CompanyID, in.UserID, now)
		if err != nil {
			if errors.Is(err, domain.ErrCASMiss) {
				cur, getErr := repo.GetSlot(ctx, in.SlotID)
				if getErr != nil {
					if errors.Is(getErr, domain.ErrNotFound) {
						engineErr = ErrNotFound("slot not found")
						return engineErr
					}
					engineErr = ErrInternal(getErr.Error())
					return getErr
				}
				if cur.Status != domain.SlotAvailable {
					engineErr = ErrAlreadyClaimed("slot is already claimed")
					return engineErr
				}
				// Status flipped back to available between the CAS and
				// this read (lost to another racer in between); treat as
				// conflict rather than loop — the caller can retry.
				engineErr = ErrAlreadyClaimed("slot is already claimed")
				return engineErr
			}
			engineErr = ErrInternal(err.Error())
			return err
		}

		claim := domain.Claim{
			ID:        uuid.New(),
			TenantID:  tenantID,
			SlotID:    in.SlotID,
			CompanyID: in.CompanyID,
			UserID:    in.UserID,
			RequestID: in.RequestID,
			ClaimedAt: now,
		}

		// Step 3: claim row insert.
		if err := repo.InsertClaim(ctx, claim); err != nil {
			switch {
			case errors.Is(err, domain.ErrRequestIDConflict):
				// A concurrent sibling with the same request_id won;
				// behaviourally equivalent to the step-1 idempotency hit.
				sibClaim, sibSlot, getErr := repo.FindClaimByRequestID(ctx, in.RequestID)
				if getErr != nil {
					engineErr = ErrInternal(getErr.Error())
					return getErr
				}
				result = &ClaimResult{Slot: *sibSlot, Claim: *sibClaim}
				return nil
			case errors.Is(err, domain.ErrSlotConflict):
				// Defensive backstop on the one-claim-per-slot constraint;
				// should be unreachable given a correct CAS, but never
				// surfaces as INTERNAL.
				engineErr = ErrAlreadyClaimed("slot is already claimed")
				return engineErr
			default:
				engineErr = ErrInternal(err.Error())
				return err
			}
		}

		// Step 4: outbox enqueue.
		extProjectID, err := repo.FindProjectExternalID(ctx, slot.JobPostID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			engineErr = ErrInternal(err.Error())
			return err
		}
		eventID := outboxproducer.NewEventID(claim.ID.String())
		payload := claimConfirmedPayload(eventID, tenantID, extProjectID, *slot, claim)
		if err := out.Enqueue(ctx, eventID, "claim.confirmed", OutboxTarget, payload); err != nil {
			engineErr = ErrInternal(err.Error())
			return err
		}

		// Step 5: audit.
		auditPayload := map[string]any{
			"previous_status": string(domain.SlotAvailable),
			"new_status":      string(domain.SlotClaimed),
			"company_id":      in.CompanyID,
			"request_id":      in.RequestID,
		}
		if err := rec.Append(ctx, domain.AuditEntry{
			TenantID:    tenantID,
			ActorUserID: in.UserID,
			Action:      "claim",
			TargetTable: "job_slots",
			TargetID:    in.SlotID.String(),
			Payload:     mustJSON(auditPayload),
		}); err != nil {
			engineErr = ErrInternal(err.Error())
			return err
		}

		result = &ClaimResult{Slot: *slot, Claim: claim}
		return nil
	})

	if txErr != nil {
		if engineErr != nil {
			return nil, engineErr
		}
		return nil, ErrInternal(txErr.Error())
	}
	return result, nil
}

// Cancel moves a claimed slot to cancelled, keeping the claim row for
// history. Cancellation does not re-open the slot.
func (e *Engine) Cancel(ctx context.Context, tenantID, slotID uuid.UUID, reason domain.CancelReason) (*domain.JobSlot, *Error) {
	if tenantID == uuid.Nil || slotID == uuid.Nil {
		return nil, ErrValidation("tenant and slotId are required")
	}
	if !reason.Valid() {
		return nil, ErrValidation("reason must be one of no_show, weather, client_change, material_delay, other")
	}

	var result *domain.JobSlot
	var engineErr *Error

	txErr := e.txm.RunInTx(ctx, tenantID, func(ctx context.Context, repo domain.ClaimRepository, rec domain.AuditRecorder, out domain.OutboxProducer) error {
		now := time.Now().UTC()

		slot, _, err := repo.GetSlotWithClaim(ctx, slotID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				engineErr = ErrNotFound("slot not found")
				return engineErr
			}
			engineErr = ErrInternal(err.Error())
			return err
		}

		switch slot.Status {
		case domain.SlotAvailable:
			engineErr = ErrSlotNotClaimed("slot was never claimed")
			return engineErr
		case domain.SlotCancelled:
			engineErr = ErrAlreadyCancelled("slot is already cancelled")
			return engineErr
		case domain.SlotCompleted:
			engineErr = ErrAlreadyCompleted("slot is already completed")
			return engineErr
		}

		cancelled, err := repo.CancelSlot(ctx, slotID, reason, now)
		if err != nil {
			if errors.Is(err, domain.ErrCASMiss) {
				engineErr = ErrCancelFailed("slot changed concurrently; retry")
				return engineErr
			}
			engineErr = ErrInternal(err.Error())
			return err
		}

		extProjectID, err := repo.FindProjectExternalID(ctx, cancelled.JobPostID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			engineErr = ErrInternal(err.Error())
			return err
		}
		eventID := outboxproducer.NewEventID(slotID.String())
		payload := claimCancelledPayload(eventID, tenantID, extProjectID, *cancelled)
		if err := out.Enqueue(ctx, eventID, "claim.cancelled", OutboxTarget, payload); err != nil {
			engineErr = ErrInternal(err.Error())
			return err
		}

		auditPayload := map[string]any{
			"previous_status": string(domain.SlotClaimed),
			"new_status":      string(domain.SlotCancelled),
			"cancel_reason":   string(reason),
		}
		if err := rec.Append(ctx, domain.AuditEntry{
			TenantID:    tenantID,
			Action:      "cancel",
			TargetTable: "job_slots",
			TargetID:    slotID.String(),
			Payload:     mustJSON(auditPayload),
		}); err != nil {
			engineErr = ErrInternal(err.Error())
			return err
		}

		result = cancelled
		return nil
	})

	if txErr != nil {
		if engineErr != nil {
			return nil, engineErr
		}
		return nil, ErrInternal(txErr.Error())
	}
	return result, nil
}

// Alternatives finds up to three available slots in the origin's project
// and trade within the given day window. It is a single read transaction
// and holds no locks.
func (e *Engine) Alternatives(ctx context.Context, tenantID, slotID uuid.UUID, days int) ([]domain.AlternativeSlot, *Error) {
	if tenantID == uuid.Nil || slotID == uuid.Nil {
		return nil, ErrValidation("tenant and slotId are required")
	}
	if days < 1 || days > 30 {
		return nil, ErrValidation("days must be between 1 and 30")
	}

	var result []domain.AlternativeSlot
	var engineErr *Error

	txErr := e.txm.RunInTx(ctx, tenantID, func(ctx context.Context, repo domain.ClaimRepository, _ domain.AuditRecorder, _ domain.OutboxProducer) error {
		alts, err := repo.FindAlternatives(ctx, slotID, days)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				engineErr = ErrNotFound("slot not found")
				return engineErr
			}
			engineErr = ErrInternal(err.Error())
			return err
		}
		result = alts
		return nil
	})

	if txErr != nil {
		if engineErr != nil {
			return nil, engineErr
		}
		return nil, ErrInternal(txErr.Error())
	}
	return result, nil
}
