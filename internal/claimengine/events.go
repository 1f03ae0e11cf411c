package claimengine

import (
	"encoding/json"
	"time"

	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/google/uuid"
)

const producerName = "fcfs-booking"
const envelopeVersion = "1.0"

// claimConfirmedPayload builds the claim.confirmed integration envelope.
func claimConfirmedPayload(eventID string, tenantID uuid.UUID, externalProjectID *string, slot domain.JobSlot, claim domain.Claim) []byte {
	data := map[string]any{
		"dw_project_id": externalProjectID,
		"job_post": map[string]any{
			"id":        slot.JobPostID,
			"work_date": slot.WorkDate.Format("2006-01-02"),
		},
		"slot": map[string]any{
			"slot_id": slot.ID,
			"status":  string(domain.SlotClaimed),
		},
		"claim": map[string]any{
			"claim_id":   claim.ID,
			"company_id": claim.CompanyID,
			"user_id":    claim.UserID,
			"claimed_at": claim.ClaimedAt.UTC().Format(time.RFC3339Nano),
		},
		"tenant_id": tenantID,
	}
	return envelope("claim.confirmed", eventID, data)
}

// claimCancelledPayload builds the symmetrical claim.cancelled envelope.
func claimCancelledPayload(eventID string, tenantID uuid.UUID, externalProjectID *string, slot domain.JobSlot) []byte {
	data := map[string]any{
		"dw_project_id": externalProjectID,
		"job_post": map[string]any{
			"id":        slot.JobPostID,
			"work_date": slot.WorkDate.Format("2006-01-02"),
		},
		"slot": map[string]any{
			"slot_id": slot.ID,
			"status":  string(domain.SlotCancelled),
		},
		"cancel": map[string]any{
			"cancel_reason": slot.CancelReason,
			"cancelled_at":  slot.CancelledAt.UTC().Format(time.RFC3339Nano),
		},
		"tenant_id": tenantID,
	}
	return envelope("claim.cancelled", eventID, data)
}

func envelope(event, id string, data map[string]any) []byte {
	body := map[string]any{
		"event":       event,
		"version":     envelopeVersion,
		"id":          id,
		"occurred_at": time.Now().UTC().Format(time.RFC3339Nano),
		"producer":    producerName,
		"data":        data,
	}
	b, _ := json.Marshal(body)
	return b
}

// mustJSON marshals audit payloads, which are always built from literal
// maps of known-marshalable values.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
