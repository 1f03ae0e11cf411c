package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/baechuer/fcfs-booking/internal/claimengine"
	"github.com/baechuer/fcfs-booking/internal/domain"
	"github.com/baechuer/fcfs-booking/internal/metrics"
	"github.com/baechuer/fcfs-booking/internal/transport/rest/response"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
)

// OutboxAdmin is the operator surface over the outbox and audit trail.
// Implemented by postgres.OutboxStore.
type OutboxAdmin interface {
	ListEvents(ctx context.Context, status string, limit int) ([]domain.OutboxEvent, error)
	Requeue(ctx context.Context, id int64, tenantID uuid.UUID, actorUserID *uuid.UUID, actorRole string) error
	ListAudit(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.AuditRecord, error)
}

type Handler struct {
	engine *claimengine.Engine
	admin  OutboxAdmin
}

func NewHandler(engine *claimengine.Engine, admin OutboxAdmin) *Handler {
	return &Handler{engine: engine, admin: admin}
}

const dateLayout = "2006-01-02"

type claimRequest struct {
	SlotID    string `json:"slotId"`
	CompanyID string `json:"companyId"`
	RequestID string `json:"requestId"`
}

type slotView struct {
	ID       uuid.UUID `json:"id"`
	Status   string    `json:"status"`
	WorkDate string    `json:"work_date"`
}

type claimView struct {
	ID        uuid.UUID  `json:"id"`
	CompanyID uuid.UUID  `json:"company_id"`
	UserID    *uuid.UUID `json:"user_id"`
	ClaimedAt time.Time  `json:"claimed_at"`
}

type claimResponse struct {
	Slot  slotView  `json:"slot"`
	Claim claimView `json:"claim"`
}

// Claim handles POST /claims.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		unauthorized(w)
		return
	}

	var req claimRequest
	if err := decodeStrict(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "invalid body")
		return
	}

	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "slotId must be a valid uuid")
		return
	}
	companyID, err := uuid.Parse(req.CompanyID)
	if err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "companyId must be a valid uuid")
		return
	}
	if _, err := uuid.Parse(req.RequestID); err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "requestId must be a valid uuid")
		return
	}

	res, cerr := h.engine.Claim(r.Context(), auth.TenantID, claimengine.ClaimInput{
		SlotID:    slotID,
		CompanyID: companyID,
		UserID:    auth.UserID,
		RequestID: req.RequestID,
	})
	if cerr != nil {
		metrics.RecordClaim(outcomeOf(cerr.Kind))
		engineFail(w, cerr)
		return
	}
	metrics.RecordClaim("success")

	render.Status(r, http.StatusOK)
	render.JSON(w, r, claimResponse{
		Slot: slotView{
			ID:       res.Slot.ID,
			Status:   string(res.Slot.Status),
			WorkDate: res.Slot.WorkDate.Format(dateLayout),
		},
		Claim: claimView{
			ID:        res.Claim.ID,
			CompanyID: res.Claim.CompanyID,
			UserID:    res.Claim.UserID,
			ClaimedAt: res.Claim.ClaimedAt,
		},
	})
}

type cancelRequest struct {
	SlotID string `json:"slotId"`
	Reason string `json:"reason"`
}

type cancelledSlotView struct {
	ID           uuid.UUID  `json:"id"`
	Status       string     `json:"status"`
	CanceledAt   *time.Time `json:"canceled_at"`
	CancelReason string     `json:"cancel_reason"`
}

type cancelResponse struct {
	Slot cancelledSlotView `json:"slot"`
}

// Cancel handles POST /cancel-claim.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		unauthorized(w)
		return
	}

	var req cancelRequest
	if err := decodeStrict(r, &req); err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "invalid body")
		return
	}

	slotID, err := uuid.Parse(req.SlotID)
	if err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "slotId must be a valid uuid")
		return
	}

	slot, cerr := h.engine.Cancel(r.Context(), auth.TenantID, slotID, domain.CancelReason(req.Reason))
	if cerr != nil {
		metrics.RecordCancel(outcomeOf(cerr.Kind))
		engineFail(w, cerr)
		return
	}
	metrics.RecordCancel("success")

	reason := ""
	if slot.CancelReason != nil {
		reason = string(*slot.CancelReason)
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, cancelResponse{
		Slot: cancelledSlotView{
			ID:           slot.ID,
			Status:       string(slot.Status),
			CanceledAt:   slot.CancelledAt,
			CancelReason: reason,
		},
	})
}

type jobPostView struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	Trade string    `json:"trade"`
}

type alternativeView struct {
	SlotID   uuid.UUID   `json:"slot_id"`
	WorkDate string      `json:"work_date"`
	JobPost  jobPostView `json:"job_post"`
}

type alternativesResponse struct {
	Alternatives []alternativeView `json:"alternatives"`
}

// Alternatives handles GET /alternatives?slotId=...&days=1..30.
func (h *Handler) Alternatives(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		unauthorized(w)
		return
	}

	slotID, err := uuid.Parse(r.URL.Query().Get("slotId"))
	if err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "slotId must be a valid uuid")
		return
	}

	days := 3
	if s := r.URL.Query().Get("days"); s != "" {
		days, err = strconv.Atoi(s)
		if err != nil {
			fail(w, http.StatusBadRequest, "VALIDATION", "days must be an integer")
			return
		}
	}

	alts, cerr := h.engine.Alternatives(r.Context(), auth.TenantID, slotID, days)
	if cerr != nil {
		engineFail(w, cerr)
		return
	}

	views := make([]alternativeView, 0, len(alts))
	for _, a := range alts {
		views = append(views, alternativeView{
			SlotID:   a.SlotID,
			WorkDate: a.WorkDate.Format(dateLayout),
			JobPost:  jobPostView{ID: a.JobPost.ID, Title: a.JobPost.Title, Trade: a.JobPost.Trade},
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, alternativesResponse{Alternatives: views})
}

type outboxEventView struct {
	ID            int64           `json:"id"`
	EventID       string          `json:"event_id"`
	EventName     string          `json:"event_name"`
	Payload       json.RawMessage `json:"payload"`
	Target        string          `json:"target"`
	Status        string          `json:"status"`
	RetryCount    int             `json:"retry_count"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ListOutbox handles GET /admin/outbox?status=...&limit=...
func (h *Handler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	status := r.URL.Query().Get("status")
	switch status {
	case "", "pending", "sent", "failed":
	default:
		fail(w, http.StatusBadRequest, "VALIDATION", "status must be one of pending, sent, failed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.admin.ListEvents(r.Context(), status, limit)
	if err != nil {
		fail(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	views := make([]outboxEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, outboxEventView{
			ID:            ev.ID,
			EventID:       ev.EventID,
			EventName:     ev.EventName,
			Payload:       json.RawMessage(ev.Payload),
			Target:        ev.Target,
			Status:        ev.Status,
			RetryCount:    ev.RetryCount,
			NextAttemptAt: ev.NextAttemptAt,
			LastError:     ev.LastError,
			CreatedAt:     ev.CreatedAt,
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"events": views})
}

// RequeueOutbox handles POST /admin/outbox/{id}/requeue: re-push a parked
// event back to pending.
func (h *Handler) RequeueOutbox(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		fail(w, http.StatusBadRequest, "VALIDATION", "id must be an integer")
		return
	}

	if err := h.admin.Requeue(r.Context(), id, auth.TenantID, auth.UserID, auth.Role); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			fail(w, http.StatusNotFound, "NOT_FOUND", "no parked event with that id")
			return
		}
		fail(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "requeued"})
}

type auditRecordView struct {
	ID          int64           `json:"id"`
	ActorUserID *uuid.UUID      `json:"actor_user_id"`
	ActorRole   *string         `json:"actor_role"`
	Action      string          `json:"action"`
	TargetTable string          `json:"target_table"`
	TargetID    string          `json:"target_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ListAudit handles GET /admin/audit?limit=...
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		unauthorized(w)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.admin.ListAudit(r.Context(), auth.TenantID, limit)
	if err != nil {
		fail(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}

	views := make([]auditRecordView, 0, len(records))
	for _, rec := range records {
		views = append(views, auditRecordView{
			ID:          rec.ID,
			ActorUserID: rec.ActorUserID,
			ActorRole:   rec.ActorRole,
			Action:      rec.Action,
			TargetTable: rec.TargetTable,
			TargetID:    rec.TargetID,
			Payload:     json.RawMessage(rec.Payload),
			CreatedAt:   rec.CreatedAt,
		})
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{"audit": views})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	auth, ok := GetAuth(r.Context())
	if !ok {
		unauthorized(w)
		return false
	}
	if !auth.IsAdmin() {
		fail(w, http.StatusForbidden, "FORBIDDEN", "admin role required")
		return false
	}
	return true
}

// decodeStrict decodes a JSON body rejecting unknown fields, so a typo'd
// field name fails loudly instead of silently claiming the wrong slot.
func decodeStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// engineFail maps the engine's closed error taxonomy to HTTP statuses in
// exactly one place.
func engineFail(w http.ResponseWriter, err *claimengine.Error) {
	var status int
	switch err.Kind {
	case claimengine.KindValidation:
		status = http.StatusBadRequest
	case claimengine.KindNotFound:
		status = http.StatusNotFound
	case claimengine.KindAlreadyClaimed,
		claimengine.KindSlotNotClaimed,
		claimengine.KindAlreadyCancelled,
		claimengine.KindAlreadyCompleted,
		claimengine.KindCancelFailed:
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
	}

	msg := err.Message
	if status == http.StatusInternalServerError {
		// never leak internals
		msg = "internal error"
	}
	fail(w, status, string(err.Kind), msg)
}

func outcomeOf(kind claimengine.ErrorKind) string {
	switch kind {
	case claimengine.KindAlreadyClaimed, claimengine.KindAlreadyCancelled,
		claimengine.KindAlreadyCompleted, claimengine.KindSlotNotClaimed,
		claimengine.KindCancelFailed:
		return "conflict"
	case claimengine.KindNotFound:
		return "not_found"
	case claimengine.KindValidation:
		return "validation"
	default:
		return "error"
	}
}

func fail(w http.ResponseWriter, status int, code, message string) {
	response.Fail(w, status, code, message)
}
