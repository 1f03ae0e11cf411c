// Package domain holds the entities and repository ports shared by the
// claim engine and its storage/audit/outbox implementations. Nothing in
// this package talks to a database directly.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotClaimed   SlotStatus = "claimed"
	SlotCancelled SlotStatus = "cancelled"
	SlotCompleted SlotStatus = "completed"
)

type CancelReason string

const (
	ReasonNoShow        CancelReason = "no_show"
	ReasonWeather       CancelReason = "weather"
	ReasonClientChange  CancelReason = "client_change"
	ReasonMaterialDelay CancelReason = "material_delay"
	ReasonOther         CancelReason = "other"
)

func (r CancelReason) Valid() bool {
	switch r {
	case ReasonNoShow, ReasonWeather, ReasonClientChange, ReasonMaterialDelay, ReasonOther:
		return true
	default:
		return false
	}
}

// Tenant is a unit of data isolation; every core entity belongs to exactly one.
type Tenant struct {
	ID              uuid.UUID
	Name            string
	IntegrationMode string // "standalone" | "dandori"
	Active          bool
	CreatedAt       time.Time
}

type Project struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	Name              string
	Address           string
	StartDate         time.Time
	EndDate           time.Time
	ExternalProjectID *string
	CreatedAt         time.Time
}

type JobPost struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	ProjectID  uuid.UUID
	Trade      string
	Title      string
	StartDate  time.Time
	EndDate    time.Time
	PriceCents int64
	Published  bool
	CreatedAt  time.Time
}

// JobSlot is the unit of FCFS contention: a single dated work unit
// inside a job post.
type JobSlot struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	JobPostID        uuid.UUID
	WorkDate         time.Time
	SlotNo           int
	Status           SlotStatus
	ClaimedByCompany *uuid.UUID
	ClaimedByUser    *uuid.UUID
	ClaimedAt        *time.Time
	CancelledAt      *time.Time
	CancelReason     *CancelReason
	CreatedAt        time.Time
}

// Claim is the durable record of one successful FCFS transition.
type Claim struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	SlotID    uuid.UUID
	CompanyID uuid.UUID
	UserID    *uuid.UUID
	RequestID string
	ClaimedAt time.Time
}

type JobPostRef struct {
	ID    uuid.UUID
	Title string
	Trade string
}

// AlternativeSlot is one row of the alternatives query result.
type AlternativeSlot struct {
	SlotID   uuid.UUID
	WorkDate time.Time
	JobPost  JobPostRef
}

// AuditEntry is one immutable row appended by the audit recorder.
type AuditEntry struct {
	TenantID    uuid.UUID
	ActorUserID *uuid.UUID
	ActorRole   string
	Action      string
	TargetTable string
	TargetID    string
	Payload     []byte
}

// AuditRecord is one persisted audit row as read back by the operator
// view: AuditEntry plus the storage-assigned id and timestamp.
type AuditRecord struct {
	ID          int64
	TenantID    uuid.UUID
	ActorUserID *uuid.UUID
	ActorRole   *string
	Action      string
	TargetTable string
	TargetID    string
	Payload     []byte
	CreatedAt   time.Time
}

// OutboxEvent is the integration event row as seen by the dispatcher and
// the operator read views.
type OutboxEvent struct {
	ID            int64
	EventID       string
	EventName     string
	Payload       []byte
	Target        string
	Status        string
	RetryCount    int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Sentinel errors returned by ClaimRepository implementations. Callers
// discriminate with errors.Is; they never parse strings.
var (
	// ErrNotFound means the row does not exist within the current tenant.
	ErrNotFound = errors.New("domain: not found")
	// ErrCASMiss means a conditional UPDATE touched zero rows — the slot
	// was not in the expected source state.
	ErrCASMiss = errors.New("domain: compare-and-swap miss")
	// ErrRequestIDConflict means a concurrent sibling with the same
	// request_id already won the insert race.
	ErrRequestIDConflict = errors.New("domain: request_id conflict")
	// ErrSlotConflict is the defensive backstop: a unique violation on
	// claims.slot_id that should be unreachable given a correct CAS.
	ErrSlotConflict = errors.New("domain: slot conflict")
)

// ClaimRepository is the storage port the claim engine composes. Every
// method runs against the transaction/tenant scope its implementation was
// constructed with — there is no way to call it outside a transaction.
type ClaimRepository interface {
	// FindClaimByRequestID is the idempotency probe: it resolves a prior
	// claim by the caller-supplied request id, if one exists.
	FindClaimByRequestID(ctx context.Context, requestID string) (*Claim, *JobSlot, error)
	GetSlot(ctx context.Context, slotID uuid.UUID) (*JobSlot, error)
	// TryClaimSlot is the atomic FCFS compare-and-swap. It returns
	// ErrCASMiss if no row had status='available'.
	TryClaimSlot(ctx context.Context, slotID, companyID uuid.UUID, userID *uuid.UUID, now time.Time) (*JobSlot, error)
	// InsertClaim persists the claim row. It returns ErrRequestIDConflict
	// or ErrSlotConflict on the respective unique-constraint violations.
	InsertClaim(ctx context.Context, c Claim) error
	// GetSlotWithClaim is used by Cancel to classify the slot's state.
	GetSlotWithClaim(ctx context.Context, slotID uuid.UUID) (*JobSlot, *Claim, error)
	// CancelSlot conditionally moves claimed -> cancelled. It returns
	// ErrCASMiss if the slot was no longer 'claimed'.
	CancelSlot(ctx context.Context, slotID uuid.UUID, reason CancelReason, now time.Time) (*JobSlot, error)
	FindAlternatives(ctx context.Context, slotID uuid.UUID, days int) ([]AlternativeSlot, error)
	// FindProjectExternalID resolves the owning project's external
	// identifier (nil when the project has none); it is embedded in
	// integration event payloads.
	FindProjectExternalID(ctx context.Context, jobPostID uuid.UUID) (*string, error)
}

// AuditRecorder appends one immutable row per state change.
type AuditRecorder interface {
	Append(ctx context.Context, e AuditEntry) error
}

// OutboxProducer enqueues one pending integration event within the same
// transaction as the state change it announces. The
// caller supplies eventID (see outboxproducer.NewEventID) so the same id
// can be embedded in the event's own JSON payload before it is stored.
type OutboxProducer interface {
	Enqueue(ctx context.Context, eventID, eventName, target string, payload []byte) error
}

// TxManager is the transactional entry point. RunInTx opens a
// transaction, binds the tenant identity for the isolation layer, invokes
// fn with repository/audit/outbox handles scoped to that transaction, and
// commits on success or rolls back (including on panic) otherwise.
type TxManager interface {
	RunInTx(ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context, repo ClaimRepository, audit AuditRecorder, outbox OutboxProducer) error) error
}
