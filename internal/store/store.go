// Package store implements the append-only event log, the idempotency
// ledger, and the dead-letter table (spec sections 3.3-3.5, 4.4).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup finds nothing.
var ErrNotFound = errors.New("store: not found")

// ErrTenantRequired guards every tenant-scoped query; no code path may read
// events without a non-empty tenant_id (spec section 4.4).
var ErrTenantRequired = errors.New("store: tenant_id is required")

// EventRecord is the persisted shape of a canonical event (EventLog, spec
// section 3.3).
type EventRecord struct {
	EventID       string
	EventType     string
	TenantID      string
	ExceptionID   *string
	Timestamp     time.Time
	CorrelationID string
	Payload       map[string]any
	Metadata      map[string]any
	Version       int
}

// Filter narrows a paginated query (spec section 4.4).
type Filter struct {
	EventType     string
	ExceptionID   string
	CorrelationID string
	From          *time.Time
	To            *time.Time
	Version       *int
}

// Page describes pagination input and is echoed back in Result.
type Page struct {
	Number int // 1-indexed
	Size   int
}

func (p Page) normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = 50
	}
	return p
}

// Result is the paginated response shape for by_tenant/by_exception queries.
type Result struct {
	Items      []EventRecord
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}

// EventStore is the append-only audit trail (C4).
type EventStore interface {
	// Store appends a record. Rejects empty event_id/event_type/tenant_id.
	Store(ctx context.Context, rec EventRecord) error

	// Get performs a tenant-scoped read; returns ErrNotFound if absent or
	// tenant mismatched.
	Get(ctx context.Context, eventID, tenantID string) (EventRecord, error)

	// ByException selects rows where exception_id == id OR correlation_id
	// == id, scoped to tenantID. The OR term captures events emitted
	// before the business entity had an id.
	ByException(ctx context.Context, exceptionID, tenantID string, f Filter, p Page) (Result, error)

	// ByTenant filters by event_type, exception_id, correlation_id,
	// timestamp range, and version. Sort: timestamp descending.
	ByTenant(ctx context.Context, tenantID string, f Filter, p Page) (Result, error)
}

// ProcessingStatus enumerates the idempotency ledger's lifecycle states.
type ProcessingStatus string

const (
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// ProcessingRecord is one row of the idempotency ledger (EventProcessing,
// spec section 3.4). Retry count is embedded in ErrorMessage via the
// literal "(retry N/M)" pattern — see internal/retry for the parser.
type ProcessingRecord struct {
	EventID      string
	WorkerType   string
	TenantID     string
	ExceptionID  *string
	Status       ProcessingStatus
	ProcessedAt  *time.Time
	ErrorMessage *string
}

// ProcessingLedger is the idempotency gate's backing store (part of C9).
type ProcessingLedger interface {
	// Get returns the ledger row for (eventID, workerType), or ErrNotFound.
	Get(ctx context.Context, eventID, workerType string) (ProcessingRecord, error)

	// MarkProcessing creates or overwrites the row in the "processing"
	// state, ahead of dispatch.
	MarkProcessing(ctx context.Context, rec ProcessingRecord) error

	// MarkCompleted transitions (eventID, workerType) to "completed".
	MarkCompleted(ctx context.Context, eventID, workerType string, at time.Time) error

	// MarkFailed transitions (eventID, workerType) to "failed" with the
	// given message (which may carry the "(retry N/M)" suffix).
	MarkFailed(ctx context.Context, eventID, workerType string, at time.Time, errorMessage string) error
}

// DLQStatus enumerates operator-managed dead-letter lifecycle states.
type DLQStatus string

const (
	DLQPending   DLQStatus = "pending"
	DLQRetrying  DLQStatus = "retrying"
	DLQSucceeded DLQStatus = "succeeded"
	DLQDiscarded DLQStatus = "discarded"
)

// DeadLetterRecord is a row in dead_letter_events (spec section 3.5).
// Append-only: rows are never deleted, only mutated by operator status
// transitions.
type DeadLetterRecord struct {
	ID             int64
	EventID        string
	EventType      string
	TenantID       string
	ExceptionID    *string
	OriginalTopic  string
	FailureReason  string
	RetryCount     int
	WorkerType     string
	Payload        map[string]any
	EventMetadata  map[string]any
	FailedAt       time.Time
	Status         DLQStatus
}

// DLQFilter narrows the operator listing (spec section 6 "DLQ operator
// surface").
type DLQFilter struct {
	EventType  string
	WorkerType string
	Status     DLQStatus
}

// DeadLetterStore persists and serves the DLQ table (part of C8/C12).
type DeadLetterStore interface {
	Insert(ctx context.Context, rec DeadLetterRecord) error
	List(ctx context.Context, tenantID string, f DLQFilter, p Page) (DLQResult, error)
	Get(ctx context.Context, id int64, tenantID string) (DeadLetterRecord, error)
	SetStatus(ctx context.Context, id int64, tenantID string, status DLQStatus) error
	Count(ctx context.Context, tenantID string, f DLQFilter) (int, error)
}

// DLQResult is the paginated DLQ listing response.
type DLQResult struct {
	Items      []DeadLetterRecord
	Total      int
	Page       int
	PageSize   int
	TotalPages int
}
