// Package events defines the canonical event envelope shared by every topic
// and by the event store.
package events

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event type catalog (spec section 3.2).
const (
	TypeExceptionIngested     = "ExceptionIngested"
	TypeExceptionNormalized   = "ExceptionNormalized"
	TypeManualExceptionCreated = "ManualExceptionCreated"

	TypeTriageRequested  = "TriageRequested"
	TypeTriageCompleted  = "TriageCompleted"

	TypePolicyEvaluationRequested = "PolicyEvaluationRequested"
	TypePolicyEvaluationCompleted = "PolicyEvaluationCompleted"
	TypePlaybookMatched           = "PlaybookMatched"
	TypeStepExecutionRequested    = "StepExecutionRequested"
	TypeToolExecutionRequested    = "ToolExecutionRequested"
	TypeToolExecutionCompleted    = "ToolExecutionCompleted"
	TypeFeedbackCaptured          = "FeedbackCaptured"

	TypeRetryScheduled     = "RetryScheduled"
	TypeDeadLettered       = "DeadLettered"
	TypeSLAImminent        = "SLAImminent"
	TypeSLAExpired         = "SLAExpired"
	TypeBackpressureDetected = "BackpressureDetected"
)

// SupportedVersion is the highest event envelope version this build
// understands. See the worker schema-version gate in internal/worker.
const SupportedVersion = 1

// ErrInvalidEvent is returned by New when a required field is missing.
var ErrInvalidEvent = errors.New("events: invalid event")

// Event is the canonical, immutable message shape used across topics and the
// event store (spec section 3.1). Construct one with New; do not build the
// struct literal directly outside this package, since New enforces the
// correlation_id invariant and the metadata mirror.
type Event struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	TenantID      string                 `json:"tenant_id"`
	ExceptionID   *string                `json:"exception_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
	Payload       map[string]any         `json:"payload"`
	Metadata      map[string]any         `json:"metadata"`
	Version       int                    `json:"version"`
}

// Option mutates an event during construction, applied before invariants are
// finalized.
type Option func(*Event)

// WithEventID overrides the generated event_id (used for replay, where the
// DLQ mints a new id but callers may want determinism in tests).
func WithEventID(id string) Option {
	return func(e *Event) { e.EventID = id }
}

// WithExceptionID attaches the business entity id.
func WithExceptionID(id string) Option {
	return func(e *Event) {
		v := id
		e.ExceptionID = &v
	}
}

// WithCorrelationID overrides the derived correlation id.
func WithCorrelationID(id string) Option {
	return func(e *Event) { e.CorrelationID = id }
}

// WithMetadata merges extra metadata keys into the event.
func WithMetadata(md map[string]any) Option {
	return func(e *Event) {
		for k, v := range md {
			e.Metadata[k] = v
		}
	}
}

// WithTimestamp overrides the generated timestamp.
func WithTimestamp(ts time.Time) Option {
	return func(e *Event) { e.Timestamp = ts }
}

// WithVersion overrides the default envelope version.
func WithVersion(v int) Option {
	return func(e *Event) { e.Version = v }
}

// New constructs an immutable canonical event (spec section 4.1).
//
//  1. Defaults event_id, timestamp, version=1.
//  2. correlation_id = correlation_id ?? exception_id ?? event_id.
//  3. Copies metadata, inserting correlation_id if missing.
//
// Returns ErrInvalidEvent when eventType or tenantID is empty, or when the
// resulting version is below 1.
func New(eventType, tenantID string, payload map[string]any, opts ...Option) (Event, error) {
	if eventType == "" {
		return Event{}, errInvalid("event_type is required")
	}
	if tenantID == "" {
		return Event{}, errInvalid("tenant_id is required")
	}
	if payload == nil {
		return Event{}, errInvalid("payload is required")
	}

	e := Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		TenantID:  tenantID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  map[string]any{},
		Version:   1,
	}

	for _, opt := range opts {
		opt(&e)
	}

	if e.Version < 1 {
		return Event{}, errInvalid("version must be >= 1")
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}

	if e.CorrelationID == "" {
		switch {
		case e.ExceptionID != nil && *e.ExceptionID != "":
			e.CorrelationID = *e.ExceptionID
		default:
			e.CorrelationID = e.EventID
		}
	}
	e.Metadata["correlation_id"] = e.CorrelationID

	return e, nil
}

func errInvalid(msg string) error {
	return &invalidEventError{msg: msg}
}

type invalidEventError struct{ msg string }

func (e *invalidEventError) Error() string { return "events: " + e.msg }
func (e *invalidEventError) Unwrap() error { return ErrInvalidEvent }
func (e *invalidEventError) Is(target error) bool { return target == ErrInvalidEvent }
