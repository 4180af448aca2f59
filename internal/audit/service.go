// Package audit implements the paginated, tenant-scoped read API over the
// event log (C12, spec section 4.4) and the DLQ operator surface that
// supplements it (replay/discard).
package audit

import (
	"context"
	"errors"

	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/store"
)

// ErrTenantRequired mirrors store.ErrTenantRequired at the service boundary.
var ErrTenantRequired = store.ErrTenantRequired

// ErrReplayUnavailable is returned by Replay when no Republisher was wired.
var ErrReplayUnavailable = errors.New("audit: dlq replay unavailable, no publisher configured")

// Republisher is the subset of internal/publisher.Publisher used to replay
// a dead-lettered event. Kept as an interface to avoid an import cycle
// (publisher does not depend on audit).
type Republisher interface {
	Publish(ctx context.Context, topic string, ev events.Event) (string, error)
}

// Service answers audit-trail and DLQ queries, and drives DLQ replay.
type Service struct {
	events store.EventStore
	dlq    store.DeadLetterStore
	pub    Republisher
}

// NewService wires a Service. pub may be nil if replay is not needed (e.g.
// a read-only audit deployment).
func NewService(eventStore store.EventStore, dlq store.DeadLetterStore, pub Republisher) *Service {
	return &Service{events: eventStore, dlq: dlq, pub: pub}
}

// ForException returns the audit trail for one business entity, scoped to
// tenantID.
func (s *Service) ForException(ctx context.Context, exceptionID, tenantID string, f store.Filter, p store.Page) (store.Result, error) {
	return s.events.ByException(ctx, exceptionID, tenantID, f, p)
}

// ForTenant returns a filtered, paginated slice of a tenant's event log.
func (s *Service) ForTenant(ctx context.Context, tenantID string, f store.Filter, p store.Page) (store.Result, error) {
	return s.events.ByTenant(ctx, tenantID, f, p)
}

// ListDLQ returns the operator-facing dead-letter listing.
func (s *Service) ListDLQ(ctx context.Context, tenantID string, f store.DLQFilter, p store.Page) (store.DLQResult, error) {
	return s.dlq.List(ctx, tenantID, f, p)
}

// GetDLQ returns one dead-letter row.
func (s *Service) GetDLQ(ctx context.Context, id int64, tenantID string) (store.DeadLetterRecord, error) {
	return s.dlq.Get(ctx, id, tenantID)
}

// Replay re-publishes a dead-lettered event onto its original topic,
// preserving correlation_id but minting a fresh event_id (spec section 9
// DLQ-replay open question: a replay is a new delivery attempt, not a
// resurrection of the original one, so it must not collide with the
// original's idempotency ledger row). The DLQ row's status moves to
// "retrying"; it is never deleted (spec section 3.5 append-only).
func (s *Service) Replay(ctx context.Context, id int64, tenantID string) (string, error) {
	if s.pub == nil {
		return "", ErrReplayUnavailable
	}
	rec, err := s.dlq.Get(ctx, id, tenantID)
	if err != nil {
		return "", err
	}

	var opts []events.Option
	if corr, ok := rec.EventMetadata["correlation_id"].(string); ok && corr != "" {
		opts = append(opts, events.WithCorrelationID(corr))
	}
	if rec.ExceptionID != nil {
		opts = append(opts, events.WithExceptionID(*rec.ExceptionID))
	}
	replayed, err := events.New(rec.EventType, rec.TenantID, rec.Payload, opts...)
	if err != nil {
		return "", err
	}

	newID, err := s.pub.Publish(ctx, rec.OriginalTopic, replayed)
	if err != nil {
		return "", err
	}

	if err := s.dlq.SetStatus(ctx, id, tenantID, store.DLQRetrying); err != nil {
		return newID, err
	}
	return newID, nil
}

// Discard marks a dead-lettered event as permanently abandoned. The row is
// kept (append-only), only its status changes.
func (s *Service) Discard(ctx context.Context, id int64, tenantID string) error {
	return s.dlq.SetStatus(ctx, id, tenantID, store.DLQDiscarded)
}
