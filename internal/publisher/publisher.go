// Package publisher implements the canonical event publish path (spec
// section 4.2): normalize, rate-limit check, partition, store, publish.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/partitioning"
	"github.com/exceptionflow/pipeline/internal/ratelimiter"
	"github.com/exceptionflow/pipeline/internal/store"
)

// ErrPublishFailed wraps any failure after the event has already been
// normalized (store or broker failure, or rate-limit rejection).
var ErrPublishFailed = errors.New("publisher: publish failed")

// ErrRateLimited is returned when a tenant's bucket has no capacity. The
// event was NOT stored.
var ErrRateLimited = errors.New("publisher: rate limit exceeded")

// RateLimiter is the subset of ratelimiter.PerTenant (via its WithContext
// adapter) and ratelimiter.Shared the publisher needs, letting either
// backend be configured interchangeably (spec section 9 rate limiter
// scope).
type RateLimiter interface {
	Check(ctx context.Context, tenantID string, numEvents int) (bool, float64, error)
	GetTenantLimit(tenantID string) ratelimiter.TenantLimit
}

// Publisher ties the event store, the broker, and an optional rate limiter
// into the single at-least-once publish path every producer uses (spec
// section 4.2). Store-then-publish ordering guarantees a crash between the
// two still leaves an auditable, replayable record.
type Publisher struct {
	b                 broker.Broker
	events            store.EventStore
	limiter           RateLimiter
	rateLimitEnabled  bool
	logger            *zap.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithRateLimiter attaches a rate limiter (ratelimiter.PerTenant.WithContext()
// or a *ratelimiter.Shared) and turns on enforcement. Without this option
// the publisher never rate-limits, matching the RATE_LIMIT_ENABLED=false
// default.
func WithRateLimiter(l RateLimiter) Option {
	return func(p *Publisher) {
		p.limiter = l
		p.rateLimitEnabled = true
	}
}

// New builds a Publisher. b and eventStore are required; logger defaults to
// a no-op logger if nil.
func New(b broker.Broker, eventStore store.EventStore, logger *zap.Logger, opts ...Option) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Publisher{b: b, events: eventStore, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish stores then publishes ev to topic, returning ev.EventID on
// success. The partition key is always the deterministic tenant[:exception]
// key; callers cannot supply a different one.
//
// Rate limiting: when enabled, a denied check emits a BackpressureDetected
// event (bypassing the limiter itself, to avoid recursion) and returns an
// error wrapping both ErrPublishFailed and ErrRateLimited. ev itself is not
// stored; only the BackpressureDetected event is.
func (p *Publisher) Publish(ctx context.Context, topic string, ev events.Event) (string, error) {
	if ev.TenantID == "" {
		return "", fmt.Errorf("%w: tenant_id is required", ErrPublishFailed)
	}

	if p.rateLimitEnabled && p.limiter != nil {
		allowed, wait, err := p.limiter.Check(ctx, ev.TenantID, 1)
		if err != nil {
			return "", fmt.Errorf("%w: rate limit check: %w", ErrPublishFailed, err)
		}
		if !allowed {
			p.emitBackpressure(ctx, ev, wait)
			return "", fmt.Errorf("%w: %w: tenant %s must wait %.2fs", ErrPublishFailed, ErrRateLimited, ev.TenantID, wait)
		}
	}

	partitionKey, err := partitioning.Key(ev.TenantID, exceptionIDOrEmpty(ev.ExceptionID))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if err := p.store(ctx, ev); err != nil {
		return "", fmt.Errorf("%w: event store: %w", ErrPublishFailed, err)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("%w: marshal: %w", ErrPublishFailed, err)
	}
	if err := p.b.Publish(ctx, topic, &partitionKey, payload); err != nil {
		// Already durably stored in the event log; nothing here republishes
		// the stored row, the broker error is returned to the caller.
		return "", fmt.Errorf("%w: broker: %w", ErrPublishFailed, err)
	}

	p.logger.Info("event published",
		zap.String("event_id", ev.EventID), zap.String("event_type", ev.EventType),
		zap.String("topic", topic), zap.String("partition_key", partitionKey))
	return ev.EventID, nil
}

func (p *Publisher) store(ctx context.Context, ev events.Event) error {
	exceptionID := ev.ExceptionID
	if ev.EventType == events.TypeExceptionIngested {
		// The business entity does not exist yet; IntakeWorker assigns it.
		exceptionID = nil
	}
	return p.events.Store(ctx, store.EventRecord{
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		TenantID:      ev.TenantID,
		ExceptionID:   exceptionID,
		Timestamp:     ev.Timestamp,
		CorrelationID: ev.CorrelationID,
		Payload:       ev.Payload,
		Metadata:      ev.Metadata,
		Version:       ev.Version,
	})
}

func (p *Publisher) emitBackpressure(ctx context.Context, ev events.Event, wait float64) {
	limit := p.limiter.GetTenantLimit(ev.TenantID).EventsPerSecond

	// current_rate is not an observed measurement: RateLimiter.Check only
	// returns allowed/wait_seconds, not the bucket's actual fill level, so
	// the best this can report is "over limit" (limit+1) rather than a true
	// rate. A real value would need Check to additionally return the
	// bucket's current token count.
	payload := map[string]any{
		"rate_limit_type": "events_per_second",
		"current_rate":    limit + 1,
		"limit":           limit,
		"wait_seconds":    wait,
	}
	opts := []events.Option{events.WithCorrelationID(ev.CorrelationID)}
	if ev.ExceptionID != nil {
		opts = append(opts, events.WithExceptionID(*ev.ExceptionID))
	}
	bp, err := events.New(events.TypeBackpressureDetected, ev.TenantID, payload, opts...)
	if err != nil {
		p.logger.Error("failed to build backpressure event", zap.Error(err))
		return
	}

	if err := p.store(ctx, bp); err != nil {
		p.logger.Error("failed to store backpressure event", zap.Error(err), zap.String("tenant_id", ev.TenantID))
		return
	}
	payloadBytes, err := json.Marshal(bp)
	if err != nil {
		p.logger.Error("failed to marshal backpressure event", zap.Error(err))
		return
	}
	key, _ := partitioning.Key(ev.TenantID, exceptionIDOrEmpty(ev.ExceptionID))
	if err := p.b.Publish(ctx, "backpressure", &key, payloadBytes); err != nil {
		p.logger.Error("failed to publish backpressure event", zap.Error(err), zap.String("tenant_id", ev.TenantID))
		return
	}
	p.logger.Warn("backpressure detected",
		zap.String("tenant_id", ev.TenantID), zap.Float64("wait_seconds", wait), zap.Float64("limit", limit))
}

func exceptionIDOrEmpty(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
