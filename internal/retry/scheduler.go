package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/partitioning"
	"github.com/exceptionflow/pipeline/internal/store"
)

// retryCountPattern matches the "(retry N/M)" suffix a previous scheduler
// pass appended to a failure's error message.
var retryCountPattern = regexp.MustCompile(`\(retry (\d+)/(\d+)\)`)

// parseRetryCount extracts the attempt number already recorded in
// errorMessage, or 0 when the message carries no such marker (first
// failure).
func parseRetryCount(errorMessage string) int {
	m := retryCountPattern.FindStringSubmatch(errorMessage)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// DLQGauge receives dead-letter depth updates as records move in and out of
// the DLQ. Satisfied by internal/metrics; kept as a narrow interface here so
// this package does not depend on it.
type DLQGauge interface {
	SetDLQDepth(tenantID, workerType string, depth float64)
	IncRetryScheduled(eventType, workerType string)
	IncDeadLettered(eventType, workerType string)
}

type noopGauge struct{}

func (noopGauge) SetDLQDepth(string, string, float64) {}
func (noopGauge) IncRetryScheduled(string, string)    {}
func (noopGauge) IncDeadLettered(string, string)      {}

// Scheduler routes a failed event either back onto its original topic after
// a backoff delay, or into the dead-letter store once its policy's max
// retries is exhausted (spec section 4.9).
type Scheduler struct {
	registry *Registry
	b        broker.Broker
	events   store.EventStore
	ledger   store.ProcessingLedger
	dlq      store.DeadLetterStore
	logger   *zap.Logger
	gauge    DLQGauge
}

// NewScheduler wires a Scheduler. gauge may be nil, in which case metric
// updates are skipped. eventStore receives RetryScheduled and DeadLettered
// control events before they hit the broker, same store-then-publish
// ordering the publisher uses, so the event_log invariant ("a row exists
// before any consumer observes it") holds for control events too. ledger is
// the idempotency ledger ScheduleRetry reads the persisted attempt count
// from and writes the annotated one back to (spec section 4.8 steps 2, 5);
// a nil ledger disables attempt persistence (every call is treated as the
// first attempt).
func NewScheduler(registry *Registry, b broker.Broker, eventStore store.EventStore, ledger store.ProcessingLedger, dlq store.DeadLetterStore, logger *zap.Logger, gauge DLQGauge) *Scheduler {
	if gauge == nil {
		gauge = noopGauge{}
	}
	return &Scheduler{registry: registry, b: b, events: eventStore, ledger: ledger, dlq: dlq, logger: logger, gauge: gauge}
}

// ScheduleRetry is invoked by a worker after a handler returns an error for
// ev. originalTopic is where ev must be republished if retries remain.
// workerType identifies the consumer for ledger/DLQ bookkeeping.
//
// Per spec section 4.8 steps 2 and 5, the attempt count is not derived from
// failureErr itself (a worker with a scheduler configured makes no
// MarkFailed write of its own) but from the "(retry N/M)" marker already persisted on the
// event_processing row by a previous ScheduleRetry call; this is the only
// place that annotates and writes that marker, so redeliveries of the same
// event see a strictly increasing count instead of always reading zero.
//
// On exhaustion the event is persisted to the dead-letter store and a
// DeadLettered event is emitted; otherwise the ledger row is marked failed
// with the incremented marker, a delayed republish is scheduled on its own
// goroutine, and a RetryScheduled event is emitted immediately.
func (s *Scheduler) ScheduleRetry(ctx context.Context, originalTopic string, ev events.Event, workerType string, failureErr error) error {
	policy := s.registry.Get(ev.EventType)
	retryCount := s.currentRetryCount(ctx, ev.EventID, workerType)
	attempt := retryCount + 1

	if attempt > policy.MaxRetries {
		return s.moveToDLQ(ctx, originalTopic, ev, workerType, failureErr, retryCount)
	}

	delay := policy.CalculateDelay(attempt)
	annotated := fmt.Sprintf("%s (retry %d/%d)", failureErr.Error(), attempt, policy.MaxRetries)

	if s.ledger != nil {
		if err := s.ledger.MarkFailed(ctx, ev.EventID, workerType, time.Now().UTC(), annotated); err != nil {
			s.logger.Error("failed to persist retry attempt count", zap.Error(err), zap.String("event_id", ev.EventID))
		}
	}

	if err := s.emitRetryScheduled(ctx, ev, workerType, attempt, policy.MaxRetries, delay, annotated); err != nil {
		s.logger.Warn("failed to emit retry scheduled event", zap.Error(err))
	}
	s.gauge.IncRetryScheduled(ev.EventType, workerType)

	go s.republishAfterDelay(originalTopic, ev, delay, annotated)
	return nil
}

// currentRetryCount fetches the event_processing row for (eventID,
// workerType) and parses the attempt count already recorded in its
// error_message (spec section 4.8 step 2). Returns 0 when the ledger is nil,
// the row does not exist yet, or it carries no "(retry N/M)" marker.
func (s *Scheduler) currentRetryCount(ctx context.Context, eventID, workerType string) int {
	if s.ledger == nil {
		return 0
	}
	rec, err := s.ledger.Get(ctx, eventID, workerType)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to fetch processing row for retry count", zap.Error(err), zap.String("event_id", eventID))
		}
		return 0
	}
	if rec.ErrorMessage == nil {
		return 0
	}
	return parseRetryCount(*rec.ErrorMessage)
}

func (s *Scheduler) republishAfterDelay(topic string, ev events.Event, delay time.Duration, errorMessage string) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	<-timer.C

	retried := ev
	if retried.Metadata == nil {
		retried.Metadata = map[string]any{}
	}
	retried.Metadata["last_error"] = errorMessage

	payload, err := json.Marshal(retried)
	if err != nil {
		s.logger.Error("failed to marshal event for retry republish", zap.Error(err), zap.String("event_id", ev.EventID))
		return
	}

	key := retried.TenantID
	if retried.ExceptionID != nil {
		key = retried.TenantID + ":" + *retried.ExceptionID
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.b.Publish(ctx, topic, &key, payload); err != nil {
		s.logger.Error("retry republish failed", zap.Error(err), zap.String("event_id", ev.EventID), zap.String("topic", topic))
	}
}

func (s *Scheduler) moveToDLQ(ctx context.Context, originalTopic string, ev events.Event, workerType string, failureErr error, retryCount int) error {
	rec := store.DeadLetterRecord{
		EventID:       ev.EventID,
		EventType:     ev.EventType,
		TenantID:      ev.TenantID,
		ExceptionID:   ev.ExceptionID,
		OriginalTopic: originalTopic,
		FailureReason: failureErr.Error(),
		RetryCount:    retryCount,
		WorkerType:    workerType,
		Payload:       ev.Payload,
		EventMetadata: ev.Metadata,
		FailedAt:      time.Now().UTC(),
		Status:        store.DLQPending,
	}
	if err := s.dlq.Insert(ctx, rec); err != nil {
		return fmt.Errorf("retry: insert dead letter record: %w", err)
	}

	if err := s.emitDeadLettered(ctx, ev, workerType, retryCount, failureErr); err != nil {
		s.logger.Warn("failed to emit dead lettered event", zap.Error(err))
	}
	s.gauge.IncDeadLettered(ev.EventType, workerType)

	if count, err := s.dlq.Count(ctx, ev.TenantID, store.DLQFilter{WorkerType: workerType, Status: store.DLQPending}); err == nil {
		s.gauge.SetDLQDepth(ev.TenantID, workerType, float64(count))
	}
	return nil
}

func (s *Scheduler) emitRetryScheduled(ctx context.Context, ev events.Event, workerType string, attempt, maxRetries int, delay time.Duration, reason string) error {
	out, err := events.New(events.TypeRetryScheduled, ev.TenantID, map[string]any{
		"original_event_id": ev.EventID,
		"original_event_type": ev.EventType,
		"worker_type":       workerType,
		"attempt":           attempt,
		"max_retries":       maxRetries,
		"delay_seconds":     delay.Seconds(),
		"reason":            reason,
	}, events.WithCorrelationID(ev.CorrelationID))
	if err != nil {
		return err
	}
	if ev.ExceptionID != nil {
		out.ExceptionID = ev.ExceptionID
	}
	return s.publishEvent(ctx, "retry-scheduled", out)
}

func (s *Scheduler) emitDeadLettered(ctx context.Context, ev events.Event, workerType string, retryCount int, failureErr error) error {
	out, err := events.New(events.TypeDeadLettered, ev.TenantID, map[string]any{
		"original_event_id":   ev.EventID,
		"original_event_type": ev.EventType,
		"worker_type":         workerType,
		"retry_count":         retryCount,
		"failure_reason":      failureErr.Error(),
	}, events.WithCorrelationID(ev.CorrelationID))
	if err != nil {
		return err
	}
	if ev.ExceptionID != nil {
		out.ExceptionID = ev.ExceptionID
	}
	return s.publishEvent(ctx, "dead-lettered", out)
}

func (s *Scheduler) publishEvent(ctx context.Context, topic string, ev events.Event) error {
	if s.events != nil {
		if err := s.events.Store(ctx, store.EventRecord{
			EventID: ev.EventID, EventType: ev.EventType, TenantID: ev.TenantID,
			ExceptionID: ev.ExceptionID, Timestamp: ev.Timestamp, CorrelationID: ev.CorrelationID,
			Payload: ev.Payload, Metadata: ev.Metadata, Version: ev.Version,
		}); err != nil {
			return fmt.Errorf("retry: store control event: %w", err)
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key, err := partitioning.Key(ev.TenantID, exceptionIDOrEmpty(ev.ExceptionID))
	if err != nil {
		key = ev.CorrelationID
	}
	return s.b.Publish(ctx, topic, &key, payload)
}

func exceptionIDOrEmpty(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
