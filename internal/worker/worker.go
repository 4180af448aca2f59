package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/retry"
	"github.com/exceptionflow/pipeline/internal/store"
)

// Handler is the business logic a concrete agent worker supplies. Returning
// an error routes the event through the retry scheduler; returning nil
// marks it completed in the idempotency ledger.
type Handler func(ctx context.Context, ev events.Event) error

// Worker is the shared event-processing loop every agent type runs on
// (spec section 4.12, C9): deserialize -> schema-version gate -> tenant
// gate -> idempotency gate -> bounded-concurrency dispatch -> retry/DLQ
// routing on failure.
type Worker struct {
	cfg       Config
	b         broker.Broker
	events    store.EventStore
	ledger    store.ProcessingLedger
	scheduler *retry.Scheduler
	logger    *zap.Logger
	handler   Handler
	metrics   MetricsSink

	sem sync.WaitGroup
	cap chan struct{}

	handledTypes map[string]struct{}

	subscribed atomic.Bool
	processed  atomic.Int64
	failed     atomic.Int64
}

// Subscribed reports whether the consume loop is currently subscribed
// (spec section 4.12's /readyz check: "the consumer thread alive", checked
// independently of broker connectivity or the database).
func (w *Worker) Subscribed() bool { return w.subscribed.Load() }

// SetHandledEventTypes restricts this worker to the given event types; any
// other type delivered on its (shared) topics is silently skipped (spec
// section 4.7 "Filtering"), which is what lets several agent types share one
// topic under the Option A naming scheme (spec section 4.11). Called with no
// arguments, the worker handles every event type it is delivered.
func (w *Worker) SetHandledEventTypes(types ...string) {
	if len(types) == 0 {
		w.handledTypes = nil
		return
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	w.handledTypes = set
}

// Stats is a point-in-time snapshot of this worker's lifetime counters,
// surfaced on the health server's "/" endpoint.
type Stats struct {
	Processed int64 `json:"events_processed"`
	Failed    int64 `json:"events_failed"`
}

// Stats returns the current processed/failed counters.
func (w *Worker) Stats() Stats {
	return Stats{Processed: w.processed.Load(), Failed: w.failed.Load()}
}

// MetricsSink is the subset of internal/metrics.Metrics the worker uses. A
// nil sink is replaced with a no-op implementation.
type MetricsSink interface {
	RecordProcessed(workerType, eventType, tenantID string, latencySeconds float64)
	RecordFailure(workerType, eventType, tenantID, errorType string)
	IncInProcessing(workerType, tenantID string)
	DecInProcessing(workerType, tenantID string)
}

type noopMetrics struct{}

func (noopMetrics) RecordProcessed(string, string, string, float64) {}
func (noopMetrics) RecordFailure(string, string, string, string)    {}
func (noopMetrics) IncInProcessing(string, string)                  {}
func (noopMetrics) DecInProcessing(string, string)                  {}

// New builds a Worker. metrics may be nil. eventStore receives a
// DeadLettered control event whenever an inbound message fails the
// schema-version gate, so that rejection is itself auditable; a nil
// eventStore just skips that persistence step.
func New(cfg Config, b broker.Broker, eventStore store.EventStore, ledger store.ProcessingLedger, scheduler *retry.Scheduler, logger *zap.Logger, handler Handler, metricsSink MetricsSink) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metricsSink == nil {
		metricsSink = noopMetrics{}
	}
	return &Worker{
		cfg: cfg, b: b, events: eventStore, ledger: ledger, scheduler: scheduler,
		logger: logger, handler: handler, metrics: metricsSink,
		cap: make(chan struct{}, cfg.Concurrency),
	}
}

// Run subscribes to topics under the worker's group id and blocks until ctx
// is cancelled, then drains in-flight handlers (bounded by drainTimeout)
// before returning.
func (w *Worker) Run(ctx context.Context, topics []string, drainTimeout time.Duration) error {
	w.logger.Info("worker starting",
		zap.String("worker_type", w.cfg.WorkerType), zap.Int("concurrency", w.cfg.Concurrency),
		zap.String("group_id", w.cfg.GroupID), zap.Strings("topics", topics))

	w.subscribed.Store(true)
	err := w.b.Subscribe(ctx, topics, w.cfg.GroupID, w.onMessage)
	w.subscribed.Store(false)

	drained := make(chan struct{})
	go func() {
		w.sem.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		w.logger.Warn("worker drain timed out, handlers may still be in flight", zap.Duration("timeout", drainTimeout))
	}
	return err
}

// onMessage bounds concurrency to cfg.Concurrency across whatever number of
// partitions the broker has assigned this process, but otherwise blocks
// until process returns. It must not return before processing completes: the
// broker only commits/marks a message's offset once its Handler returns, so
// returning early here would let the broker advance past an event that was
// never actually handled, breaking the at-least-once/idempotency contract
// (spec section 5 "cancellation & timeouts", section 8 round-trip laws).
func (w *Worker) onMessage(ctx context.Context, topic string, _ *string, value []byte) error {
	w.cap <- struct{}{}
	w.sem.Add(1)
	defer func() { <-w.cap; w.sem.Done() }()
	w.process(ctx, topic, value)
	return nil
}

func (w *Worker) process(ctx context.Context, topic string, value []byte) {
	ev, err := w.deserialize(value)
	if err != nil {
		w.logger.Error("failed to deserialize event", zap.Error(err), zap.String("topic", topic))
		return
	}

	if w.handledTypes != nil {
		if _, ok := w.handledTypes[ev.EventType]; !ok {
			w.logger.Debug("event type not handled by this worker, skipping",
				zap.String("event_id", ev.EventID), zap.String("event_type", ev.EventType),
				zap.String("worker_type", w.cfg.WorkerType))
			return
		}
	}

	if ev.Version > events.SupportedVersion && !w.cfg.AllowFutureSchema {
		w.logger.Warn("event rejected: unsupported schema version",
			zap.String("event_id", ev.EventID), zap.Int("schema_version", ev.Version),
			zap.Int("supported_version", events.SupportedVersion), zap.String("topic", topic))
		if err := w.emitSchemaIncompatible(ctx, ev, topic); err != nil {
			w.logger.Error("failed to emit schema incompatible event", zap.Error(err), zap.String("event_id", ev.EventID))
		}
		return
	}

	w.metrics.IncInProcessing(w.cfg.WorkerType, ev.TenantID)
	defer w.metrics.DecInProcessing(w.cfg.WorkerType, ev.TenantID)

	if ev.TenantID == "" {
		w.logger.Warn("event rejected: missing tenant_id", zap.String("event_id", ev.EventID))
		return
	}
	if w.cfg.ExpectedTenantID != "" && ev.TenantID != w.cfg.ExpectedTenantID {
		w.logger.Warn("event rejected: tenant mismatch",
			zap.String("event_id", ev.EventID), zap.String("expected_tenant", w.cfg.ExpectedTenantID),
			zap.String("got_tenant", ev.TenantID))
		return
	}

	already, err := w.checkIdempotency(ctx, ev)
	if err != nil {
		w.logger.Error("idempotency check failed", zap.Error(err), zap.String("event_id", ev.EventID))
	}
	if already {
		w.logger.Debug("event already processed, skipping", zap.String("event_id", ev.EventID))
		return
	}

	if err := w.ledger.MarkProcessing(ctx, store.ProcessingRecord{
		EventID: ev.EventID, WorkerType: w.cfg.WorkerType, TenantID: ev.TenantID,
		ExceptionID: ev.ExceptionID, Status: store.StatusProcessing,
	}); err != nil {
		w.logger.Error("failed to mark event processing", zap.Error(err), zap.String("event_id", ev.EventID))
	}

	start := time.Now()
	handlerErr := w.handler(ctx, ev)
	latency := time.Since(start)

	if handlerErr == nil {
		if err := w.ledger.MarkCompleted(ctx, ev.EventID, w.cfg.WorkerType, time.Now().UTC()); err != nil {
			w.logger.Error("failed to mark event completed", zap.Error(err), zap.String("event_id", ev.EventID))
		}
		w.metrics.RecordProcessed(w.cfg.WorkerType, ev.EventType, ev.TenantID, latency.Seconds())
		w.processed.Add(1)
		return
	}

	w.logger.Error("handler failed", zap.Error(handlerErr), zap.String("event_id", ev.EventID), zap.String("worker_type", w.cfg.WorkerType))
	w.metrics.RecordFailure(w.cfg.WorkerType, ev.EventType, ev.TenantID, classifyFailure(handlerErr))
	w.failed.Add(1)

	// The retry scheduler, not this method, owns the ledger's "failed" write
	// when one is configured: it must read the attempt count already
	// persisted in error_message before overwriting it with the
	// incremented "(retry N/M)" marker (spec section 4.8 steps 2 and 5). A
	// MarkFailed call here with the raw handlerErr would stomp that marker
	// on every redelivery and the scheduler would always see attempt zero.
	if w.scheduler != nil {
		if err := w.scheduler.ScheduleRetry(ctx, topic, ev, w.cfg.WorkerType, handlerErr); err != nil {
			w.logger.Error("failed to schedule retry", zap.Error(err), zap.String("event_id", ev.EventID))
		}
		return
	}
	if err := w.ledger.MarkFailed(ctx, ev.EventID, w.cfg.WorkerType, time.Now().UTC(), handlerErr.Error()); err != nil {
		w.logger.Error("failed to mark event failed", zap.Error(err), zap.String("event_id", ev.EventID))
	}
}

// classifyFailure maps a handler error to the error class a metric consumer
// groups failures by (spec section 4.7 step 7 / section 5's error-kind
// taxonomy: validation_error | timeout | database_error | processing_error).
// Falls back to processing_error for anything it doesn't recognize.
func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, sql.ErrConnDone), errors.Is(err, sql.ErrTxDone), errors.Is(err, store.ErrNotFound):
		return "database_error"
	case errors.Is(err, events.ErrInvalidEvent), errors.Is(err, store.ErrTenantRequired):
		return "validation_error"
	default:
		return "processing_error"
	}
}

func (w *Worker) checkIdempotency(ctx context.Context, ev events.Event) (bool, error) {
	rec, err := w.ledger.Get(ctx, ev.EventID, w.cfg.WorkerType)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rec.Status == store.StatusCompleted, nil
}

func (w *Worker) deserialize(value []byte) (events.Event, error) {
	var ev events.Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return events.Event{}, fmt.Errorf("worker: unmarshal event: %w", err)
	}
	return ev, nil
}

// emitSchemaIncompatible stores and publishes a DeadLettered control event
// for an inbound message whose schema version this worker will not process,
// carrying enough detail in its payload to diagnose and replay it later.
func (w *Worker) emitSchemaIncompatible(ctx context.Context, ev events.Event, topic string) error {
	out, err := events.New(events.TypeDeadLettered, ev.TenantID, map[string]any{
		"original_event_id":   ev.EventID,
		"original_event_type": ev.EventType,
		"worker_type":         w.cfg.WorkerType,
		"reason":              "schema_incompatible",
		"schema_version":      ev.Version,
		"supported_version":   events.SupportedVersion,
		"original_topic":      topic,
	}, events.WithCorrelationID(ev.CorrelationID))
	if err != nil {
		return err
	}
	if ev.ExceptionID != nil {
		out.ExceptionID = ev.ExceptionID
	}

	if w.events != nil {
		if err := w.events.Store(ctx, store.EventRecord{
			EventID: out.EventID, EventType: out.EventType, TenantID: out.TenantID,
			ExceptionID: out.ExceptionID, Timestamp: out.Timestamp, CorrelationID: out.CorrelationID,
			Payload: out.Payload, Metadata: out.Metadata, Version: out.Version,
		}); err != nil {
			return fmt.Errorf("worker: store schema incompatible event: %w", err)
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}
	key := out.TenantID
	return w.b.Publish(ctx, "dead-lettered", &key, payload)
}
