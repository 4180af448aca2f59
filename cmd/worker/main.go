// Command worker runs the lifecycle for one agent worker process: load
// config, wire the broker/store/rate-limiter/retry stack, run the shared
// event loop, and serve a health endpoint until SIGINT/SIGTERM.
//
// Business logic for each agent type (TriageWorker's classification model,
// PolicyWorker's rule engine, and so on) is out of scope here; each type
// gets a thin illustrative handler that logs the inbound event, publishes
// the canonical follow-on event through the real publish path, and marks
// the original event complete — so the framework around it (idempotency,
// retry, DLQ, rate limiting, metrics) can be exercised end to end without
// any real agent logic.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/appconfig"
	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/metrics"
	"github.com/exceptionflow/pipeline/internal/publisher"
	"github.com/exceptionflow/pipeline/internal/ratelimiter"
	"github.com/exceptionflow/pipeline/internal/retry"
	"github.com/exceptionflow/pipeline/internal/store"
	"github.com/exceptionflow/pipeline/internal/topics"
	"github.com/exceptionflow/pipeline/internal/worker"
)

// workerPorts assigns each agent type its health-server port in the
// 9001-9007 range (spec section 6 "HTTP per worker").
var workerPorts = map[string]string{
	"intake":      "9001",
	"triage":      "9002",
	"policy":      "9003",
	"playbook":    "9004",
	"tool":        "9005",
	"feedback":    "9006",
	"sla_monitor": "9007",
}

// workerTopics maps each agent type to the shared topic it consumes from
// (Option A naming, spec section 4.11).
var workerTopics = map[string][]string{
	"intake":      {topics.Exceptions},
	"triage":      {topics.Exceptions},
	"policy":      {topics.Exceptions},
	"playbook":    {topics.Playbooks},
	"tool":        {topics.Tools},
	"feedback":    {topics.Exceptions},
	"sla_monitor": {topics.SLA},
}

// workerHandledTypes restricts each agent type to the event types it cares
// about on its shared topic (spec section 4.7 "Filtering"); e.g. intake and
// policy both consume the exceptions topic but only intake acts on
// ExceptionIngested.
var workerHandledTypes = map[string][]string{
	"intake":      {events.TypeExceptionIngested},
	"triage":      {events.TypeTriageRequested},
	"policy":      {events.TypePolicyEvaluationRequested},
	"playbook":    {events.TypePlaybookMatched},
	"tool":        {events.TypeToolExecutionRequested},
	"feedback":    {events.TypeFeedbackCaptured},
	"sla_monitor": {events.TypeSLAImminent, events.TypeSLAExpired},
}

// followOnEvent maps each agent type to the event type it emits once its
// (stubbed) work is done, and the topic that event belongs on.
var followOnEvent = map[string]struct {
	eventType string
	topic     string
}{
	"intake":   {events.TypeTriageRequested, topics.Exceptions},
	"triage":   {events.TypePolicyEvaluationRequested, topics.Exceptions},
	"policy":   {events.TypePlaybookMatched, topics.Playbooks},
	"playbook": {events.TypeStepExecutionRequested, topics.Playbooks},
	"tool":     {events.TypeToolExecutionCompleted, topics.Tools},
}

func main() {
	workerCfg, err := worker.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	appCfg, err := appconfig.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: load config:", err)
		os.Exit(1)
	}

	logger, err := appconfig.NewZapLogger(appCfg.Zap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "worker: build logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := appconfig.InitTracer(ctx, appCfg.Tracer)
	if err != nil {
		logger.Fatal("init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	b, err := broker.NewKafka(appCfg.Broker, logger)
	if err != nil {
		logger.Fatal("connect to broker", zap.Error(err))
	}
	defer b.Close()

	eventStore, processing, dlq, closeStore := openStores(appCfg, logger)
	defer closeStore()

	reg := retry.NewRegistry()
	promReg := prometheus.NewRegistry()
	reducer := metrics.New(promReg, workerCfg.MetricsIncludeTenantID)
	sched := retry.NewScheduler(reg, b, eventStore, processing, dlq, logger, reducer)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		addr := ":" + appCfg.MetricsPort
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	pubOpts := []publisher.Option{}
	if workerCfg.RateLimitEnabled {
		pubOpts = append(pubOpts, publisher.WithRateLimiter(buildRateLimiter(appCfg, logger)))
	}
	pub := publisher.New(b, eventStore, logger, pubOpts...)

	handler := illustrativeHandler(workerCfg.WorkerType, pub, logger)
	w := worker.New(workerCfg, b, eventStore, processing, sched, logger, handler, reducer)
	if handled, ok := workerHandledTypes[workerCfg.WorkerType]; ok {
		w.SetHandledEventTypes(handled...)
	}

	port, ok := workerPorts[workerCfg.WorkerType]
	if !ok {
		port = "9000"
	}
	health := worker.NewHealthServer(workerCfg, b, w)
	go func() {
		addr := ":" + port
		logger.Info("health server listening", zap.String("addr", addr), zap.String("worker_type", workerCfg.WorkerType))
		if err := health.Run(addr); err != nil {
			logger.Error("health server stopped", zap.Error(err))
		}
	}()

	topicList, ok := workerTopics[workerCfg.WorkerType]
	if !ok {
		topicList = []string{topics.Exceptions}
	}

	if err := w.Run(ctx, topicList, 30*time.Second); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
	logger.Info("worker shut down cleanly", zap.String("worker_type", workerCfg.WorkerType))
}

// illustrativeHandler stands in for a real agent's business logic: it logs
// receipt of the event and, for agent types with a defined follow-on event,
// publishes it through pub (exercising the rate limiter, event store, and
// broker exactly as a real agent would). feedback and sla_monitor have no
// follow-on event and simply acknowledge.
func illustrativeHandler(workerType string, pub *publisher.Publisher, logger *zap.Logger) worker.Handler {
	return func(ctx context.Context, ev events.Event) error {
		logger.Info("processing event",
			zap.String("worker_type", workerType), zap.String("event_id", ev.EventID),
			zap.String("event_type", ev.EventType), zap.String("tenant_id", ev.TenantID))

		next, hasFollowOn := followOnEvent[workerType]
		if !hasFollowOn {
			return nil
		}

		opts := []events.Option{events.WithCorrelationID(ev.CorrelationID)}
		if ev.ExceptionID != nil {
			opts = append(opts, events.WithExceptionID(*ev.ExceptionID))
		}
		out, err := events.New(next.eventType, ev.TenantID, map[string]any{
			"upstream_event_id":   ev.EventID,
			"upstream_event_type": ev.EventType,
			"worker_type":         workerType,
		}, opts...)
		if err != nil {
			return fmt.Errorf("worker: build follow-on event: %w", err)
		}
		if _, err := pub.Publish(ctx, next.topic, out); err != nil {
			return fmt.Errorf("worker: publish follow-on event: %w", err)
		}
		return nil
	}
}

func buildRateLimiter(cfg appconfig.Config, logger *zap.Logger) publisher.RateLimiter {
	limit := ratelimiter.TenantLimit{
		EventsPerSecond: cfg.RateLimit.EventsPerSecond,
		EventsPerMinute: cfg.RateLimit.EventsPerMinute,
		BurstSize:       cfg.RateLimit.BurstSize,
	}
	if !cfg.RateLimit.Shared {
		return ratelimiter.New(limit).WithContext()
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.Redis.Addr}, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	logger.Info("using shared redis rate limiter", zap.String("addr", cfg.Redis.Addr))
	return ratelimiter.NewShared(client, "exceptionflow:ratelimit", limit)
}

func openStores(cfg appconfig.Config, logger *zap.Logger) (store.EventStore, store.ProcessingLedger, store.DeadLetterStore, func()) {
	if cfg.Postgres.DSN == "" {
		logger.Warn("no POSTGRES_DSN configured, using in-memory store (not durable across restarts)")
		mem := store.NewMemory()
		return mem.Events, mem.Processing, mem.DLQ, func() {}
	}

	db, err := store.OpenPostgres(cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("open postgres", zap.Error(err))
	}
	closeFn := func() {
		if err := db.Close(); err != nil {
			logger.Error("close postgres", zap.Error(err))
		}
	}
	return store.NewPostgres(db), store.NewPostgresLedger(db), store.NewPostgresDLQ(db), closeFn
}
