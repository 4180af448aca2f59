// Command seed publishes a handful of canonical exception-ingested events
// through the real publish path, for exercising a worker fleet without a
// live upstream exception source. Adapted from the teacher's kafka seeder,
// repointed at internal/publisher instead of writing raw Kafka messages.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/exceptionflow/pipeline/internal/appconfig"
	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/events"
	"github.com/exceptionflow/pipeline/internal/publisher"
	"github.com/exceptionflow/pipeline/internal/store"
	"github.com/exceptionflow/pipeline/internal/topics"
)

func main() {
	var configFile string
	var tenantID string
	var count int
	flag.StringVar(&configFile, "config", "", "path to a config file (optional, env vars always override)")
	flag.StringVar(&tenantID, "tenant", "tenant-demo", "tenant id to stamp on seeded events")
	flag.IntVar(&count, "count", 5, "number of exception-ingested events to publish")
	flag.Parse()

	cfg, err := appconfig.Load(configFile)
	if err != nil {
		log.Fatalf("seed: load config: %v", err)
	}

	logger, err := appconfig.NewZapLogger(cfg.Zap)
	if err != nil {
		log.Fatalf("seed: build logger: %v", err)
	}
	defer logger.Sync()

	b, err := broker.NewKafka(cfg.Broker, logger)
	if err != nil {
		logger.Fatal("seed: connect to broker", zap.Error(err))
	}
	defer b.Close()

	mem := store.NewMemory()
	pub := publisher.New(b, mem.Events, logger)

	topic := topics.ForExceptions("")
	logger.Info("seeding exception-ingested events", zap.Int("count", count), zap.String("tenant_id", tenantID), zap.String("topic", topic))

	for i := 0; i < count; i++ {
		payload := map[string]any{
			"exception_type": "ValueError",
			"message":        seedMessages[i%len(seedMessages)],
			"service":        "demo-service",
			"environment":    "development",
			"stack_trace":    "seeded by cmd/seed, no real stack trace available",
		}
		ev, err := events.New(events.TypeExceptionIngested, tenantID, payload)
		if err != nil {
			logger.Error("seed: build event", zap.Error(err))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		eventID, err := pub.Publish(ctx, topic, ev)
		cancel()
		if err != nil {
			logger.Error("seed: publish event", zap.Error(err), zap.Int("index", i))
			continue
		}
		logger.Info("seeded event", zap.String("event_id", eventID), zap.Int("index", i))
		time.Sleep(100 * time.Millisecond)
	}

	logger.Info("seeding complete")
}

var seedMessages = []string{
	"division by zero in pricing calculation",
	"connection refused calling downstream inventory service",
	"timeout waiting for payment gateway response",
	"null reference in order fulfillment handler",
	"unexpected schema in webhook payload",
}
