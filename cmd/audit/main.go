// Command audit serves the HTTP audit-trail and dead-letter-queue operator
// API (C12): query events by exception or tenant, list/inspect/replay/
// discard dead-lettered events, and a Swagger UI describing the surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	_ "github.com/exceptionflow/pipeline/cmd/audit/docs"
	"github.com/exceptionflow/pipeline/internal/appconfig"
	"github.com/exceptionflow/pipeline/internal/audit"
	"github.com/exceptionflow/pipeline/internal/broker"
	"github.com/exceptionflow/pipeline/internal/publisher"
	"github.com/exceptionflow/pipeline/internal/store"
)

func main() {
	appCfg, err := appconfig.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit: load config:", err)
		os.Exit(1)
	}

	logger, err := appconfig.NewZapLogger(appCfg.Zap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "audit: build logger:", err)
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

	eventStore, _, dlq, closeStore := openStores(appCfg, logger)
	defer closeStore()

	var republisher audit.Republisher
	if b, err := broker.NewKafka(appCfg.Broker, logger); err != nil {
		logger.Warn("audit: broker unavailable, dlq replay disabled", zap.Error(err))
	} else {
		defer b.Close()
		republisher = publisher.New(b, eventStore, logger)
	}

	svc := audit.NewService(eventStore, dlq, republisher)
	handler := audit.NewHandler(svc, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(appCfg.Tracer.ServiceName))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := router.Group("/api/v1/audit")
	handler.RegisterRoutes(apiV1)

	srv := &http.Server{Addr: ":" + appCfg.Server.Port, Handler: router}
	go func() {
		logger.Info("audit API listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("audit API stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down audit API")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("audit API shutdown error", zap.Error(err))
	}
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
