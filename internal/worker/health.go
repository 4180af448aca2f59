package worker

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/exceptionflow/pipeline/internal/broker"
)

// StatsProvider is the subset of *Worker the health server reads counters
// and readiness from. A nil provider reports zero counters and is treated as
// not yet subscribed, useful for tests that build a HealthServer without a
// running Worker.
type StatsProvider interface {
	Stats() Stats
	Subscribed() bool
}

// HealthServer exposes /healthz, /readyz, and / for one worker process
// (C10). Bound to a port in the 9001-9007 range by convention, one per
// worker type.
type HealthServer struct {
	cfg       Config
	b         broker.Broker
	worker    StatsProvider
	startedAt time.Time
}

// NewHealthServer builds a health server reporting on cfg's worker, b's
// connectivity, and w's processed/failed counters. w may be nil.
func NewHealthServer(cfg Config, b broker.Broker, w StatsProvider) *HealthServer {
	return &HealthServer{cfg: cfg, b: b, worker: w, startedAt: time.Now()}
}

// Engine builds the gin router. Kept separate from Run so callers can embed
// it behind otelhttp or alongside other routes.
func (h *HealthServer) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// healthz: the process is up and the broker reports connected (spec
	// section 4.12).
	r.GET("/healthz", func(c *gin.Context) {
		status := h.b.Health(c.Request.Context())
		if !status.Connected {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "broker": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "broker": status})
	})

	// readyz: the consume loop is subscribed (consumer thread alive).
	// Deliberately does not re-check the broker or the database, to avoid
	// connection-pool contention on a probe that fires every few seconds
	// (spec section 4.12) -- the database was already verified at startup.
	r.GET("/readyz", func(c *gin.Context) {
		if h.worker == nil || !h.worker.Subscribed() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/", func(c *gin.Context) {
		var stats Stats
		if h.worker != nil {
			stats = h.worker.Stats()
		}
		c.JSON(http.StatusOK, gin.H{
			"worker_type":     h.cfg.WorkerType,
			"group_id":        h.cfg.GroupID,
			"concurrency":     h.cfg.Concurrency,
			"uptime_seconds":  time.Since(h.startedAt).Seconds(),
			"events_processed": stats.Processed,
			"events_failed":    stats.Failed,
		})
	})

	return r
}

// Run starts the HTTP server and blocks until the server stops or an error
// occurs. Callers typically run this in its own goroutine.
func (h *HealthServer) Run(addr string) error {
	return h.Engine().Run(addr)
}
