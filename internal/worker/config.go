// Package worker implements the base event-processing framework every
// agent worker runs on top of (spec section 4.12, C9): deserialize, gate
// on schema version and tenant, gate on idempotency, dispatch, and report
// failures to the retry scheduler.
package worker

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is loaded from the environment (spec section 6 "worker contract").
type Config struct {
	WorkerType             string
	Concurrency            int
	GroupID                string
	AllowFutureSchema      bool
	MetricsIncludeTenantID bool
	RateLimitEnabled       bool
	ExpectedTenantID       string
}

// ConfigFromEnv reads WORKER_TYPE, CONCURRENCY, GROUP_ID,
// ALLOW_FUTURE_SCHEMA, METRICS_INCLUDE_TENANT_ID, RATE_LIMIT_ENABLED,
// and EXPECTED_TENANT_ID.
func ConfigFromEnv() (Config, error) {
	workerType := strings.TrimSpace(os.Getenv("WORKER_TYPE"))
	if workerType == "" {
		return Config{}, fmt.Errorf("worker: WORKER_TYPE is required (one of: %s)", strings.Join(supportedTypeNames(), ", "))
	}

	concurrency := 1
	if raw := os.Getenv("CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("worker: invalid CONCURRENCY %q: %w", raw, err)
		}
		concurrency = n
	}
	if concurrency < 1 {
		return Config{}, fmt.Errorf("worker: CONCURRENCY must be >= 1, got %d", concurrency)
	}

	groupID := os.Getenv("GROUP_ID")
	if groupID == "" {
		groupID = workerType
	}

	return Config{
		WorkerType:             workerType,
		Concurrency:            concurrency,
		GroupID:                groupID,
		AllowFutureSchema:      envBool("ALLOW_FUTURE_SCHEMA"),
		MetricsIncludeTenantID: envBool("METRICS_INCLUDE_TENANT_ID"),
		RateLimitEnabled:       envBool("RATE_LIMIT_ENABLED"),
		ExpectedTenantID:       os.Getenv("EXPECTED_TENANT_ID"),
	}, nil
}

func envBool(key string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), "true")
}

// SupportedWorkerTypes maps the short WORKER_TYPE value to its agent name
// (spec section 6).
var SupportedWorkerTypes = map[string]string{
	"intake":      "IntakeWorker",
	"triage":      "TriageWorker",
	"policy":      "PolicyWorker",
	"playbook":    "PlaybookWorker",
	"tool":        "ToolWorker",
	"feedback":    "FeedbackWorker",
	"sla_monitor": "SLAMonitorWorker",
}

func supportedTypeNames() []string {
	names := make([]string, 0, len(SupportedWorkerTypes))
	for k := range SupportedWorkerTypes {
		names = append(names, k)
	}
	return names
}
