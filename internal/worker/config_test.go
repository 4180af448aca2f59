package worker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearWorkerEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WORKER_TYPE", "CONCURRENCY", "GROUP_ID", "ALLOW_FUTURE_SCHEMA",
		"METRICS_INCLUDE_TENANT_ID", "RATE_LIMIT_ENABLED", "EXPECTED_TENANT_ID",
	} {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range []string{
			"WORKER_TYPE", "CONCURRENCY", "GROUP_ID", "ALLOW_FUTURE_SCHEMA",
			"METRICS_INCLUDE_TENANT_ID", "RATE_LIMIT_ENABLED", "EXPECTED_TENANT_ID",
		} {
			os.Unsetenv(k)
		}
	})
}

func TestConfigFromEnv_RequiresWorkerType(t *testing.T) {
	clearWorkerEnv(t)
	_, err := ConfigFromEnv()
	require.Error(t, err)
}

func TestConfigFromEnv_DefaultsConcurrencyAndGroupID(t *testing.T) {
	clearWorkerEnv(t)
	os.Setenv("WORKER_TYPE", "intake")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "intake", cfg.WorkerType)
	require.Equal(t, 1, cfg.Concurrency)
	require.Equal(t, "intake", cfg.GroupID)
	require.False(t, cfg.AllowFutureSchema)
}

func TestConfigFromEnv_RejectsInvalidOrZeroConcurrency(t *testing.T) {
	clearWorkerEnv(t)
	os.Setenv("WORKER_TYPE", "intake")
	os.Setenv("CONCURRENCY", "not-a-number")
	_, err := ConfigFromEnv()
	require.Error(t, err)

	os.Setenv("CONCURRENCY", "0")
	_, err = ConfigFromEnv()
	require.Error(t, err)
}

func TestConfigFromEnv_BoolFlagsAreCaseInsensitive(t *testing.T) {
	clearWorkerEnv(t)
	os.Setenv("WORKER_TYPE", "triage")
	os.Setenv("ALLOW_FUTURE_SCHEMA", "TRUE")
	os.Setenv("RATE_LIMIT_ENABLED", "True")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.True(t, cfg.AllowFutureSchema)
	require.True(t, cfg.RateLimitEnabled)
	require.False(t, cfg.MetricsIncludeTenantID)
}

func TestConfigFromEnv_ExplicitGroupIDOverridesWorkerType(t *testing.T) {
	clearWorkerEnv(t)
	os.Setenv("WORKER_TYPE", "policy")
	os.Setenv("GROUP_ID", "custom-group")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, "custom-group", cfg.GroupID)
}
