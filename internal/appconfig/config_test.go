package appconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "info", cfg.Zap.Level)
	require.Equal(t, "json", cfg.Zap.Encoding)
	require.False(t, cfg.Tracer.Enabled)
	require.Equal(t, "exceptionflow-pipeline", cfg.Tracer.ServiceName)
	require.False(t, cfg.RateLimit.Enabled)
	require.Equal(t, 20, cfg.RateLimit.BurstSize)
	require.Equal(t, "9100", cfg.MetricsPort)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("ZAP_LEVEL", "debug")
	defer os.Unsetenv("SERVER_PORT")
	defer os.Unsetenv("ZAP_LEVEL")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, "debug", cfg.Zap.Level)
}

func TestLoad_PopulatesBrokerConfigFromEnv(t *testing.T) {
	os.Setenv("KAFKA_BOOTSTRAP_SERVERS", "broker1:9092,broker2:9092")
	defer os.Unsetenv("KAFKA_BOOTSTRAP_SERVERS")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)
	require.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Broker.Brokers)
}

func TestNewZapLogger_InvalidLevelErrors(t *testing.T) {
	_, err := NewZapLogger(ZapConfig{Level: "not-a-level"})
	require.Error(t, err)
}

func TestNewZapLogger_DefaultsEncodingToJSON(t *testing.T) {
	logger, err := NewZapLogger(ZapConfig{Level: "info"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}
