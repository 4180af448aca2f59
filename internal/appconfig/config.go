// Package appconfig is a small stand-in for the teacher's
// github.com/Xushengqwer/go-common/core config loader, which is a private
// module this repo cannot depend on. Same viper-based shape (load a YAML
// file, let environment variables override it), reimplemented locally.
package appconfig

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/spf13/viper"

	"github.com/exceptionflow/pipeline/internal/broker"
)

// ServerConfig configures the HTTP surface (health server or audit API).
type ServerConfig struct {
	Port string `mapstructure:"port"`
}

// ZapConfig configures the structured logger.
type ZapConfig struct {
	Level    string `mapstructure:"level"`    // debug|info|warn|error
	Encoding string `mapstructure:"encoding"` // json|console
}

// TracerConfig configures OpenTelemetry tracing. Disabled by default; the
// pipeline runs with a no-op tracer unless an operator opts in.
type TracerConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
	Endpoint    string `mapstructure:"endpoint"` // OTLP gRPC endpoint, e.g. "otel-collector:4317"
}

// PostgresConfig configures the durable store backend.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig configures the optional shared rate limiter backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig configures per-tenant publish throttling (spec section
// 4.5).
type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Shared          bool    `mapstructure:"shared"` // use Redis-backed limiter instead of per-process
	EventsPerSecond float64 `mapstructure:"eventsPerSecond"`
	EventsPerMinute float64 `mapstructure:"eventsPerMinute"`
	BurstSize       int     `mapstructure:"burstSize"`
}

// Config is the full process configuration, shared by cmd/worker and
// cmd/seed (each reads only the sections it needs).
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Zap          ZapConfig           `mapstructure:"zap"`
	Tracer       TracerConfig        `mapstructure:"tracer"`
	Broker       broker.Config       `mapstructure:"-"` // populated from env directly, see broker.ConfigFromEnv
	Postgres     PostgresConfig      `mapstructure:"postgres"`
	Redis        RedisConfig         `mapstructure:"redis"`
	RateLimit    RateLimitConfig     `mapstructure:"rateLimit"`
	MetricsPort  string              `mapstructure:"metricsPort"`
}

// Load reads configFile (if it exists) then overlays environment variables,
// following the teacher's convention: file first, env always wins. An
// absent file is not an error; every field has a usable zero-value or is
// set directly from the environment (see broker.ConfigFromEnv).
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// An explicitly set path that does not exist surfaces as an
		// fs.ErrNotExist error, not as viper.ConfigFileNotFoundError.
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Broker = broker.ConfigFromEnv()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("zap.level", "info")
	v.SetDefault("zap.encoding", "json")
	v.SetDefault("tracer.enabled", false)
	v.SetDefault("tracer.serviceName", "exceptionflow-pipeline")
	v.SetDefault("rateLimit.enabled", false)
	v.SetDefault("rateLimit.shared", false)
	v.SetDefault("rateLimit.eventsPerSecond", 10.0)
	v.SetDefault("rateLimit.eventsPerMinute", 600.0)
	v.SetDefault("rateLimit.burstSize", 20)
	v.SetDefault("metricsPort", "9100")
}
