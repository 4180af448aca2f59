package broker

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"strconv"
	"strings"
	"time"
)

// Security holds TLS/SASL settings for the Kafka broker (spec section 4.3).
// Defaults are safe: PLAINTEXT only when explicitly configured, hostname
// verification on by default.
type Security struct {
	Protocol          string // PLAINTEXT | SSL | SASL_PLAINTEXT | SASL_SSL
	SASLMechanism     string
	SASLUsername      string
	SASLPassword      string
	CAFile            string
	CertFile          string
	KeyFile           string
	KeyFilePassword   string
	CheckHostname     bool
	CRLFile           string
	Ciphers           string
}

// TLSConfig builds a *tls.Config from Security, or nil when TLS isn't in use.
func (s Security) TLSConfig() (*tls.Config, error) {
	if s.Protocol != "SSL" && s.Protocol != "SASL_SSL" {
		return nil, nil
	}
	cfg := &tls.Config{
		InsecureSkipVerify: !s.CheckHostname, //nolint:gosec // operator-controlled, default false
	}
	if s.CAFile != "" {
		pemData, err := os.ReadFile(s.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		pool.AppendCertsFromPEM(pemData)
		cfg.RootCAs = pool
	}
	if s.CertFile != "" && s.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.CertFile, s.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Config holds the application-level Kafka configuration; configureSarama
// translates it into a *sarama.Config.
type Config struct {
	Brokers          []string
	KafkaVersion     string
	GroupID          string
	SubscribedTopics []string
	DLQTopic         string
	MaxRetry         uint64

	AutoOffsetReset   string // "earliest" | "latest"
	SessionTimeout    time.Duration
	ProducerTimeout   time.Duration
	ProducerAcks      string // "all" | "1" | "0" | synonyms

	Security Security

	// CircuitBreakerMaxRequests/Interval/Timeout configure the gobreaker
	// wrapping Publish; see NewKafka in kafka.go.
	CircuitBreakerMaxRequests uint32
	CircuitBreakerInterval    time.Duration
	CircuitBreakerTimeout     time.Duration
}

// ConfigFromEnv builds a Config from environment variables (spec section 6
// "broker connection/security vars", grounded on
// original_source/src/messaging/settings.py).
func ConfigFromEnv() Config {
	return Config{
		Brokers:          splitCSV(getenv("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaVersion:     os.Getenv("KAFKA_VERSION"),
		GroupID:          getenv("GROUP_ID", getenv("WORKER_TYPE", "worker")),
		SubscribedTopics: splitCSV(getenv("KAFKA_TOPICS", "exceptions")),
		DLQTopic:         getenv("DLQ_TOPIC", "exceptions.dlq"),
		MaxRetry:         uint64(getenvInt("KAFKA_CONSUMER_MAX_RETRY", 3)),

		AutoOffsetReset: getenv("KAFKA_CONSUMER_AUTO_OFFSET_RESET", "earliest"),
		SessionTimeout:  time.Duration(getenvInt("KAFKA_CONSUMER_SESSION_TIMEOUT_MS", 30000)) * time.Millisecond,
		ProducerTimeout: time.Duration(getenvInt("KAFKA_PRODUCER_TIMEOUT_MS", 10000)) * time.Millisecond,
		ProducerAcks:    getenv("KAFKA_PRODUCER_ACKS", "all"),

		Security: Security{
			Protocol:        getenv("KAFKA_SECURITY_PROTOCOL", "PLAINTEXT"),
			SASLMechanism:   os.Getenv("KAFKA_SASL_MECHANISM"),
			SASLUsername:    os.Getenv("KAFKA_SASL_USERNAME"),
			SASLPassword:    os.Getenv("KAFKA_SASL_PASSWORD"),
			CAFile:          os.Getenv("KAFKA_SSL_CAFILE"),
			CertFile:        os.Getenv("KAFKA_SSL_CERTFILE"),
			KeyFile:         os.Getenv("KAFKA_SSL_KEYFILE"),
			KeyFilePassword: os.Getenv("KAFKA_SSL_KEYFILE_PASSWORD"),
			CheckHostname:   getenvBool("KAFKA_SSL_CHECK_HOSTNAME", true),
			CRLFile:         os.Getenv("KAFKA_SSL_CRLFILE"),
			Ciphers:         os.Getenv("KAFKA_SSL_CIPHERS"),
		},

		CircuitBreakerMaxRequests: uint32(getenvInt("BROKER_BREAKER_MAX_REQUESTS", 1)),
		CircuitBreakerInterval:    time.Duration(getenvInt("BROKER_BREAKER_INTERVAL_S", 60)) * time.Second,
		CircuitBreakerTimeout:     time.Duration(getenvInt("BROKER_BREAKER_TIMEOUT_S", 30)) * time.Second,
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1" || v == "yes"
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
