package broker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurity_TLSConfig_NilForPlaintextAndSASLPlaintext(t *testing.T) {
	for _, proto := range []string{"", "PLAINTEXT", "SASL_PLAINTEXT"} {
		sec := Security{Protocol: proto}
		cfg, err := sec.TLSConfig()
		require.NoError(t, err)
		require.Nil(t, cfg)
	}
}

func TestSecurity_TLSConfig_HostnameVerificationOnByDefault(t *testing.T) {
	sec := Security{Protocol: "SSL", CheckHostname: true}
	cfg, err := sec.TLSConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.False(t, cfg.InsecureSkipVerify)
}

func TestSecurity_TLSConfig_DisablingHostnameCheckSkipsVerification(t *testing.T) {
	sec := Security{Protocol: "SASL_SSL", CheckHostname: false}
	cfg, err := sec.TLSConfig()
	require.NoError(t, err)
	require.True(t, cfg.InsecureSkipVerify)
}

func TestSecurity_TLSConfig_MissingCAFileErrors(t *testing.T) {
	sec := Security{Protocol: "SSL", CAFile: "/nonexistent/ca.pem"}
	_, err := sec.TLSConfig()
	require.Error(t, err)
}

func TestConfigFromEnv_DefaultsToPlaintextAndHostnameVerification(t *testing.T) {
	for _, k := range []string{
		"KAFKA_BOOTSTRAP_SERVERS", "KAFKA_SECURITY_PROTOCOL", "KAFKA_SSL_CHECK_HOSTNAME",
		"WORKER_TYPE", "GROUP_ID", "KAFKA_TOPICS",
	} {
		os.Unsetenv(k)
	}

	cfg := ConfigFromEnv()
	require.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	require.Equal(t, "PLAINTEXT", cfg.Security.Protocol)
	require.True(t, cfg.Security.CheckHostname)
	require.Equal(t, []string{"exceptions"}, cfg.SubscribedTopics)
}

func TestConfigFromEnv_GroupIDFallsBackToWorkerType(t *testing.T) {
	os.Setenv("WORKER_TYPE", "intake")
	os.Unsetenv("GROUP_ID")
	defer os.Unsetenv("WORKER_TYPE")

	cfg := ConfigFromEnv()
	require.Equal(t, "intake", cfg.GroupID)
}

func TestSplitCSV_TrimsAndDropsEmpties(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitCSV(" a, b ,c,"))
	require.Equal(t, []string{}, splitCSV(""))
}
