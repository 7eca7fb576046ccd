package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClientConfigValidates(t *testing.T) {
	cfg := DefaultClientConfig()
	assert.Empty(t, cfg.Validate())
}

func TestValidateCatchesOutOfRangeFields(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.Retry.MaxRetries = 99
	cfg.Retry.BackoffFactor = 0.1
	cfg.Transport.MaxConnections = 0
	cfg.Monitoring.TracingSample = 2
	cfg.Timeout = 0
	cfg.MaxConcurrentRequest = 0

	errs := cfg.Validate()
	assert.Contains(t, errs, "retry.max_retries must be between 0 and 10")
	assert.Contains(t, errs, "retry.backoff_factor must be >= 1")
	assert.Contains(t, errs, "transport.max_connections must be between 1 and 100")
	assert.Contains(t, errs, "monitoring.tracing_sample must be within [0,1]")
	assert.Contains(t, errs, "timeout must be positive")
	assert.Contains(t, errs, "max_concurrent_requests must be >= 1")
}

func TestLoadFromEnvAppliesRecognizedBindings(t *testing.T) {
	prefix := "TEST_MCP_CLIENT_"
	os.Setenv(prefix+"MAX_RETRIES", "7")
	os.Setenv(prefix+"BASE_DELAY", "2.5")
	os.Setenv(prefix+"POOLING_ENABLED", "FALSE")
	os.Setenv(prefix+"MAX_CONNECTIONS", "20")
	defer func() {
		os.Unsetenv(prefix + "MAX_RETRIES")
		os.Unsetenv(prefix + "BASE_DELAY")
		os.Unsetenv(prefix + "POOLING_ENABLED")
		os.Unsetenv(prefix + "MAX_CONNECTIONS")
	}()

	cfg := LoadFromEnv(prefix)
	assert.Equal(t, 7, cfg.Retry.MaxRetries)
	assert.Equal(t, 2500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.False(t, cfg.PoolingEnabled)
	assert.Equal(t, 20, cfg.Transport.MaxConnections)
}

func TestLoadFromEnvKeepsDefaultOnMalformedValue(t *testing.T) {
	prefix := "TEST2_MCP_CLIENT_"
	os.Setenv(prefix+"MAX_RETRIES", "not-an-int")
	defer os.Unsetenv(prefix + "MAX_RETRIES")

	cfg := LoadFromEnv(prefix)
	assert.Equal(t, DefaultClientConfig().Retry.MaxRetries, cfg.Retry.MaxRetries)
}

func TestLoadFromEnvIgnoresUnrecognizedVariable(t *testing.T) {
	prefix := "TEST3_MCP_CLIENT_"
	os.Setenv(prefix+"TOTALLY_UNKNOWN", "x")
	defer os.Unsetenv(prefix + "TOTALLY_UNKNOWN")

	cfg := LoadFromEnv(prefix)
	assert.Equal(t, DefaultClientConfig(), cfg)
}

func TestLoadFromFileRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"timeout": 45000000000, "max_concurrent_requests": 12}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg, err := LoadFromFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 12, cfg.MaxConcurrentRequest)
}

func TestLoadFromFileRejectsInvalidConfig(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	require.NoError(t, err)
	_, err = f.WriteString(`{"timeout": 0}`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = LoadFromFile(f.Name())
	assert.Error(t, err)
}
