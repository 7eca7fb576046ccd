// Package config builds and validates the client configuration tree and
// loads it from environment variables, following the flattened
// <PREFIX>SECTION_FIELD convention.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPrefix is the default environment-variable prefix.
const DefaultPrefix = "MCP_CLIENT_"

// RetryConfig mirrors spec.md §3's RetryConfig section.
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries"`
	BaseDelay     time.Duration `json:"base_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	Jitter        bool          `json:"jitter"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

func (r RetryConfig) Validate() []string {
	var errs []string
	if r.MaxRetries < 0 || r.MaxRetries > 10 {
		errs = append(errs, "retry.max_retries must be between 0 and 10")
	}
	if r.BackoffFactor < 1 {
		errs = append(errs, "retry.backoff_factor must be >= 1")
	}
	if r.BaseDelay <= 0 {
		errs = append(errs, "retry.base_delay must be positive")
	}
	if r.MaxDelay <= 0 {
		errs = append(errs, "retry.max_delay must be positive")
	}
	return errs
}

// TransportConfig mirrors spec.md §3's TransportConfig section.
type TransportConfig struct {
	ConnectTimeout time.Duration     `json:"connect_timeout"`
	ReadTimeout    time.Duration     `json:"read_timeout"`
	WriteTimeout   time.Duration     `json:"write_timeout"`
	MaxConnections int               `json:"max_connections"`
	KeepAlive      bool              `json:"keep_alive"`
	VerifyTLS      bool              `json:"verify_tls"`
	TLSCertPath    string            `json:"tls_cert_path,omitempty"`
	CustomHeaders  map[string]string `json:"custom_headers,omitempty"`
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout: 10 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxConnections: 10,
		KeepAlive:      true,
		VerifyTLS:      true,
		CustomHeaders:  make(map[string]string),
	}
}

func (t TransportConfig) Validate() []string {
	var errs []string
	if t.MaxConnections < 1 || t.MaxConnections > 100 {
		errs = append(errs, "transport.max_connections must be between 1 and 100")
	}
	return errs
}

// MonitoringConfig mirrors spec.md §3's MonitoringConfig section.
type MonitoringConfig struct {
	MetricsOn       bool          `json:"metrics_on"`
	MetricsInterval time.Duration `json:"metrics_interval"`
	HealthOn        bool          `json:"health_on"`
	HealthInterval  time.Duration `json:"health_interval"`
	TracingSample   float64       `json:"tracing_sample"`
}

func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		MetricsOn:       true,
		MetricsInterval: 60 * time.Second,
		HealthOn:        true,
		HealthInterval:  60 * time.Second,
		TracingSample:   0.0,
	}
}

func (m MonitoringConfig) Validate() []string {
	var errs []string
	if m.TracingSample < 0 || m.TracingSample > 1 {
		errs = append(errs, "monitoring.tracing_sample must be within [0,1]")
	}
	return errs
}

// ClientConfig aggregates the full config tree, plus process-wide
// settings not scoped to a single section.
type ClientConfig struct {
	Retry                RetryConfig       `json:"retry"`
	Transport            TransportConfig   `json:"transport"`
	Monitoring           MonitoringConfig  `json:"monitoring"`
	Timeout              time.Duration     `json:"timeout"`
	MaxConcurrentRequest int               `json:"max_concurrent_requests"`
	PoolingEnabled       bool              `json:"pooling_enabled"`
	Credentials          string            `json:"-"` // write-only, never serialized
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Retry:                DefaultRetryConfig(),
		Transport:            DefaultTransportConfig(),
		Monitoring:           DefaultMonitoringConfig(),
		Timeout:              30 * time.Second,
		MaxConcurrentRequest: 50,
		PoolingEnabled:       true,
	}
}

// Validate aggregates all section-level validation errors.
func (c ClientConfig) Validate() []string {
	var errs []string
	errs = append(errs, c.Retry.Validate()...)
	errs = append(errs, c.Transport.Validate()...)
	errs = append(errs, c.Monitoring.Validate()...)
	if c.Timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}
	if c.MaxConcurrentRequest < 1 {
		errs = append(errs, "max_concurrent_requests must be >= 1")
	}
	return errs
}

// MarshalJSON never emits Credentials; the struct tag already excludes
// it, this exists only to document the write-only-secret contract.
func (c ClientConfig) MarshalJSON() ([]byte, error) {
	type alias ClientConfig
	return json.Marshal(alias(c))
}

// LoadFromFile reads a JSON document matching the config tree's shape,
// per §6's File config surface, and validates it.
func LoadFromFile(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return cfg, fmt.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// envBinding associates one flattened environment variable suffix
// (appended to the prefix) with a setter closure that parses and
// applies the raw string onto the config in place.
type envBinding struct {
	suffix string
	apply  func(cfg *ClientConfig, raw string)
}

// bindings is the table-driven set of recognized <PREFIX>SECTION_FIELD
// variables, modeled on the original system's from_env table.
var bindings = []envBinding{
	{"TIMEOUT", func(c *ClientConfig, v string) { setDuration(&c.Timeout, v, "timeout") }},
	{"MAX_CONCURRENT_REQUESTS", func(c *ClientConfig, v string) { setInt(&c.MaxConcurrentRequest, v, "max_concurrent_requests") }},
	{"POOLING_ENABLED", func(c *ClientConfig, v string) { setBool(&c.PoolingEnabled, v, "pooling_enabled") }},
	{"CREDENTIALS", func(c *ClientConfig, v string) { c.Credentials = v }},

	{"MAX_RETRIES", func(c *ClientConfig, v string) { setInt(&c.Retry.MaxRetries, v, "retry.max_retries") }},
	{"BASE_DELAY", func(c *ClientConfig, v string) { setDurationSeconds(&c.Retry.BaseDelay, v, "retry.base_delay") }},
	{"MAX_DELAY", func(c *ClientConfig, v string) { setDurationSeconds(&c.Retry.MaxDelay, v, "retry.max_delay") }},
	{"BACKOFF_FACTOR", func(c *ClientConfig, v string) { setFloat(&c.Retry.BackoffFactor, v, "retry.backoff_factor") }},
	{"RETRY_JITTER", func(c *ClientConfig, v string) { setBool(&c.Retry.Jitter, v, "retry.jitter") }},

	{"CONNECTION_TIMEOUT", func(c *ClientConfig, v string) { setDurationSeconds(&c.Transport.ConnectTimeout, v, "transport.connect_timeout") }},
	{"READ_TIMEOUT", func(c *ClientConfig, v string) { setDurationSeconds(&c.Transport.ReadTimeout, v, "transport.read_timeout") }},
	{"WRITE_TIMEOUT", func(c *ClientConfig, v string) { setDurationSeconds(&c.Transport.WriteTimeout, v, "transport.write_timeout") }},
	{"MAX_CONNECTIONS", func(c *ClientConfig, v string) { setInt(&c.Transport.MaxConnections, v, "transport.max_connections") }},
	{"KEEP_ALIVE", func(c *ClientConfig, v string) { setBool(&c.Transport.KeepAlive, v, "transport.keep_alive") }},
	{"VERIFY_SSL", func(c *ClientConfig, v string) { setBool(&c.Transport.VerifyTLS, v, "transport.verify_tls") }},
	{"SSL_CERT_PATH", func(c *ClientConfig, v string) { c.Transport.TLSCertPath = v }},

	{"ENABLE_METRICS", func(c *ClientConfig, v string) { setBool(&c.Monitoring.MetricsOn, v, "monitoring.metrics_on") }},
	{"METRICS_INTERVAL", func(c *ClientConfig, v string) { setDurationSeconds(&c.Monitoring.MetricsInterval, v, "monitoring.metrics_interval") }},
	{"ENABLE_HEALTH_CHECKING", func(c *ClientConfig, v string) { setBool(&c.Monitoring.HealthOn, v, "monitoring.health_on") }},
	{"HEALTH_CHECK_INTERVAL", func(c *ClientConfig, v string) { setDurationSeconds(&c.Monitoring.HealthInterval, v, "monitoring.health_interval") }},
	{"ENABLE_TRACING", func(c *ClientConfig, v string) {}},
	{"TRACING_SAMPLE_RATE", func(c *ClientConfig, v string) { setFloat(&c.Monitoring.TracingSample, v, "monitoring.tracing_sample") }},
}

// LoadFromEnv reads all recognized <prefix>SECTION_FIELD variables on
// top of the defaults. Unrecognized variables are ignored; recognized
// but malformed values are logged as warnings and the default retained.
func LoadFromEnv(prefix string) ClientConfig {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	cfg := DefaultClientConfig()
	for _, b := range bindings {
		raw, ok := os.LookupEnv(prefix + b.suffix)
		if !ok {
			continue
		}
		b.apply(&cfg, raw)
	}
	return cfg
}

func setInt(dst *int, raw, field string) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		log.Warn().Str("field", field).Str("value", raw).Msg("config: malformed int, keeping default")
		return
	}
	*dst = v
}

func setFloat(dst *float64, raw, field string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("field", field).Str("value", raw).Msg("config: malformed float, keeping default")
		return
	}
	*dst = v
}

func setBool(dst *bool, raw, field string) {
	v := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(v, "true"):
		*dst = true
	case strings.EqualFold(v, "false"):
		*dst = false
	default:
		log.Warn().Str("field", field).Str("value", raw).Msg("config: malformed bool, keeping default")
	}
}

// setDuration reads raw as a number of seconds (a float), exactly like
// setDurationSeconds; a Go duration string such as "30s" is rejected as
// malformed and the default kept.
func setDuration(dst *time.Duration, raw, field string) {
	setDurationSeconds(dst, raw, field)
}

func setDurationSeconds(dst *time.Duration, raw, field string) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		log.Warn().Str("field", field).Str("value", raw).Msg("config: malformed duration seconds, keeping default")
		return
	}
	*dst = time.Duration(v * float64(time.Second))
}
