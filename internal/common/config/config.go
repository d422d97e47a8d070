// internal/common/config/config.go
package config

import "time"

// Config is the main application configuration struct.
type Config struct {
	App         AppConfig               `mapstructure:"app"`
	Server      ServerConfig            `mapstructure:"server"`
	Assistant   AssistantConfig         `mapstructure:"assistant"`
	Filling     FillingConfig           `mapstructure:"filling"`
	Credentials CredentialsConfig       `mapstructure:"credentials"`
	Progress    ProgressConfig          `mapstructure:"progress"`
	Camunda     CamundaConfig           `mapstructure:"camunda"`
	Redis       RedisConfig             `mapstructure:"redis"`
	Workers     map[string]WorkerConfig `mapstructure:"workers"`
	Logging     LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig drives the echo server. Health, readiness and metrics are always served on
// Address; Enabled toggles the form-fill API routes.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	// AllowedOrigins lists browser origins accepted by the API and the progress WebSocket.
	// Entries may contain * wildcards, e.g. chrome-extension://*.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// APIToken is the bearer token required to replace or clear stored credentials.
	// Credential writes are refused while it is empty.
	APIToken string `mapstructure:"api_token"`
}

// DefaultAllowedOrigins admits the browser extension and nothing else.
var DefaultAllowedOrigins = []string{"chrome-extension://*"}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"` // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"`
}

// --- Assistant / Filling ---

// AssistantConfig describes the remote assistant API. APIKey and AssistantID seed the static
// credential provider; the Redis provider may override them at runtime.
type AssistantConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	AssistantID      string `mapstructure:"assistant_id"`
	BetaHeader       string `mapstructure:"beta_header"`
	RequestTimeout   int    `mapstructure:"request_timeout"`    // milliseconds
	PollInterval     int    `mapstructure:"poll_interval"`      // milliseconds
	FieldMaxPolls    int    `mapstructure:"field_max_polls"`    // single-field flow
	FormMaxPolls     int    `mapstructure:"form_max_polls"`     // full-form flow
	MaxResponseBytes int64  `mapstructure:"max_response_bytes"` // upper bound on a reply body
}

// FillingConfig controls the batch orchestrator.
type FillingConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	BatchDelay  int `mapstructure:"batch_delay"` // milliseconds
	MaxFields   int `mapstructure:"max_fields"`
}

// CredentialsConfig selects where credentials come from: "static" (this file/env) or "redis".
type CredentialsConfig struct {
	Provider string `mapstructure:"provider"`
	RedisKey string `mapstructure:"redis_key"`
	CacheTTL int    `mapstructure:"cache_ttl"` // milliseconds, 0 disables the local cache
}

// ProgressConfig toggles the progress sinks.
type ProgressConfig struct {
	RedisChannel string `mapstructure:"redis_channel"`
	RedisEnabled bool   `mapstructure:"redis_enabled"`
	WebSocket    bool   `mapstructure:"websocket"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       defaultWorkerTimeout,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
