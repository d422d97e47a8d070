// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultBaseURL       = "https://api.openai.com/v1"
	defaultBetaHeader    = "assistants=v2"
	defaultPollInterval  = 1000
	defaultFieldMaxPolls = 30
	defaultFormMaxPolls  = 90
	defaultConcurrency   = 5
	defaultBatchDelay    = 200
	defaultWorkerTimeout = 300000
)

// Load reads configs/config.yaml (plus config.<env>.yaml), the nearest .env file and the
// process environment, in increasing order of precedence.
func Load() (*Config, error) {
	EnvFile = loadEnvFile()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")
	bindEnv(v)

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional overlay

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	EnvFile = loadEnvFile()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

// EnvFile is the .env path picked up by the last Load, empty when none was found.
var EnvFile string

func bindEnv(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "dw-chromegpt")
	v.SetDefault("app.environment", "development")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.api_token", "")
	v.SetDefault("assistant.base_url", defaultBaseURL)
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.assistant_id", "")
	v.SetDefault("assistant.beta_header", defaultBetaHeader)
	v.SetDefault("filling.concurrency", defaultConcurrency)
	v.SetDefault("filling.batch_delay", defaultBatchDelay)
	v.SetDefault("credentials.provider", "static")
	v.SetDefault("credentials.redis_key", "formfill:credentials")
	v.SetDefault("progress.redis_channel", "formfill:progress")
	v.SetDefault("camunda.enabled", false)
	v.SetDefault("camunda.broker_address", "")
	v.SetDefault("redis.address", "")
}

// loadEnvFile loads the first .env found walking from the working directory towards the
// module root and returns its path.
func loadEnvFile() string {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in YAML values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			// An unset variable expands to "" so later env fallbacks still apply.
			if expanded := os.ExpandEnv(strVal); expanded != strVal {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills values that conventionally live under well-known env names.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Assistant.APIKey == "" {
		cfg.Assistant.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Assistant.AssistantID == "" {
		cfg.Assistant.AssistantID = os.Getenv("OPENAI_ASSISTANT_ID")
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = os.Getenv("REDIS_ADDRESS")
	}
	if cfg.Redis.Password == "" {
		cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.Camunda.BrokerAddress == "" {
		cfg.Camunda.BrokerAddress = os.Getenv("ZEEBE_ADDRESS")
	}
	if cfg.Server.APIToken == "" {
		cfg.Server.APIToken = os.Getenv("FORMFILL_API_TOKEN")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Assistant.BaseURL == "" {
		cfg.Assistant.BaseURL = defaultBaseURL
	}
	cfg.Assistant.BaseURL = strings.TrimRight(cfg.Assistant.BaseURL, "/")
	if cfg.Assistant.BetaHeader == "" {
		cfg.Assistant.BetaHeader = defaultBetaHeader
	}
	if cfg.Assistant.RequestTimeout == 0 {
		cfg.Assistant.RequestTimeout = 30000
	}
	if cfg.Assistant.PollInterval == 0 {
		cfg.Assistant.PollInterval = defaultPollInterval
	}
	if cfg.Assistant.FieldMaxPolls == 0 {
		cfg.Assistant.FieldMaxPolls = defaultFieldMaxPolls
	}
	if cfg.Assistant.FormMaxPolls == 0 {
		cfg.Assistant.FormMaxPolls = defaultFormMaxPolls
	}
	if cfg.Assistant.MaxResponseBytes == 0 {
		cfg.Assistant.MaxResponseBytes = 4 << 20
	}

	if cfg.Filling.Concurrency == 0 {
		cfg.Filling.Concurrency = defaultConcurrency
	}
	if cfg.Filling.BatchDelay == 0 {
		cfg.Filling.BatchDelay = defaultBatchDelay
	}
	if cfg.Filling.MaxFields == 0 {
		cfg.Filling.MaxFields = 200
	}

	if cfg.Credentials.Provider == "" {
		cfg.Credentials.Provider = "static"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = defaultWorkerTimeout
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

// validateConfig checks structural settings only. Missing assistant credentials are not a
// startup error: they surface as CONFIG_ERROR on the first fill request, and the Redis
// provider can supply them later.
func validateConfig(cfg *Config) error {
	if !strings.HasPrefix(cfg.Assistant.BaseURL, "http://") && !strings.HasPrefix(cfg.Assistant.BaseURL, "https://") {
		return fmt.Errorf("assistant.base_url must be an http(s) URL, got %q", cfg.Assistant.BaseURL)
	}
	if cfg.Filling.Concurrency < 1 {
		return fmt.Errorf("filling.concurrency must be at least 1")
	}
	if cfg.Assistant.FieldMaxPolls < 1 || cfg.Assistant.FormMaxPolls < 1 {
		return fmt.Errorf("assistant poll bounds must be at least 1")
	}

	switch cfg.Credentials.Provider {
	case "static":
	case "redis":
		if cfg.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis credentials provider")
		}
	default:
		return fmt.Errorf("credentials.provider must be static or redis, got %q", cfg.Credentials.Provider)
	}

	if cfg.Progress.RedisEnabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when progress.redis_enabled is set")
	}
	if cfg.Camunda.Enabled && cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required when camunda is enabled")
	}
	if !cfg.Camunda.Enabled && !cfg.Server.Enabled {
		return fmt.Errorf("at least one of server.enabled or camunda.enabled must be set")
	}
	return nil
}
