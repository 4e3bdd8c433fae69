package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/muaviaUsmani/lrowait/internal/logger"
	"github.com/muaviaUsmani/lrowait/internal/poller"
)

// Config holds all configuration for the lrowait commands
type Config struct {
	// RedisURL is the connection URL for Redis
	RedisURL string `validate:"required_if=StoreEnabled true"`
	// StoreEnabled turns on outcome persistence and the handle registry
	StoreEnabled bool
	// OutcomeTTLSuccess is the TTL for successful outcomes
	OutcomeTTLSuccess time.Duration `validate:"gt=0"`
	// OutcomeTTLFailure is the TTL for unsuccessful outcomes
	OutcomeTTLFailure time.Duration `validate:"gt=0"`
	// HandleTTL is how long a submitted operation's handle is remembered for resume
	HandleTTL time.Duration `validate:"gt=0"`
	// Poll is the default poll policy for sessions that don't set their own
	Poll poller.Policy
	// Concurrency bounds parallel sessions within a workflow group
	Concurrency int `validate:"gte=1"`
	// APIPort is the port the outcome API listens on
	APIPort string `validate:"required,numeric"`
	// BearerToken authenticates requests to the control plane
	BearerToken string
	// HTTPTimeout bounds a single HTTP request to the control plane
	HTTPTimeout time.Duration `validate:"gt=0"`
	// Logging configuration
	Logging *logger.Config `validate:"required"`
}

var validate = validator.New()

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	defaults := poller.DefaultPolicy()

	cfg := &Config{
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379"),
		StoreEnabled:      getEnvAsBool("STORE_ENABLED", false),
		OutcomeTTLSuccess: getEnvAsDuration("OUTCOME_TTL_SUCCESS", 1*time.Hour),
		OutcomeTTLFailure: getEnvAsDuration("OUTCOME_TTL_FAILURE", 24*time.Hour),
		HandleTTL:         getEnvAsDuration("HANDLE_TTL", 24*time.Hour),
		Poll: poller.Policy{
			Interval:             getEnvAsDuration("POLL_INTERVAL", defaults.Interval),
			MaxWait:              getEnvAsDuration("POLL_MAX_WAIT", defaults.MaxWait),
			BackoffMultiplier:    getEnvAsFloat("POLL_BACKOFF_MULTIPLIER", defaults.BackoffMultiplier),
			MaxInterval:          getEnvAsDuration("POLL_MAX_INTERVAL", defaults.MaxInterval),
			QueryTimeout:         getEnvAsDuration("POLL_QUERY_TIMEOUT", defaults.QueryTimeout),
			MaxConsecutiveErrors: getEnvAsInt("POLL_MAX_CONSECUTIVE_ERRORS", defaults.MaxConsecutiveErrors),
		},
		Concurrency: getEnvAsInt("LROWAIT_CONCURRENCY", 4),
		APIPort:     getEnv("API_PORT", "8080"),
		BearerToken: getEnv("HTTP_BEARER_TOKEN", ""),
		HTTPTimeout: getEnvAsDuration("HTTP_TIMEOUT", 30*time.Second),
		Logging:     loadLoggingConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints, the poll policy, and the logging config
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Poll.Validate(); err != nil {
		return fmt.Errorf("invalid poll policy: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(strings.ToLower(level))
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(strings.ToLower(format))
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", cfg.Console.Color)
	cfg.Console.Stderr = getEnvAsBool("LOG_STDERR", cfg.Console.Stderr)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", cfg.File.Path)
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", cfg.File.MaxSizeMB)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", cfg.File.MaxBackups)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", cfg.File.MaxAgeDays)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", cfg.File.Compress)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", cfg.File.BufferSize)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", cfg.File.BatchSize)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", cfg.File.BatchInterval)

	return cfg
}
