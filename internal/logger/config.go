package logger

import (
	"fmt"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// LogSource distinguishes internal diagnostics from operator-facing progress messages
type LogSource string

const (
	LogSourceInternal  LogSource = "lrowait_internal"  // Internal system logs
	LogSourceOperation LogSource = "lrowait_operation" // Progress of awaited operations
)

// Component identifies which part of the system generated the log
type Component string

const (
	ComponentPoller    Component = "poller"
	ComponentSubmitter Component = "submitter"
	ComponentWorkflow  Component = "workflow"
	ComponentStore     Component = "store"
	ComponentAPI       Component = "api"
	ComponentCLI       Component = "cli"
)

// Config holds the complete logging configuration for all tiers
type Config struct {
	// Global settings
	Level  LogLevel  `json:"level"`
	Format LogFormat `json:"format"`

	// Tier 1: Console
	Console ConsoleConfig `json:"console"`

	// Tier 2: File (optional)
	File FileConfig `json:"file"`
}

// ConsoleConfig configures console/terminal logging (Tier 1)
type ConsoleConfig struct {
	Enabled bool `json:"enabled"`
	Color   bool `json:"color"`  // Enable colored output (text mode only)
	Stderr  bool `json:"stderr"` // Write to stderr instead of stdout
}

// FileConfig configures file-based logging (Tier 2)
type FileConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`         // Log file path
	MaxSizeMB  int    `json:"max_size_mb"`  // Max size before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of old log files
	MaxAgeDays int    `json:"max_age_days"` // Max age in days
	Compress   bool   `json:"compress"`     // Compress rotated files

	// Performance settings
	BufferSize    int           `json:"buffer_size"`    // Channel buffer size (default: 1000)
	BatchSize     int           `json:"batch_size"`     // Batch write size (default: 50)
	BatchInterval time.Duration `json:"batch_interval"` // Batch flush interval (default: 200ms)
}

// DefaultConfig returns a default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatText,
		Console: ConsoleConfig{
			Enabled: true,
			Color:   true,
			Stderr:  true,
		},
		File: FileConfig{
			Enabled:       false,
			Path:          "lrowait.log",
			MaxSizeMB:     50,
			MaxBackups:    5,
			MaxAgeDays:    14,
			Compress:      true,
			BufferSize:    1000,
			BatchSize:     50,
			BatchInterval: 200 * time.Millisecond,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	switch c.Format {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	if c.File.Enabled {
		if c.File.Path == "" {
			return fmt.Errorf("file logging enabled but path is empty")
		}
		if c.File.MaxSizeMB <= 0 {
			return fmt.Errorf("file max size must be > 0")
		}
		if c.File.BatchSize <= 0 {
			return fmt.Errorf("file batch size must be > 0")
		}
		if c.File.BatchInterval <= 0 {
			return fmt.Errorf("file batch interval must be > 0")
		}
	}

	return nil
}
