// Package config provides configuration loading for tbcv.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables prefixed with TBCV_. See Load for the mapping.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete tbcv configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Content  ContentConfig  `koanf:"content"`
	Workflow WorkflowConfig `koanf:"workflow"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite configuration.
type DatabaseConfig struct {
	Path string `koanf:"path"`
}

// ContentConfig holds the content-directory settings.
type ContentConfig struct {
	// Dir is the root directory of validated markdown content.
	Dir string `koanf:"dir"`
	// Watch enables the fsnotify watcher over Dir.
	Watch bool `koanf:"watch"`
}

// WorkflowConfig holds workflow-manager settings.
type WorkflowConfig struct {
	// CheckpointEvery creates a checkpoint after every N units of work.
	// Zero disables automatic checkpoints.
	CheckpointEvery int `koanf:"checkpoint_every"`
	// CheckpointRetention is the number of checkpoints kept per workflow by
	// the cleanup operation.
	CheckpointRetention int `koanf:"checkpoint_retention"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9340,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "tbcv.db",
		},
		Content: ContentConfig{
			Dir:   ".",
			Watch: false,
		},
		Workflow: WorkflowConfig{
			CheckpointEvery:     1,
			CheckpointRetention: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Workflow.CheckpointEvery < 0 {
		return errors.New("checkpoint_every cannot be negative")
	}
	if c.Workflow.CheckpointRetention < 0 {
		return errors.New("checkpoint_retention cannot be negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}
	return nil
}
