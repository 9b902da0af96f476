package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "TBCV_"

// Load loads configuration from the YAML file at configPath (skipped when the
// file does not exist), then overrides with TBCV_-prefixed environment
// variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (TBCV_SERVER_PORT, TBCV_DATABASE_PATH, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting the first underscore into a section separator:
//
//	TBCV_SERVER_PORT             -> server.port
//	TBCV_SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
//	TBCV_WORKFLOW_CHECKPOINT_EVERY -> workflow.checkpoint_every
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(key, "_", 2)
		if len(parts) == 2 {
			return parts[0] + "." + parts[1]
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
