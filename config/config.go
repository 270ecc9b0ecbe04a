// Package config loads engine configuration from a YAML file with
// environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all recordflow configuration.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Memory  MemoryConfig  `yaml:"memory"`
	Risk    RiskConfig    `yaml:"risk"`
	Logging LoggingConfig `yaml:"logging"`

	// MaxIterations caps model turns per dispatched task.
	MaxIterations int `yaml:"max_iterations"`
}

// ModelConfig selects and configures the model provider.
type ModelConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// MemoryConfig configures the two memory tiers.
type MemoryConfig struct {
	// DatabasePath is the SQLite file for the durable tier. Empty keeps
	// everything in process memory.
	DatabasePath string `yaml:"database_path"`

	// WorkingMemoryTTL is the sliding expiry of working memory, e.g. "1h".
	WorkingMemoryTTL string `yaml:"working_memory_ttl"`

	// SummaryInterval is how many messages accumulate between summaries.
	SummaryInterval int `yaml:"summary_interval"`
}

// RiskConfig tunes the risk assessor.
type RiskConfig struct {
	// SensitiveKinds lists record kinds always treated as high risk.
	SensitiveKinds []string `yaml:"sensitive_kinds"`

	// RecencyThreshold marks deletes of recently updated records, e.g. "24h".
	RecencyThreshold string `yaml:"recency_threshold"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Provider: "anthropic",
		},
		Memory: MemoryConfig{
			WorkingMemoryTTL: "1h",
			SummaryInterval:  10,
		},
		Risk: RiskConfig{
			SensitiveKinds:   []string{"medication", "prescription"},
			RecencyThreshold: "24h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MaxIterations: 10,
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides layers RECORDFLOW_* and provider API key environment
// variables over the file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RECORDFLOW_MODEL_PROVIDER"); v != "" {
		c.Model.Provider = v
	}
	if v := os.Getenv("RECORDFLOW_MODEL"); v != "" {
		c.Model.Model = v
	}
	if v := os.Getenv("RECORDFLOW_DB_PATH"); v != "" {
		c.Memory.DatabasePath = v
	}
	if v := os.Getenv("RECORDFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	switch c.Model.Provider {
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.Model.APIKey = key
		}
	default:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			c.Model.APIKey = key
		}
	}
}

// WorkingMemoryTTL parses the configured TTL, defaulting to one hour.
func (c *Config) WorkingMemoryTTL() time.Duration {
	d, err := time.ParseDuration(c.Memory.WorkingMemoryTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// RecencyThreshold parses the configured recency window, defaulting to 24h.
func (c *Config) RecencyThreshold() time.Duration {
	d, err := time.ParseDuration(c.Risk.RecencyThreshold)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
