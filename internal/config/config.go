// Package config loads and validates application configuration for Converse.
// Configuration lives at ~/.converse/config.yaml and individual values can be
// overridden by environment variables (CONVERSE_LLM_API_KEY, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the Converse orchestrator.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Tools   ToolsConfig   `mapstructure:"tools" yaml:"tools"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the model backend.
type LLMConfig struct {
	// Endpoint is the API base URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// APIKey is the authentication key. Usually supplied via CONVERSE_LLM_API_KEY.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the default chat model.
	Model string `mapstructure:"model" yaml:"model"`
	// PlannerModel is the (usually smaller) model used for turn classification.
	PlannerModel string `mapstructure:"planner_model" yaml:"planner_model"`
	// Timeout bounds a single API call, including the full stream.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MaxOutputTokens limits response length.
	MaxOutputTokens int `mapstructure:"max_output_tokens" yaml:"max_output_tokens"`
}

// ToolsConfig contains configuration for side-channel tools.
type ToolsConfig struct {
	// ChemistryEndpoint is the PubChem-compatible molecule data API base URL.
	ChemistryEndpoint string `mapstructure:"chemistry_endpoint" yaml:"chemistry_endpoint"`
	// URLFetchTimeout bounds a single URL read.
	URLFetchTimeout time.Duration `mapstructure:"url_fetch_timeout" yaml:"url_fetch_timeout"`
	// MaxURLContentBytes caps how much cleaned page text enters the prompt.
	MaxURLContentBytes int `mapstructure:"max_url_content_bytes" yaml:"max_url_content_bytes"`
	// CacheTTL is how long tool responses are cached.
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// StoreConfig contains configuration for local persistence.
type StoreConfig struct {
	// DBPath is the path to the SQLite database holding snippets and summaries.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`
	// File is an optional path for persistent logs.
	File string `mapstructure:"file" yaml:"file,omitempty"`
	// Colored enables colored console output.
	Colored bool `mapstructure:"colored" yaml:"colored"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Endpoint:        "https://generativelanguage.googleapis.com/v1beta",
			Model:           "gemini-2.5-flash",
			PlannerModel:    "gemini-2.5-flash-lite",
			Timeout:         5 * time.Minute,
			MaxOutputTokens: 8192,
		},
		Tools: ToolsConfig{
			ChemistryEndpoint:  "https://pubchem.ncbi.nlm.nih.gov/rest/pug",
			URLFetchTimeout:    30 * time.Second,
			MaxURLContentBytes: 64 * 1024,
			CacheTTL:           5 * time.Minute,
		},
		Store: StoreConfig{
			DBPath: "~/.converse/converse.db",
		},
		Logging: LoggingConfig{
			Level:   "info",
			File:    "~/.converse/logs/converse.log",
			Colored: true,
		},
	}
}

// Load reads configuration from the default location (~/.converse/config.yaml)
// and merges with environment variables. If no config file exists, one is
// created with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".converse", "config.yaml"))
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. A missing file is created with default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Example: CONVERSE_LLM_API_KEY overrides llm.api_key
	v.SetEnvPrefix("CONVERSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.DBPath = expandPath(cfg.Store.DBPath)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// Validate checks the configuration for common errors.
func (c *Config) Validate() error {
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	if c.Tools.MaxURLContentBytes <= 0 {
		return fmt.Errorf("tools.max_url_content_bytes must be positive")
	}

	return nil
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
