package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the on-disk configuration for coderd.
//
// NOTE: This file can contain provider API keys. Always keep it chmod 0600.
type Config struct {
	// DataDir holds the sqlite database and runtime state.
	// If empty, defaults to the directory containing the config file.
	DataDir string `json:"data_dir,omitempty"`

	// DBPath overrides the sqlite database location. If empty,
	// <DataDir>/coderd.db is used.
	DBPath string `json:"db_path,omitempty"`

	// APIKeys maps a provider name ("openai", "anthropic", "google") to a key.
	// Keys stored in the database take precedence over these.
	APIKeys map[string]string `json:"api_keys,omitempty"`

	// LLMTimeoutSeconds is the per-request timeout for provider calls.
	// If zero, a default of 300 seconds is used.
	LLMTimeoutSeconds int `json:"llm_timeout_seconds,omitempty"`

	// AgentMaxIterations bounds the model rounds of a single turn.
	// If zero, the workflow default applies.
	AgentMaxIterations int `json:"agent_max_iterations,omitempty"`

	// LogFormat is "json" or "text".
	LogFormat string `json:"log_format,omitempty"`
	// LogLevel is "debug|info|warn|error".
	LogLevel string `json:"log_level,omitempty"`
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch strings.TrimSpace(c.LogFormat) {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch strings.TrimSpace(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if c.LLMTimeoutSeconds < 0 {
		return errors.New("llm_timeout_seconds must be >= 0")
	}
	if c.AgentMaxIterations < 0 {
		return errors.New("agent_max_iterations must be >= 0")
	}
	return nil
}

// ResolvedDataDir returns the effective data directory for a config loaded
// from path.
func (c *Config) ResolvedDataDir(path string) string {
	if c != nil && strings.TrimSpace(c.DataDir) != "" {
		return c.DataDir
	}
	return filepath.Dir(path)
}

// ResolvedDBPath returns the effective sqlite database path for a config
// loaded from path.
func (c *Config) ResolvedDBPath(path string) string {
	if c != nil && strings.TrimSpace(c.DBPath) != "" {
		return c.DBPath
	}
	return filepath.Join(c.ResolvedDataDir(path), "coderd.db")
}

// APIKey returns the configured key for a provider, or "".
func (c *Config) APIKey(provider string) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c.APIKeys[strings.ToLower(strings.TrimSpace(provider))])
}

// DefaultConfigPath returns the default config path:
//
//	~/.coderd/config.json
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil || strings.TrimSpace(home) == "" {
		return "coderd.config.json"
	}
	return filepath.Join(home, ".coderd", "config.json")
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// LoadOrInit loads the config at path, creating an empty valid config file
// when none exists yet.
func LoadOrInit(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	cfg = &Config{}
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	// Write atomically.
	tmp := path + ".tmp"
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
