// Package config holds the single process-wide configuration for neuroforge.
// A Config is built once at startup from an optional YAML file plus
// environment overrides, then passed by reference everywhere. It is
// immutable after Load returns.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized by Load. No other env vars affect behavior.
const (
	EnvLLMBaseURL = "NEUROFORGE_LLM_BASE_URL"
	EnvLLMModel   = "NEUROFORGE_LLM_MODEL"
	EnvLLMAPIKey  = "NEUROFORGE_LLM_API_KEY"
	EnvDataDir    = "NEUROFORGE_DATA_DIR"
	EnvDBPath     = "NEUROFORGE_DB_PATH"
	EnvKVPath     = "NEUROFORGE_KV_PATH"
	EnvToolsDir   = "NEUROFORGE_TOOLS_DIR"
	EnvPromptsDir = "NEUROFORGE_PROMPTS_DIR"
	EnvLogLevel   = "NEUROFORGE_LOG_LEVEL"
	EnvLogFormat  = "NEUROFORGE_LOG_FORMAT"
)

// LLMConfig configures the chat-completions client.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// AutonomousConfig configures the background improvement loop.
type AutonomousConfig struct {
	Enabled              bool          `yaml:"enabled"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	MaintenanceInterval  time.Duration `yaml:"maintenance_interval"`
	ImprovementThreshold float64       `yaml:"improvement_threshold"`
	MinExecutions        int           `yaml:"min_executions"`
	AutoApproveManual    bool          `yaml:"auto_approve_manual"`
}

// MonitorConfig configures post-deployment regression monitoring.
type MonitorConfig struct {
	MonitoringWindowHours int     `yaml:"monitoring_window_hours"`
	BaselineWindowDays    int     `yaml:"baseline_window_days"`
	RegressionThreshold   float64 `yaml:"regression_threshold"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug"`
}

// Config is the single source of configuration. Immutable after Load.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Autonomous AutonomousConfig `yaml:"autonomous"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Logging    LoggingConfig    `yaml:"logging"`

	// DataDir is the root for all local state (logs, databases, tools).
	DataDir string `yaml:"data_dir"`
	// DBPath is the execution store SQLite database.
	DBPath string `yaml:"db_path"`
	// KVPath is the key-value store SQLite database.
	KVPath string `yaml:"kv_path"`
	// ToolsDir holds forged tool sources and definitions.
	ToolsDir string `yaml:"tools_dir"`
	// BackupDir holds previous tool versions for rollback.
	BackupDir string `yaml:"backup_dir"`
	// PromptsDir optionally overrides built-in prompt templates.
	PromptsDir string `yaml:"prompts_dir"`
	// ForgeEnabled allows dynamic tool synthesis at runtime.
	ForgeEnabled bool `yaml:"forge_enabled"`
}

// ConfigError indicates malformed configuration at startup. Fatal.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns the built-in defaults rooted at dataDir.
func Default(dataDir string) *Config {
	if dataDir == "" {
		dataDir = ".neuroforge"
	}
	return &Config{
		LLM: LLMConfig{
			BaseURL:     "http://localhost:8080/v1",
			Model:       "local",
			Timeout:     120 * time.Second,
			Temperature: 0.7,
			MaxTokens:   2048,
		},
		Autonomous: AutonomousConfig{
			Enabled:              true,
			CheckInterval:        5 * time.Minute,
			MaintenanceInterval:  24 * time.Hour,
			ImprovementThreshold: 0.7,
			MinExecutions:        10,
		},
		Monitor: MonitorConfig{
			MonitoringWindowHours: 24,
			BaselineWindowDays:    7,
			RegressionThreshold:   0.15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "executions.db"),
		KVPath:       filepath.Join(dataDir, "kv.db"),
		ToolsDir:     filepath.Join(dataDir, "tools"),
		BackupDir:    filepath.Join(dataDir, "tools_backup"),
		ForgeEnabled: true,
	}
}

// Load builds the process config: defaults, then the optional YAML file at
// path (ignored when empty or missing), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default(os.Getenv(EnvDataDir))

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &ConfigError{Field: "file", Reason: err.Error()}
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &ConfigError{Field: "file", Reason: fmt.Sprintf("parse %s: %v", path, err)}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLLMBaseURL); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv(EnvLLMModel); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv(EnvLLMAPIKey); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvKVPath); v != "" {
		cfg.KVPath = v
	}
	if v := os.Getenv(EnvToolsDir); v != "" {
		cfg.ToolsDir = v
	}
	if v := os.Getenv(EnvPromptsDir); v != "" {
		cfg.PromptsDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvLogFormat); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the config for fatal problems.
func (c *Config) Validate() error {
	if c.LLM.BaseURL == "" {
		return &ConfigError{Field: "llm.base_url", Reason: "must not be empty"}
	}
	if c.LLM.Model == "" {
		return &ConfigError{Field: "llm.model", Reason: "must not be empty"}
	}
	if c.LLM.Timeout <= 0 {
		return &ConfigError{Field: "llm.timeout", Reason: "must be positive"}
	}
	if c.Autonomous.ImprovementThreshold <= 0 || c.Autonomous.ImprovementThreshold > 1 {
		return &ConfigError{Field: "autonomous.improvement_threshold", Reason: "must be in (0,1]"}
	}
	if c.Monitor.BaselineWindowDays <= 0 {
		return &ConfigError{Field: "monitor.baseline_window_days", Reason: "must be positive"}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return &ConfigError{Field: "logging.level", Reason: "unknown level " + strconv.Quote(c.Logging.Level)}
	}
	return nil
}

// EnsureDirs creates the data, tools and backup directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, c.ToolsDir, c.BackupDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}
