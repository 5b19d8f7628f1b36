// Package core contains the non-IO business logic shared across the gwq
// CLI and worker daemon: configuration loading, ID generation, and
// duration parsing.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/gwq/pkg/models"
)

// ConfigManager defines the interface for loading and validating the
// queue configuration from config.yaml.
type ConfigManager interface {
	Load() (*models.QueueConfig, error)
	Validate(cfg *models.QueueConfig) error
}

// viperConfigManager implements ConfigManager using Viper for reading the
// YAML configuration file from the base directory.
type viperConfigManager struct {
	basePath string
}

// NewConfigManager creates a ConfigManager that reads config.yaml relative
// to basePath.
func NewConfigManager(basePath string) ConfigManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultQueueConfig returns a QueueConfig populated with sensible defaults.
func DefaultQueueConfig(basePath string) *models.QueueConfig {
	return &models.QueueConfig{
		QueueDir:            filepath.Join(basePath, "tasks"),
		MaxParallel:         3,
		DefaultRunner:       models.RunnerCodex,
		Codex:               models.RunnerConfig{Executable: "codex", Timeout: "30m"},
		Claude:              models.RunnerConfig{Executable: "claude", Timeout: "30m"},
		LogRetentionDays:    30,
		MaxLogSizeMB:        100,
		AutoCleanup:         true,
		PollIntervalSeconds: 5,
		LogLevel:            "info",
	}
}

// Load reads config.yaml from the base path. If the file does not exist,
// defaults are returned.
func (cm *viperConfigManager) Load() (*models.QueueConfig, error) {
	cfg := DefaultQueueConfig(cm.basePath)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)

	// Set Viper defaults so missing keys fall back gracefully.
	v.SetDefault("tasks.queue_dir", cfg.QueueDir)
	v.SetDefault("tasks.max_parallel", cfg.MaxParallel)
	v.SetDefault("tasks.runner", string(cfg.DefaultRunner))
	v.SetDefault("tasks.codex.executable", cfg.Codex.Executable)
	v.SetDefault("tasks.codex.timeout", cfg.Codex.Timeout)
	v.SetDefault("tasks.claude.executable", cfg.Claude.Executable)
	v.SetDefault("tasks.claude.timeout", cfg.Claude.Timeout)
	v.SetDefault("tasks.log_retention_days", cfg.LogRetentionDays)
	v.SetDefault("tasks.max_log_size_mb", cfg.MaxLogSizeMB)
	v.SetDefault("tasks.auto_cleanup", cfg.AutoCleanup)
	v.SetDefault("tasks.poll_interval_seconds", cfg.PollIntervalSeconds)
	v.SetDefault("tasks.log_level", cfg.LogLevel)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.yaml: %w", err)
		}
		// No config file found — use defaults.
	}

	cfg.QueueDir = ExpandPath(v.GetString("tasks.queue_dir"))
	cfg.MaxParallel = v.GetInt("tasks.max_parallel")
	cfg.DefaultRunner = models.RunnerKind(v.GetString("tasks.runner"))
	cfg.Codex.Executable = v.GetString("tasks.codex.executable")
	cfg.Codex.Timeout = v.GetString("tasks.codex.timeout")
	cfg.Claude.Executable = v.GetString("tasks.claude.executable")
	cfg.Claude.Timeout = v.GetString("tasks.claude.timeout")
	cfg.LogRetentionDays = v.GetInt("tasks.log_retention_days")
	cfg.MaxLogSizeMB = v.GetInt("tasks.max_log_size_mb")
	cfg.AutoCleanup = v.GetBool("tasks.auto_cleanup")
	cfg.PollIntervalSeconds = v.GetInt("tasks.poll_interval_seconds")
	cfg.LogLevel = v.GetString("tasks.log_level")

	if err := cm.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values and returns a
// message listing every problem found.
func (cm *viperConfigManager) Validate(cfg *models.QueueConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string

	if cfg.QueueDir == "" {
		errs = append(errs, "tasks.queue_dir must not be empty")
	}
	if cfg.MaxParallel < 1 {
		errs = append(errs, fmt.Sprintf("tasks.max_parallel must be >= 1, got %d", cfg.MaxParallel))
	}
	if !models.ValidRunner(cfg.DefaultRunner) {
		errs = append(errs, fmt.Sprintf("tasks.runner %q is invalid, must be one of: codex, claude", cfg.DefaultRunner))
	}
	for name, rc := range map[string]models.RunnerConfig{"codex": cfg.Codex, "claude": cfg.Claude} {
		if rc.Executable == "" {
			errs = append(errs, fmt.Sprintf("tasks.%s.executable must not be empty", name))
		}
		if d, err := ParseDuration(rc.Timeout); err != nil {
			errs = append(errs, fmt.Sprintf("tasks.%s.timeout %q is invalid: %v", name, rc.Timeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Sprintf("tasks.%s.timeout must be positive, got %q", name, rc.Timeout))
		}
	}
	if cfg.LogRetentionDays < 0 {
		errs = append(errs, fmt.Sprintf("tasks.log_retention_days must be non-negative, got %d", cfg.LogRetentionDays))
	}
	if cfg.MaxLogSizeMB < 0 {
		errs = append(errs, fmt.Sprintf("tasks.max_log_size_mb must be non-negative, got %d", cfg.MaxLogSizeMB))
	}
	if cfg.PollIntervalSeconds < 1 {
		errs = append(errs, fmt.Sprintf("tasks.poll_interval_seconds must be >= 1, got %d", cfg.PollIntervalSeconds))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RunnerFor returns the RunnerConfig for the given runner kind.
func RunnerFor(cfg *models.QueueConfig, kind models.RunnerKind) (models.RunnerConfig, error) {
	switch kind {
	case models.RunnerCodex:
		return cfg.Codex, nil
	case models.RunnerClaude:
		return cfg.Claude, nil
	default:
		return models.RunnerConfig{}, fmt.Errorf("unsupported runner: %s", kind)
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// ResolveBasePath determines the gwq data directory: GWQ_HOME if set,
// otherwise ~/.config/gwq.
func ResolveBasePath() string {
	if home := os.Getenv("GWQ_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "gwq")
}
