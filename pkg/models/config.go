package models

// RunnerConfig holds the per-runner executable and timeout settings.
type RunnerConfig struct {
	Executable string `yaml:"executable"`
	Timeout    string `yaml:"timeout"`
}

// QueueConfig holds all task-queue settings loaded from config.yaml.
type QueueConfig struct {
	// QueueDir is the directory holding task records, the worker lock,
	// and execution logs. Supports ~ expansion.
	QueueDir string `yaml:"queue_dir"`

	MaxParallel   int        `yaml:"max_parallel"`
	DefaultRunner RunnerKind `yaml:"runner"`

	Codex  RunnerConfig `yaml:"codex"`
	Claude RunnerConfig `yaml:"claude"`

	// Log retention: executions older than LogRetentionDays or beyond
	// MaxLogSizeMB total are pruned, oldest first.
	LogRetentionDays int  `yaml:"log_retention_days"`
	MaxLogSizeMB     int  `yaml:"max_log_size_mb"`
	AutoCleanup      bool `yaml:"auto_cleanup"`

	// PollIntervalSeconds bounds the daemon's scan loop.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	LogLevel string `yaml:"log_level"`
}
