package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/gwq/pkg/models"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewConfigManager(dir).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.QueueDir != filepath.Join(dir, "tasks") {
		t.Errorf("queue_dir = %q, want %q", cfg.QueueDir, filepath.Join(dir, "tasks"))
	}
	if cfg.MaxParallel != 3 {
		t.Errorf("max_parallel = %d, want 3", cfg.MaxParallel)
	}
	if cfg.DefaultRunner != models.RunnerCodex {
		t.Errorf("runner = %q, want codex", cfg.DefaultRunner)
	}
	if cfg.Codex.Timeout != "30m" || cfg.Claude.Timeout != "30m" {
		t.Errorf("timeouts = %q/%q, want 30m/30m", cfg.Codex.Timeout, cfg.Claude.Timeout)
	}
	if cfg.LogRetentionDays != 30 || cfg.MaxLogSizeMB != 100 || !cfg.AutoCleanup {
		t.Errorf("retention defaults wrong: %d days, %d MB, auto=%v",
			cfg.LogRetentionDays, cfg.MaxLogSizeMB, cfg.AutoCleanup)
	}
	if cfg.PollIntervalSeconds != 5 {
		t.Errorf("poll_interval_seconds = %d, want 5", cfg.PollIntervalSeconds)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := `tasks:
  queue_dir: ` + filepath.Join(dir, "queue") + `
  max_parallel: 7
  runner: claude
  claude:
    executable: /usr/local/bin/claude
    timeout: 1h
  log_retention_days: 7
  auto_cleanup: false
  poll_interval_seconds: 2
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := NewConfigManager(dir).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxParallel != 7 {
		t.Errorf("max_parallel = %d, want 7", cfg.MaxParallel)
	}
	if cfg.DefaultRunner != models.RunnerClaude {
		t.Errorf("runner = %q, want claude", cfg.DefaultRunner)
	}
	if cfg.Claude.Executable != "/usr/local/bin/claude" || cfg.Claude.Timeout != "1h" {
		t.Errorf("claude runner config = %+v", cfg.Claude)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Codex.Executable != "codex" || cfg.Codex.Timeout != "30m" {
		t.Errorf("codex defaults lost: %+v", cfg.Codex)
	}
	if cfg.LogRetentionDays != 7 || cfg.AutoCleanup {
		t.Errorf("retention = %d days, auto=%v", cfg.LogRetentionDays, cfg.AutoCleanup)
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigManager(dir)

	cfg := DefaultQueueConfig(dir)
	cfg.MaxParallel = 0
	cfg.DefaultRunner = "vim"
	cfg.Codex.Timeout = "soon"
	cfg.PollIntervalSeconds = 0

	err := cm.Validate(cfg)
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"max_parallel", "runner", "codex.timeout", "poll_interval_seconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("validation error missing %q: %v", want, err)
		}
	}
}

func TestValidateRejectsZeroTimeout(t *testing.T) {
	dir := t.TempDir()
	cm := NewConfigManager(dir)

	for _, timeout := range []string{"0s", "0"} {
		cfg := DefaultQueueConfig(dir)
		cfg.Codex.Timeout = timeout
		err := cm.Validate(cfg)
		if err == nil {
			t.Errorf("Validate accepted codex timeout %q", timeout)
			continue
		}
		if !strings.Contains(err.Error(), "codex.timeout must be positive") {
			t.Errorf("validation error for %q = %v", timeout, err)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/queue"); got != filepath.Join(home, "queue") {
		t.Errorf("ExpandPath(~/queue) = %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandPath(/abs/path) = %q", got)
	}
}

func TestRunnerFor(t *testing.T) {
	cfg := DefaultQueueConfig(t.TempDir())
	rc, err := RunnerFor(cfg, models.RunnerClaude)
	if err != nil || rc.Executable != "claude" {
		t.Errorf("RunnerFor(claude) = %+v, %v", rc, err)
	}
	if _, err := RunnerFor(cfg, "emacs"); err == nil {
		t.Error("RunnerFor accepted an unknown runner")
	}
}
