package runner

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/valter-silva-au/gwq/internal/execlog"
	"github.com/valter-silva-au/gwq/pkg/models"
)

func TestNewAdapterParsesTimeout(t *testing.T) {
	adapter, err := NewAdapter(models.RunnerCodex, models.RunnerConfig{Executable: "codex", Timeout: "45m"})
	if err != nil {
		t.Fatalf("NewAdapter failed: %v", err)
	}
	if adapter.Kind() != models.RunnerCodex {
		t.Errorf("kind = %s", adapter.Kind())
	}
	if adapter.Timeout() != 45*time.Minute {
		t.Errorf("timeout = %v", adapter.Timeout())
	}
}

func TestNewAdapterRejectsBadInput(t *testing.T) {
	if _, err := NewAdapter("vim", models.RunnerConfig{Executable: "vim", Timeout: "30m"}); err == nil {
		t.Error("unknown runner accepted")
	}
	if _, err := NewAdapter(models.RunnerClaude, models.RunnerConfig{Executable: "claude", Timeout: "soon"}); err == nil {
		t.Error("bad timeout accepted")
	}
}

func TestAdaptersBuildsBothVariants(t *testing.T) {
	cfg := &models.QueueConfig{
		Codex:  models.RunnerConfig{Executable: "codex", Timeout: "30m"},
		Claude: models.RunnerConfig{Executable: "claude", Timeout: "1h"},
	}
	adapters, err := Adapters(cfg)
	if err != nil {
		t.Fatalf("Adapters failed: %v", err)
	}
	if len(adapters) != 2 {
		t.Fatalf("got %d adapters", len(adapters))
	}
	if adapters[models.RunnerClaude].Timeout() != time.Hour {
		t.Errorf("claude timeout = %v", adapters[models.RunnerClaude].Timeout())
	}
}

func TestBuildCommandShapes(t *testing.T) {
	req := Request{
		TaskID:      "abc123",
		ExecutionID: "exec-aaaaaa",
		Worktree:    "feature/x",
		WorkingDir:  "/work/dir",
		Prompt:      "do the thing",
	}

	claude := &cliAdapter{kind: models.RunnerClaude, executable: "claude"}
	cmd, stdin := claude.buildCommand(req)
	args := strings.Join(cmd.Args, " ")
	if !strings.Contains(args, "--dangerously-skip-permissions") ||
		!strings.Contains(args, "--output-format stream-json") ||
		!strings.Contains(args, "-p do the thing") {
		t.Errorf("claude argv = %q", args)
	}
	if stdin != "" {
		t.Errorf("claude got stdin %q, prompt belongs in argv", stdin)
	}

	codex := &cliAdapter{kind: models.RunnerCodex, executable: "codex"}
	cmd, stdin = codex.buildCommand(req)
	args = strings.Join(cmd.Args, " ")
	if !strings.Contains(args, "exec") ||
		!strings.Contains(args, "--dangerously-bypass-approvals-and-sandbox") ||
		!strings.Contains(args, "--json") ||
		!strings.Contains(args, "-C /work/dir") ||
		!strings.HasSuffix(args, " -") {
		t.Errorf("codex argv = %q", args)
	}
	if stdin != "do the thing\n" {
		t.Errorf("codex stdin = %q, prompt belongs on stdin", stdin)
	}
}

func TestBuildEnvInjectsTaskContext(t *testing.T) {
	env := buildEnv(Request{TaskID: "abc123", ExecutionID: "exec-aaaaaa", Worktree: "feature/x"})
	want := map[string]bool{
		"GWQ_TASK_ID=abc123":           false,
		"GWQ_EXECUTION_ID=exec-aaaaaa": false,
		"GWQ_WORKTREE=feature/x":       false,
	}
	for _, kv := range env {
		if _, ok := want[kv]; ok {
			want[kv] = true
		}
	}
	for kv, found := range want {
		if !found {
			t.Errorf("missing %s in runner environment", kv)
		}
	}
}

func TestSpawnFailsFastOnMissingWorkdirOrExecutable(t *testing.T) {
	m := execlog.NewManager(t.TempDir())
	sink, err := m.OpenWriter("exec-aaaaaa", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	adapter := &cliAdapter{kind: models.RunnerCodex, executable: "definitely-not-a-real-binary-gwq", timeout: time.Minute}

	_, err = adapter.Spawn(Request{WorkingDir: "/does/not/exist"}, sink)
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("missing workdir err = %v, want ErrSpawn", err)
	}

	_, err = adapter.Spawn(Request{WorkingDir: t.TempDir()}, sink)
	if !errors.Is(err, ErrSpawn) {
		t.Errorf("missing executable err = %v, want ErrSpawn", err)
	}
}
