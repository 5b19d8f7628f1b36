// Package runner abstracts the external coding-assistant command-line
// tools that execute tasks. Each runner variant knows how to build its
// process invocation; the returned handle streams output into the
// execution log and exposes wait and kill operations to the worker pool.
package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/valter-silva-au/gwq/internal/core"
	"github.com/valter-silva-au/gwq/internal/execlog"
	"github.com/valter-silva-au/gwq/pkg/models"
)

// ErrSpawn indicates the runner process could not be started: the
// executable is missing or the working directory does not exist.
var ErrSpawn = errors.New("cannot spawn runner")

// Request carries everything a variant needs to launch one execution.
type Request struct {
	TaskID      string
	ExecutionID string
	Worktree    string
	WorkingDir  string
	Prompt      string
}

// Handle supervises one spawned child process.
type Handle interface {
	PID() int
	// Wait blocks until the process exits and its output pumps drain,
	// returning the exit code.
	Wait() (int, error)
	// Kill forcibly terminates the process.
	Kill() error
}

// Adapter spawns monitored child processes for one runner variant.
// The capability set is {spawn, timeout}: scheduling, retries, and
// timeout enforcement belong to the worker pool.
type Adapter interface {
	Kind() models.RunnerKind
	Timeout() time.Duration
	Spawn(req Request, sink *execlog.Writer) (Handle, error)
}

type cliAdapter struct {
	kind       models.RunnerKind
	executable string
	timeout    time.Duration
}

// NewAdapter builds the Adapter for a runner variant from its config.
func NewAdapter(kind models.RunnerKind, cfg models.RunnerConfig) (Adapter, error) {
	if !models.ValidRunner(kind) {
		return nil, fmt.Errorf("unsupported runner: %s", kind)
	}
	timeout, err := core.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("runner %s timeout: %w", kind, err)
	}
	return &cliAdapter{kind: kind, executable: cfg.Executable, timeout: timeout}, nil
}

// Adapters builds the full variant set from the queue config.
func Adapters(cfg *models.QueueConfig) (map[models.RunnerKind]Adapter, error) {
	out := make(map[models.RunnerKind]Adapter, 2)
	for kind, rc := range map[models.RunnerKind]models.RunnerConfig{
		models.RunnerCodex:  cfg.Codex,
		models.RunnerClaude: cfg.Claude,
	} {
		adapter, err := NewAdapter(kind, rc)
		if err != nil {
			return nil, err
		}
		out[kind] = adapter
	}
	return out, nil
}

func (a *cliAdapter) Kind() models.RunnerKind { return a.kind }
func (a *cliAdapter) Timeout() time.Duration  { return a.timeout }

// buildCommand assembles the variant-specific invocation. Claude takes
// the prompt as an argument and streams JSON on stdout; codex reads the
// prompt from stdin.
func (a *cliAdapter) buildCommand(req Request) (*exec.Cmd, string) {
	switch a.kind {
	case models.RunnerClaude:
		cmd := exec.Command(a.executable,
			"--dangerously-skip-permissions",
			"--output-format", "stream-json",
			"-p", req.Prompt,
		)
		return cmd, ""
	default: // codex
		cmd := exec.Command(a.executable,
			"exec",
			"--dangerously-bypass-approvals-and-sandbox",
			"--color", "never",
			"--json",
			"-C", req.WorkingDir,
			"-",
		)
		return cmd, req.Prompt + "\n"
	}
}

// buildEnv appends GWQ_* task context variables to the inherited
// environment so hooks inside the runner can identify the execution.
func buildEnv(req Request) []string {
	base := os.Environ()
	env := make([]string, len(base), len(base)+3)
	copy(env, base)
	return append(env,
		"GWQ_TASK_ID="+req.TaskID,
		"GWQ_EXECUTION_ID="+req.ExecutionID,
		"GWQ_WORKTREE="+req.Worktree,
	)
}

func (a *cliAdapter) Spawn(req Request, sink *execlog.Writer) (Handle, error) {
	info, err := os.Stat(req.WorkingDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: working directory %s does not exist", ErrSpawn, req.WorkingDir)
	}
	if _, err := exec.LookPath(a.executable); err != nil {
		return nil, fmt.Errorf("%w: executable %q not found: %v", ErrSpawn, a.executable, err)
	}

	cmd, stdin := a.buildCommand(req)
	cmd.Dir = req.WorkingDir
	cmd.Env = buildEnv(req)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrSpawn, a.executable, err)
	}

	h := &processHandle{cmd: cmd}
	h.pumps.Add(2)
	go pumpLines(stdout, "stdout", sink, &h.pumps)
	go pumpLines(stderr, "stderr", sink, &h.pumps)
	return h, nil
}

// pumpLines feeds one output stream line by line into the log sink.
func pumpLines(r io.Reader, stream string, sink *execlog.Writer, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		_ = sink.WriteLine(stream, scanner.Text())
	}
}

type processHandle struct {
	cmd   *exec.Cmd
	pumps sync.WaitGroup
}

func (h *processHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *processHandle) Wait() (int, error) {
	h.pumps.Wait()
	err := h.cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("waiting for runner: %w", err)
	}
	return 0, nil
}

func (h *processHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing runner pid %d: %w", h.cmd.Process.Pid, err)
	}
	return nil
}
