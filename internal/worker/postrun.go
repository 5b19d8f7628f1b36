package worker

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/valter-silva-au/gwq/pkg/models"
)

// postRun applies a task's post-execution steps in the worktree after the
// runner exits successfully: verification commands first, then the
// optional auto-commit. Any failure fails the task.
func postRun(task *models.Task, workDir string) error {
	if err := runVerifyCommands(workDir, task.Verify); err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if task.AutoCommit {
		if err := autoCommit(workDir, task); err != nil {
			return fmt.Errorf("auto-commit failed: %w", err)
		}
	}
	return nil
}

// runVerifyCommands runs each command through the user's shell in the
// worktree and stops at the first failure. Blank commands are skipped.
func runVerifyCommands(workDir string, commands []string) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	for _, command := range commands {
		if strings.TrimSpace(command) == "" {
			continue
		}
		cmd := exec.Command(shell, "-lc", command)
		cmd.Dir = workDir
		if err := cmd.Run(); err != nil {
			if exit, ok := err.(*exec.ExitError); ok {
				return fmt.Errorf("command %q exited with code %d", command, exit.ExitCode())
			}
			return fmt.Errorf("running %q: %w", command, err)
		}
	}
	return nil
}

// autoCommit stages and commits whatever the run left behind in the
// worktree. A clean tree is a no-op.
func autoCommit(workDir string, task *models.Task) error {
	status, err := gitRun(workDir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	if _, err := gitRun(workDir, "add", "-A"); err != nil {
		return err
	}
	message := fmt.Sprintf("gwq task %s: %s", task.ID, task.DisplayName())
	_, err = gitRun(workDir, "commit", "-m", message)
	return err
}

func gitRun(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s failed: %s: %w",
			strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return string(output), nil
}
