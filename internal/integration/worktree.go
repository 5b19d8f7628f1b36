// Package integration holds the queue's interfaces to external systems:
// git worktree resolution. Worktree management itself (create, remove,
// discover) is owned by the surrounding tool; the queue only resolves a
// branch reference to an existing checkout path.
package integration

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Worktree is one checkout reported by git.
type Worktree struct {
	Path   string
	Branch string
	IsMain bool
}

// WorktreeResolver resolves a branch reference to a worktree path.
type WorktreeResolver interface {
	// Resolve returns the filesystem path of the worktree checked out at
	// the given branch. repoPath may be empty to use the current
	// directory's repository.
	Resolve(repoPath, branch string) (string, error)
	ListWorktrees(repoPath string) ([]*Worktree, error)
}

type gitWorktreeResolver struct{}

// NewWorktreeResolver creates a WorktreeResolver backed by the git CLI.
func NewWorktreeResolver() WorktreeResolver {
	return &gitWorktreeResolver{}
}

// ListWorktrees parses the porcelain output of `git worktree list`.
func (r *gitWorktreeResolver) ListWorktrees(repoPath string) ([]*Worktree, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	if repoPath != "" {
		cmd.Dir = repoPath
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("git worktree list failed: %s: %w", strings.TrimSpace(string(output)), err)
	}
	return parseWorktreeListOutput(string(output)), nil
}

// parseWorktreeListOutput parses blocks of the form:
//
//	worktree /path/to/worktree
//	HEAD <sha>
//	branch refs/heads/branch-name
//
// separated by blank lines. The first block is the main checkout.
func parseWorktreeListOutput(output string) []*Worktree {
	var worktrees []*Worktree

	blocks := strings.Split(strings.TrimSpace(output), "\n\n")
	for i, block := range blocks {
		if block == "" {
			continue
		}
		wt := &Worktree{IsMain: i == 0}
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "worktree "):
				wt.Path = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "branch refs/heads/"):
				wt.Branch = strings.TrimPrefix(line, "branch refs/heads/")
			}
		}
		worktrees = append(worktrees, wt)
	}
	return worktrees
}

func (r *gitWorktreeResolver) Resolve(repoPath, branch string) (string, error) {
	if branch == "" {
		return "", fmt.Errorf("worktree branch must not be empty")
	}

	// An absolute path that exists is already resolved.
	if filepath.IsAbs(branch) {
		if info, err := os.Stat(branch); err == nil && info.IsDir() {
			return branch, nil
		}
	}

	worktrees, err := r.ListWorktrees(repoPath)
	if err != nil {
		return "", err
	}
	for _, wt := range worktrees {
		if wt.Branch == branch {
			if info, err := os.Stat(wt.Path); err != nil || !info.IsDir() {
				return "", fmt.Errorf("worktree for branch %q reported at %s but missing on disk", branch, wt.Path)
			}
			return wt.Path, nil
		}
	}
	return "", fmt.Errorf("no worktree found for branch %q", branch)
}
