package models

import "time"

// RunnerKind selects which external coding assistant executes a task.
type RunnerKind string

const (
	RunnerCodex  RunnerKind = "codex"
	RunnerClaude RunnerKind = "claude"
)

// ValidRunner reports whether the given runner kind is supported.
func ValidRunner(r RunnerKind) bool {
	return r == RunnerCodex || r == RunnerClaude
}

// TaskStatus represents the current lifecycle state of a queued task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether a task in this status will receive no further
// work unless it is reset.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority bounds for tasks. Higher priorities are dispatched first.
const (
	MinPriority = 1
	MaxPriority = 100

	DefaultPriority = 50
)

// Task is a queued unit of work: a request for a runner to act on a git
// worktree with a prompt. Tasks persist as one JSON record per task in the
// queue directory and are mutated by the CLI, the TUI, and the worker
// daemon as independent processes.
type Task struct {
	ID         string     `json:"id"`
	Runner     RunnerKind `json:"runner"`
	Name       string     `json:"name,omitempty"`
	Repository string     `json:"repository,omitempty"`
	Worktree   string     `json:"worktree"`
	BaseBranch string     `json:"base_branch,omitempty"`
	Priority   int        `json:"priority"`
	DependsOn  []string   `json:"depends_on,omitempty"`
	Prompt     string     `json:"prompt"`

	// Verify lists shell commands the worker runs in the worktree after a
	// successful runner exit; the first failure fails the task.
	Verify []string `json:"verify,omitempty"`

	// AutoCommit commits changes a successful run left in the worktree.
	AutoCommit bool `json:"auto_commit,omitempty"`

	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	// ExecutionIDs is the append-only history of execution attempts,
	// oldest first. It survives resets.
	ExecutionIDs []string `json:"execution_ids,omitempty"`

	LastError string `json:"last_error,omitempty"`
}

// LatestExecutionID returns the most recent execution attempt, or "" if
// the task has never been dispatched.
func (t *Task) LatestExecutionID() string {
	if len(t.ExecutionIDs) == 0 {
		return ""
	}
	return t.ExecutionIDs[len(t.ExecutionIDs)-1]
}

// DisplayName returns the task name, falling back to a prompt excerpt.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	const max = 40
	if len(t.Prompt) > max {
		return t.Prompt[:max] + "..."
	}
	return t.Prompt
}
