package models

import "time"

// ExitStatus is the detailed outcome of one execution attempt.
type ExitStatus string

const (
	ExitRunning   ExitStatus = "running"
	ExitSucceeded ExitStatus = "succeeded"
	ExitFailed    ExitStatus = "failed"
	ExitTimedOut  ExitStatus = "timed_out"
	ExitKilled    ExitStatus = "killed"
)

// Finished reports whether the execution has reached a terminal outcome.
func (s ExitStatus) Finished() bool {
	return s != ExitRunning
}

// Execution is one concrete attempt to run a task. Each execution owns a
// JSONL log artifact and a metadata record, both addressable by the
// execution ID independent of the task record.
//
// Invariant: EndedAt is non-nil exactly when ExitStatus != running.
type Execution struct {
	ExecutionID string     `json:"execution_id"`
	TaskID      string     `json:"task_id"`
	TaskName    string     `json:"task_name,omitempty"`
	Prompt      string     `json:"prompt,omitempty"`
	Worktree    string     `json:"worktree"`
	WorkingDir  string     `json:"working_directory"`
	ExitStatus  ExitStatus `json:"exit_status"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	LogPath     string     `json:"log_path"`
	Error       string     `json:"error,omitempty"`
}

// Duration returns the wall-clock time the execution has run for, using
// now for executions that are still running.
func (e *Execution) Duration(now time.Time) time.Duration {
	if e.EndedAt != nil {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}
