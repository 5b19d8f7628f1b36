package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/gwq/internal/storage"
	"github.com/valter-silva-au/gwq/pkg/models"
)

// SlotState describes one busy worker slot in the daemon's snapshot.
type SlotState struct {
	Slot        int       `json:"slot"`
	TaskID      string    `json:"task_id"`
	ExecutionID string    `json:"execution_id"`
	StartedAt   time.Time `json:"started_at"`
}

// stateSnapshot is the daemon's published view of its slots. It is
// advisory: the daemon rewrites it on every scan and stale copies are
// ignored when the lock owner is dead.
type stateSnapshot struct {
	PID       int         `json:"pid"`
	UpdatedAt time.Time   `json:"updated_at"`
	Slots     []SlotState `json:"slots"`
}

func statePath(queueDir string) string {
	return filepath.Join(queueDir, "worker.state.json")
}

func publishState(queueDir string, slots []SlotState) error {
	snap := stateSnapshot{PID: os.Getpid(), UpdatedAt: time.Now().UTC(), Slots: slots}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding worker state: %w", err)
	}
	tmp := statePath(queueDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing worker state: %w", err)
	}
	if err := os.Rename(tmp, statePath(queueDir)); err != nil {
		return fmt.Errorf("renaming worker state: %w", err)
	}
	return nil
}

func clearState(queueDir string) {
	_ = os.Remove(statePath(queueDir))
}

// Status is the point-in-time report the status command prints.
type Status struct {
	Running       bool                      `json:"running"`
	PID           int                       `json:"pid,omitempty"`
	StartedAt     *time.Time                `json:"started_at,omitempty"`
	Parallel      int                       `json:"parallel,omitempty"`
	StopRequested bool                      `json:"stop_requested"`
	Counts        map[models.TaskStatus]int `json:"counts"`
	Slots         []SlotState               `json:"slots,omitempty"`
}

// Inspect gathers the daemon and queue status for a queue directory.
// It works whether or not a daemon is running.
func Inspect(queueDir string, store storage.TaskStore) (*Status, error) {
	status := &Status{Counts: make(map[models.TaskStatus]int)}

	alive, lock := LockHeld(queueDir)
	if alive {
		status.Running = true
		status.PID = lock.PID
		status.StartedAt = &lock.StartedAt
		status.Parallel = lock.Parallel
		status.StopRequested = loadStopRequest(queueDir) != nil

		if data, err := os.ReadFile(statePath(queueDir)); err == nil {
			var snap stateSnapshot
			if json.Unmarshal(data, &snap) == nil && snap.PID == lock.PID {
				status.Slots = snap.Slots
			}
		}
	}

	tasks, err := store.List(storage.Filter{}, storage.SortByPriority)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		status.Counts[task.Status]++
	}
	return status, nil
}
