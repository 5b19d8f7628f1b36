package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Request markers let CLI processes ask a running daemon to act on tasks
// it owns. Each marker is a small file under queueDir/requests consumed
// by the daemon's scan loop; the daemon is the only writer of task state
// for running tasks, so the CLI never races it.

func requestsDir(queueDir string) string {
	return filepath.Join(queueDir, "requests")
}

func stopRequestPath(queueDir string) string {
	return filepath.Join(queueDir, "worker.stop")
}

func stopReportPath(queueDir string) string {
	return filepath.Join(queueDir, "worker.stop_report.json")
}

// RequestKind distinguishes what the CLI asked the daemon to do.
type RequestKind string

const (
	RequestCancel RequestKind = "cancel"
	RequestReset  RequestKind = "reset"
)

// WriteRequest leaves a marker asking the daemon to cancel or reset the
// given running task.
func WriteRequest(queueDir string, kind RequestKind, taskID string) error {
	dir := requestsDir(queueDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating requests directory: %w", err)
	}
	path := filepath.Join(dir, string(kind)+"-"+taskID)
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing %s request for %s: %w", kind, taskID, err)
	}
	return nil
}

// consumeRequests removes and returns all pending markers of the given
// kind, mapped to task IDs.
func consumeRequests(queueDir string, kind RequestKind) []string {
	entries, err := os.ReadDir(requestsDir(queueDir))
	if err != nil {
		return nil
	}
	prefix := string(kind) + "-"
	var taskIDs []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		_ = os.Remove(filepath.Join(requestsDir(queueDir), name))
		taskIDs = append(taskIDs, strings.TrimPrefix(name, prefix))
	}
	return taskIDs
}

// StopRequest asks the daemon to shut down. Grace is how long running
// executions get to finish before they are force-killed.
type StopRequest struct {
	RequestedAt time.Time `json:"requested_at"`
	Grace       string    `json:"grace"`
}

// RequestStop writes the shutdown marker for the daemon owning queueDir.
func RequestStop(queueDir string, grace time.Duration) error {
	req := StopRequest{RequestedAt: time.Now().UTC(), Grace: grace.String()}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding stop request: %w", err)
	}
	if err := os.WriteFile(stopRequestPath(queueDir), data, 0o600); err != nil {
		return fmt.Errorf("writing stop request: %w", err)
	}
	return nil
}

// loadStopRequest returns the pending stop request, or nil when none.
func loadStopRequest(queueDir string) *StopRequest {
	data, err := os.ReadFile(stopRequestPath(queueDir))
	if err != nil {
		return nil
	}
	var req StopRequest
	if err := json.Unmarshal(data, &req); err != nil {
		// An unreadable marker still means "stop"; use defaults.
		return &StopRequest{RequestedAt: time.Now().UTC()}
	}
	return &req
}

func clearStopRequest(queueDir string) {
	_ = os.Remove(stopRequestPath(queueDir))
}

// StopReport records how a shutdown went: which executions finished on
// their own during the grace period and which had to be force-killed.
type StopReport struct {
	StoppedAt   time.Time `json:"stopped_at"`
	Graceful    []string  `json:"graceful,omitempty"`
	ForceKilled []string  `json:"force_killed,omitempty"`
}

func writeStopReport(queueDir string, report StopReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding stop report: %w", err)
	}
	tmp := stopReportPath(queueDir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing stop report: %w", err)
	}
	if err := os.Rename(tmp, stopReportPath(queueDir)); err != nil {
		return fmt.Errorf("renaming stop report: %w", err)
	}
	return nil
}

// LoadStopReport reads the report left by the most recent shutdown, or
// nil when the daemon never wrote one.
func LoadStopReport(queueDir string) (*StopReport, error) {
	data, err := os.ReadFile(stopReportPath(queueDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading stop report: %w", err)
	}
	var report StopReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing stop report: %w", err)
	}
	return &report, nil
}
