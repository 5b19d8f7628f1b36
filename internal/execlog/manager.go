// Package execlog manages per-execution artifacts: a metadata record and
// an append-only JSONL log per execution, with live tailing, pretty/raw
// rendering, and retention-based cleanup.
package execlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/gwq/pkg/models"
)

// ErrExecutionNotFound indicates no metadata record exists for the ID.
var ErrExecutionNotFound = errors.New("execution not found")

// tailPollInterval bounds how often a follow-mode tail checks for new
// lines and execution completion.
const tailPollInterval = 500 * time.Millisecond

// RenderMode selects how Render presents log lines.
type RenderMode int

const (
	// RenderPretty reinterprets structured runner output into readable
	// lines, falling back to raw passthrough per line on parse failure.
	RenderPretty RenderMode = iota
	// RenderRaw passes log lines through unchanged.
	RenderRaw
)

// CleanupPolicy controls which execution artifacts Cleanup removes.
// Running executions are never touched.
type CleanupPolicy struct {
	// MaxAge removes executions that ended more than MaxAge ago.
	// Zero disables age-based pruning.
	MaxAge time.Duration
	// MaxTotalBytes prunes oldest-first until the total artifact size is
	// at or below this cap. Zero disables size-based pruning.
	MaxTotalBytes int64
}

// CleanupResult reports what a Cleanup pass removed.
type CleanupResult struct {
	Removed []string
	Freed   int64
}

// Manager owns the execution metadata and log artifacts under a queue
// directory.
type Manager interface {
	SaveMetadata(exec *models.Execution) error
	LoadMetadata(execID string) (*models.Execution, error)
	ListMetadata() ([]models.Execution, error)
	DeleteExecution(execID string) error

	// OpenWriter returns the single log sink for an execution. Writes are
	// flushed per line so concurrent tailers observe output immediately.
	OpenWriter(execID, taskID string) (*Writer, error)
	// Tail streams log lines. With follow=false the channel closes at the
	// current end of file; with follow=true it keeps polling until the
	// execution reaches a terminal status or ctx is cancelled.
	Tail(ctx context.Context, execID string, follow bool) (<-chan string, error)
	Render(execID string, mode RenderMode) ([]string, error)
	Cleanup(policy CleanupPolicy) (*CleanupResult, error)

	LogPath(execID string) string
}

type fileManager struct {
	base string
	now  func() time.Time
}

// NewManager creates a Manager storing artifacts under queueDir/logs.
func NewManager(queueDir string) Manager {
	return &fileManager{base: queueDir, now: time.Now}
}

func (m *fileManager) logDir() string      { return filepath.Join(m.base, "logs") }
func (m *fileManager) metadataDir() string { return filepath.Join(m.logDir(), "metadata") }

func (m *fileManager) LogPath(execID string) string {
	return filepath.Join(m.logDir(), execID+".jsonl")
}

func (m *fileManager) metadataPath(execID string) string {
	return filepath.Join(m.metadataDir(), execID+".json")
}

func (m *fileManager) ensureDirs() error {
	if err := os.MkdirAll(m.metadataDir(), 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", m.metadataDir(), err)
	}
	return nil
}

func (m *fileManager) SaveMetadata(exec *models.Execution) error {
	if err := m.ensureDirs(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding execution %s: %w", exec.ExecutionID, err)
	}
	path := m.metadataPath(exec.ExecutionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s -> %s: %w", tmp, path, err)
	}
	return nil
}

func (m *fileManager) LoadMetadata(execID string) (*models.Execution, error) {
	data, err := os.ReadFile(m.metadataPath(execID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("reading execution %s: %w", execID, err)
	}
	var exec models.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("parsing execution %s: %w", execID, err)
	}
	return &exec, nil
}

func (m *fileManager) ListMetadata() ([]models.Execution, error) {
	entries, err := os.ReadDir(m.metadataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", m.metadataDir(), err)
	}

	var execs []models.Execution
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(m.metadataDir(), name))
			continue
		}
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		exec, err := m.LoadMetadata(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue // skip malformed records
		}
		execs = append(execs, *exec)
	}

	// Most recent first.
	sort.Slice(execs, func(i, j int) bool {
		if !execs[i].StartedAt.Equal(execs[j].StartedAt) {
			return execs[i].StartedAt.After(execs[j].StartedAt)
		}
		return execs[i].ExecutionID < execs[j].ExecutionID
	})
	return execs, nil
}

func (m *fileManager) DeleteExecution(execID string) error {
	_ = os.Remove(m.LogPath(execID))
	_ = os.Remove(m.metadataPath(execID))
	return nil
}

func (m *fileManager) OpenWriter(execID, taskID string) (*Writer, error) {
	if err := m.ensureDirs(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(m.LogPath(execID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening log %s: %w", m.LogPath(execID), err)
	}
	return &Writer{file: f, execID: execID, taskID: taskID, now: m.now}, nil
}

func (m *fileManager) Tail(ctx context.Context, execID string, follow bool) (<-chan string, error) {
	f, err := os.Open(m.LogPath(execID))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("opening log for %s: %w", execID, err)
		}
		if !follow {
			// No output yet; a finite tail of nothing, same as Render.
			empty := make(chan string)
			close(empty)
			return empty, nil
		}
		// The slot may not have produced output yet; start from an empty
		// file once it appears.
		f = nil
	}

	out := make(chan string)
	go func() {
		defer close(out)
		if f != nil {
			defer f.Close()
		}
		var reader *bufio.Reader
		if f != nil {
			reader = bufio.NewReader(f)
		}
		var partial strings.Builder

		for {
			if reader == nil {
				nf, err := os.Open(m.LogPath(execID))
				if err == nil {
					f = nf
					defer nf.Close()
					reader = bufio.NewReader(nf)
				}
			}

			drained := true
			for reader != nil {
				chunk, err := reader.ReadString('\n')
				if chunk != "" {
					partial.WriteString(chunk)
				}
				if err != nil {
					if err != io.EOF {
						return
					}
					break
				}
				line := strings.TrimRight(partial.String(), "\n")
				partial.Reset()
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
				drained = false
			}

			if !follow {
				return
			}
			if drained && m.executionFinished(execID) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(tailPollInterval):
			}
		}
	}()
	return out, nil
}

func (m *fileManager) executionFinished(execID string) bool {
	exec, err := m.LoadMetadata(execID)
	if err != nil {
		// Missing metadata means no live slot owns this execution.
		return true
	}
	return exec.ExitStatus.Finished()
}

func (m *fileManager) Render(execID string, mode RenderMode) ([]string, error) {
	if _, err := m.LoadMetadata(execID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(m.LogPath(execID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log for %s: %w", execID, err)
	}

	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		if mode == RenderRaw {
			out = append(out, line)
			continue
		}
		out = append(out, prettyLine(line))
	}
	return out, nil
}

func (m *fileManager) Cleanup(policy CleanupPolicy) (*CleanupResult, error) {
	execs, err := m.ListMetadata()
	if err != nil {
		return nil, err
	}

	result := &CleanupResult{}
	now := m.now().UTC()

	// Oldest last in ListMetadata order; walk backwards for oldest-first.
	var kept []models.Execution
	for i := len(execs) - 1; i >= 0; i-- {
		e := execs[i]
		if !e.ExitStatus.Finished() {
			continue
		}
		if policy.MaxAge > 0 && e.EndedAt != nil && now.Sub(*e.EndedAt) > policy.MaxAge {
			result.Freed += m.artifactSize(e.ExecutionID)
			result.Removed = append(result.Removed, e.ExecutionID)
			_ = m.DeleteExecution(e.ExecutionID)
			continue
		}
		kept = append(kept, e)
	}

	if policy.MaxTotalBytes > 0 {
		total := int64(0)
		for _, e := range execs {
			if !contains(result.Removed, e.ExecutionID) {
				total += m.artifactSize(e.ExecutionID)
			}
		}
		// kept is ordered oldest first.
		for _, e := range kept {
			if total <= policy.MaxTotalBytes {
				break
			}
			size := m.artifactSize(e.ExecutionID)
			_ = m.DeleteExecution(e.ExecutionID)
			total -= size
			result.Freed += size
			result.Removed = append(result.Removed, e.ExecutionID)
		}
	}
	return result, nil
}

func (m *fileManager) artifactSize(execID string) int64 {
	var total int64
	for _, p := range []string{m.LogPath(execID), m.metadataPath(execID)} {
		if info, err := os.Stat(p); err == nil {
			total += info.Size()
		}
	}
	return total
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
