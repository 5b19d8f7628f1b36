// Package storage implements the durable task store: one JSON record per
// task under the queue directory, written with atomic temp-file renames
// and serialized through an advisory file lock so the CLI, the TUI, and
// the worker daemon can mutate it concurrently from separate processes.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/gwq/pkg/models"
)

// Sentinel errors returned by the task store.
var (
	// ErrNotFound indicates no task record exists for the given ID.
	ErrNotFound = errors.New("task not found")
	// ErrValidation indicates a malformed task spec.
	ErrValidation = errors.New("invalid task spec")
	// ErrTaskRunning indicates a delete was refused because the task has
	// a running execution and force was not set.
	ErrTaskRunning = errors.New("task has a running execution")
)

// SortBy selects the ordering of List results.
type SortBy int

const (
	// SortByPriority orders by priority descending, breaking ties by
	// creation time (FIFO) and then ID. This is the dispatch order.
	SortByPriority SortBy = iota
	// SortByCreated orders by creation time ascending.
	SortByCreated
	// SortByActivity orders by most recent update first.
	SortByActivity
)

// Filter selects a subset of tasks in List. Zero values match everything.
type Filter struct {
	Statuses    []models.TaskStatus
	PriorityMin int
	// Contains matches case-insensitively against ID, name, worktree,
	// and prompt.
	Contains string
}

// CreateSpec carries the caller-supplied fields for a new task.
type CreateSpec struct {
	ID         string // optional; generated when empty
	Runner     models.RunnerKind
	Name       string
	Repository string
	Worktree   string
	BaseBranch string
	Priority   int
	DependsOn  []string
	Prompt     string
	Verify     []string
	AutoCommit bool
}

// WarnFunc receives non-fatal store warnings such as skipped corrupt
// records.
type WarnFunc func(format string, args ...any)

// TaskStore defines durable task record operations. All mutations are safe
// under concurrent access from multiple processes.
type TaskStore interface {
	Create(spec CreateSpec) (*models.Task, error)
	Get(id string) (*models.Task, error)
	List(filter Filter, sortBy SortBy) ([]models.Task, error)
	// Update applies fn to the current record under the store lock and
	// persists the result atomically. fn returning an error aborts the
	// update.
	Update(id string, fn func(*models.Task) error) (*models.Task, error)
	Delete(id string, force bool) error
	Dir() string
}

type fileTaskStore struct {
	dir  string
	warn WarnFunc
	now  func() time.Time
	gen  func() string
}

// NewTaskStore creates a TaskStore rooted at the given queue directory.
// Warnings are written to stderr; use SetWarnFunc to redirect them.
func NewTaskStore(dir string, genID func() string) TaskStore {
	return &fileTaskStore{
		dir: dir,
		warn: func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
		},
		now: time.Now,
		gen: genID,
	}
}

// SetWarnFunc redirects store warnings, e.g. into the daemon's logger.
func SetWarnFunc(s TaskStore, warn WarnFunc) {
	if fs, ok := s.(*fileTaskStore); ok && warn != nil {
		fs.warn = warn
	}
}

func (s *fileTaskStore) Dir() string {
	return s.dir
}

func (s *fileTaskStore) lockPath() string {
	return filepath.Join(s.dir, ".store.lock")
}

func (s *fileTaskStore) taskPath(id string) string {
	return filepath.Join(s.dir, "task-"+id+".json")
}

func (s *fileTaskStore) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("creating queue directory %s: %w", s.dir, err)
	}
	return nil
}

// validateTaskID rejects IDs that could escape the queue directory.
func validateTaskID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: task ID is required", ErrValidation)
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: task ID %q must not contain path separators", ErrValidation, id)
	}
	return nil
}

func validateSpec(spec CreateSpec) error {
	var errs []string
	if !models.ValidRunner(spec.Runner) {
		errs = append(errs, fmt.Sprintf("runner %q is invalid, must be one of: codex, claude", spec.Runner))
	}
	if strings.TrimSpace(spec.Worktree) == "" {
		errs = append(errs, "worktree must be specified")
	}
	if spec.Priority < models.MinPriority || spec.Priority > models.MaxPriority {
		errs = append(errs, fmt.Sprintf("priority must be between %d and %d, got %d",
			models.MinPriority, models.MaxPriority, spec.Priority))
	}
	if strings.TrimSpace(spec.Prompt) == "" && strings.TrimSpace(spec.Name) == "" {
		errs = append(errs, "a prompt or a name is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(errs, "; "))
	}
	return nil
}

func (s *fileTaskStore) Create(spec CreateSpec) (*models.Task, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	id := spec.ID
	if id == "" {
		id = s.gen()
	}
	if err := validateTaskID(id); err != nil {
		return nil, err
	}

	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	if _, err := os.Stat(s.taskPath(id)); err == nil {
		return nil, fmt.Errorf("%w: task %s already exists", ErrValidation, id)
	}

	now := s.now().UTC()
	task := &models.Task{
		ID:         id,
		Runner:     spec.Runner,
		Name:       spec.Name,
		Repository: spec.Repository,
		Worktree:   spec.Worktree,
		BaseBranch: spec.BaseBranch,
		Priority:   spec.Priority,
		DependsOn:  spec.DependsOn,
		Prompt:     spec.Prompt,
		Verify:     spec.Verify,
		AutoCommit: spec.AutoCommit,
		Status:     models.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.write(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *fileTaskStore) Get(id string) (*models.Task, error) {
	if err := validateTaskID(id); err != nil {
		return nil, err
	}
	return s.read(s.taskPath(id))
}

func (s *fileTaskStore) read(path string) (*models.Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &task, nil
}

// write persists a task record with write-temp-then-rename so concurrent
// readers never observe a partial record.
func (s *fileTaskStore) write(task *models.Task) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	path := s.taskPath(task.ID)
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding task %s: %w", task.ID, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s -> %s: %w", tmp, path, err)
	}
	return nil
}

func (s *fileTaskStore) List(filter Filter, sortBy SortBy) ([]models.Task, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading queue directory %s: %w", s.dir, err)
	}

	var tasks []models.Task
	for _, entry := range entries {
		name := entry.Name()
		// An interrupted write leaves a stray temp artifact behind;
		// ignore and remove it.
		if strings.HasSuffix(name, ".tmp") {
			_ = os.Remove(filepath.Join(s.dir, name))
			continue
		}
		if !strings.HasPrefix(name, "task-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		task, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			s.warn("skipping corrupt task record %s: %v", name, err)
			continue
		}
		if matchesFilter(task, filter) {
			tasks = append(tasks, *task)
		}
	}

	sortTasks(tasks, sortBy)
	return tasks, nil
}

func matchesFilter(task *models.Task, filter Filter) bool {
	if len(filter.Statuses) > 0 {
		found := false
		for _, st := range filter.Statuses {
			if task.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.PriorityMin > 0 && task.Priority < filter.PriorityMin {
		return false
	}
	if filter.Contains != "" {
		needle := strings.ToLower(filter.Contains)
		hay := strings.ToLower(task.ID + "\n" + task.Name + "\n" + task.Worktree + "\n" + task.Prompt)
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}

func sortTasks(tasks []models.Task, sortBy SortBy) {
	switch sortBy {
	case SortByCreated:
		sort.Slice(tasks, func(i, j int) bool {
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})
	case SortByActivity:
		sort.Slice(tasks, func(i, j int) bool {
			if !tasks[i].UpdatedAt.Equal(tasks[j].UpdatedAt) {
				return tasks[i].UpdatedAt.After(tasks[j].UpdatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})
	default: // SortByPriority
		sort.Slice(tasks, func(i, j int) bool {
			if tasks[i].Priority != tasks[j].Priority {
				return tasks[i].Priority > tasks[j].Priority
			}
			if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
				return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
			}
			return tasks[i].ID < tasks[j].ID
		})
	}
}

func (s *fileTaskStore) Update(id string, fn func(*models.Task) error) (*models.Task, error) {
	if err := validateTaskID(id); err != nil {
		return nil, err
	}
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return nil, err
	}
	defer func() { _ = unlock() }()

	task, err := s.read(s.taskPath(id))
	if err != nil {
		return nil, err
	}
	if err := fn(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = s.now().UTC()
	if err := s.write(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *fileTaskStore) Delete(id string, force bool) error {
	if err := validateTaskID(id); err != nil {
		return err
	}
	unlock, err := lockFile(s.lockPath())
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	task, err := s.read(s.taskPath(id))
	if err != nil {
		return err
	}
	if task.Status == models.StatusRunning && !force {
		return fmt.Errorf("%w: %s (use --force)", ErrTaskRunning, id)
	}
	if err := os.Remove(s.taskPath(id)); err != nil {
		return fmt.Errorf("deleting task %s: %w", id, err)
	}
	return nil
}
