package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/valter-silva-au/gwq/internal/observability"
	"github.com/valter-silva-au/gwq/internal/storage"
	"github.com/valter-silva-au/gwq/internal/worker"
	"github.com/valter-silva-au/gwq/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage queued tasks (add, list, show, cancel, reset, delete, logs, worker)",
	Long: `Task queue commands.

Enqueue prompts against git worktrees, inspect and reorder the queue,
and control the worker pool that executes them.`,
}

var (
	taskAddWorktree   string
	taskAddBase       string
	taskAddPriority   int
	taskAddName       string
	taskAddDependsOn  []string
	taskAddRepo       string
	taskAddFile       string
	taskAddVerify     []string
	taskAddAutoCommit bool
)

var taskAddCmd = &cobra.Command{
	Use:   "add <runner> [prompt...]",
	Short: "Enqueue a task for a runner",
	Long: `Enqueue a task. The runner is codex or claude; the prompt is the
remaining arguments joined together, or "-" to read it from stdin.

With --file, tasks are loaded from a versioned YAML document instead and
the prompt arguments must be omitted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runnerKind := models.RunnerKind(args[0])
		if !models.ValidRunner(runnerKind) {
			return fmt.Errorf("unknown runner %q, must be codex or claude", args[0])
		}

		if taskAddFile != "" {
			if len(args) > 1 {
				return fmt.Errorf("--file cannot be combined with a prompt")
			}
			return addFromFile(runnerKind, taskAddFile)
		}

		prompt := strings.Join(args[1:], " ")
		if prompt == "-" {
			data, err := readAllStdin()
			if err != nil {
				return fmt.Errorf("reading prompt from stdin: %w", err)
			}
			prompt = strings.TrimSpace(data)
		}

		task, err := Store.Create(storage.CreateSpec{
			Runner:     runnerKind,
			Name:       taskAddName,
			Repository: taskAddRepo,
			Worktree:   taskAddWorktree,
			BaseBranch: taskAddBase,
			Priority:   taskAddPriority,
			DependsOn:  taskAddDependsOn,
			Prompt:     prompt,
			Verify:     taskAddVerify,
			AutoCommit: taskAddAutoCommit,
		})
		if err != nil {
			return err
		}
		observability.Record(Events, observability.EventTaskEnqueued, "task enqueued",
			map[string]any{"task_id": task.ID, "runner": string(task.Runner)})

		fmt.Printf("Added task %s\n", task.ID)
		fmt.Printf("  Runner:   %s\n", task.Runner)
		fmt.Printf("  Worktree: %s\n", task.Worktree)
		fmt.Printf("  Priority: %d\n", task.Priority)
		if len(task.DependsOn) > 0 {
			fmt.Printf("  Depends:  %s\n", strings.Join(task.DependsOn, ", "))
		}
		return nil
	},
}

func readAllStdin() (string, error) {
	data, err := os.ReadFile("/dev/stdin")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// addFromFile enqueues every entry of a batch task document. Entries are
// created in document order so depends_on references between them resolve.
func addFromFile(runnerKind models.RunnerKind, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading task file: %w", err)
	}
	var doc models.TaskFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing task file %s: %w", path, err)
	}
	if doc.Version != models.TaskFileVersion {
		return fmt.Errorf("unsupported task file version %q, want %q", doc.Version, models.TaskFileVersion)
	}
	if len(doc.Tasks) == 0 {
		return fmt.Errorf("task file %s defines no tasks", path)
	}

	defaultPriority := models.DefaultPriority
	if doc.Defaults != nil && doc.Defaults.Priority != 0 {
		defaultPriority = doc.Defaults.Priority
	}
	defaultAutoCommit := doc.DefaultConfig != nil && doc.DefaultConfig.AutoCommit

	var created []string
	for i, entry := range doc.Tasks {
		priority := entry.Priority
		if priority == 0 {
			priority = defaultPriority
		}
		repo := entry.Repository
		if repo == "" {
			repo = doc.Repository
		}
		autoCommit := defaultAutoCommit
		if entry.Config != nil {
			autoCommit = entry.Config.AutoCommit
		}
		task, err := Store.Create(storage.CreateSpec{
			ID:         entry.ID,
			Runner:     runnerKind,
			Name:       entry.Name,
			Repository: repo,
			Worktree:   entry.Worktree,
			BaseBranch: entry.BaseBranch,
			Priority:   priority,
			DependsOn:  entry.DependsOn,
			Prompt:     entry.Prompt,
			Verify:     entry.Verify,
			AutoCommit: autoCommit,
		})
		if err != nil {
			return fmt.Errorf("task %d of %s: %w", i+1, path, err)
		}
		observability.Record(Events, observability.EventTaskEnqueued, "task enqueued",
			map[string]any{"task_id": task.ID, "runner": string(task.Runner)})
		created = append(created, task.ID)
	}
	fmt.Printf("Added %d tasks: %s\n", len(created), strings.Join(created, ", "))
	return nil
}

var (
	taskListFilter      string
	taskListPriorityMin int
	taskListJSON        bool
	taskListCSV         bool
	taskListWatch       bool
)

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued tasks",
	Long: `List tasks in dispatch order (priority descending, oldest first).

Filter by status with --filter (comma-separated, e.g. pending,running) and
by minimum priority with --priority-min. Output as a table by default, or
--json / --csv for machine consumption. --watch keeps the view refreshing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := parseListFilter(taskListFilter, taskListPriorityMin)
		if err != nil {
			return err
		}
		if taskListWatch {
			return watchTasks(filter)
		}
		tasks, err := Store.List(filter, storage.SortByPriority)
		if err != nil {
			return err
		}
		switch {
		case taskListJSON:
			return printJSON(tasks)
		case taskListCSV:
			return printTasksCSV(tasks)
		default:
			printTasksTable(tasks)
			return nil
		}
	},
}

func parseListFilter(statuses string, priorityMin int) (storage.Filter, error) {
	filter := storage.Filter{PriorityMin: priorityMin}
	if statuses == "" {
		return filter, nil
	}
	for _, raw := range strings.Split(statuses, ",") {
		status := models.TaskStatus(strings.TrimSpace(raw))
		switch status {
		case models.StatusPending, models.StatusRunning, models.StatusCompleted,
			models.StatusFailed, models.StatusCancelled:
			filter.Statuses = append(filter.Statuses, status)
		default:
			return filter, fmt.Errorf("unknown status %q in --filter", raw)
		}
	}
	return filter, nil
}

var taskShowJSON bool

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show one task in detail",
	Long: `Show a task's full record and its execution history. The argument may
be a full task ID or a unique prefix or substring of one.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := resolveTask(args[0])
		if err != nil {
			return err
		}
		if taskShowJSON {
			return printJSON(task)
		}
		printTaskDetail(task)
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending or running task",
	Long: `Cancel a task. Pending tasks are cancelled immediately; for running
tasks the cancellation is handed to the worker, which kills the execution.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := resolveTask(args[0])
		if err != nil {
			return err
		}
		switch task.Status {
		case models.StatusRunning:
			if err := requestRunning(task.ID, "cancel"); err != nil {
				return err
			}
			fmt.Printf("Cancellation of task %s requested; the worker will kill its execution\n", task.ID)
			return nil
		case models.StatusPending:
			updated, err := Store.Update(task.ID, func(t *models.Task) error {
				if t.Status == models.StatusRunning {
					// Dispatched between our read and the lock; let the
					// worker handle it.
					return requestRunning(t.ID, "cancel")
				}
				if t.Status.Terminal() {
					return fmt.Errorf("task %s is already %s", t.ID, t.Status)
				}
				t.Status = models.StatusCancelled
				return nil
			})
			if err != nil {
				return err
			}
			if updated.Status == models.StatusCancelled {
				observability.Record(Events, observability.EventTaskCancelled, "task cancelled",
					map[string]any{"task_id": task.ID})
				fmt.Printf("Cancelled task %s\n", task.ID)
			}
			return nil
		default:
			return fmt.Errorf("task %s is already %s", task.ID, task.Status)
		}
	},
}

var taskResetCmd = &cobra.Command{
	Use:   "reset <task-id>",
	Short: "Return a task to pending for another attempt",
	Long: `Reset a task so the worker runs it again. Completed, failed, and
cancelled tasks go straight back to pending; for running tasks the worker
kills the current execution first. Execution history is preserved.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := resolveTask(args[0])
		if err != nil {
			return err
		}
		switch task.Status {
		case models.StatusRunning:
			if err := requestRunning(task.ID, "reset"); err != nil {
				return err
			}
			fmt.Printf("Reset of task %s requested; the worker will kill its execution\n", task.ID)
			return nil
		case models.StatusPending:
			fmt.Printf("Task %s is already pending\n", task.ID)
			return nil
		default:
			_, err := Store.Update(task.ID, func(t *models.Task) error {
				if t.Status == models.StatusRunning {
					return requestRunning(t.ID, "reset")
				}
				t.Status = models.StatusPending
				t.LastError = ""
				return nil
			})
			if err != nil {
				return err
			}
			observability.Record(Events, observability.EventTaskReset, "task reset",
				map[string]any{"task_id": task.ID})
			fmt.Printf("Reset task %s to pending\n", task.ID)
			return nil
		}
	},
}

var taskDeleteForce bool

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <task-id>",
	Short: "Delete a task record",
	Long: `Delete a task from the queue. Running tasks are refused unless
--force is given; --force does not kill the execution, cancel first if the
process should stop. Execution logs are kept until retention removes them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := resolveTask(args[0])
		if err != nil {
			return err
		}
		if err := Store.Delete(task.ID, taskDeleteForce); err != nil {
			return err
		}
		fmt.Printf("Deleted task %s\n", task.ID)
		return nil
	},
}

// requestRunning hands a cancel or reset for a running task to the worker
// daemon via a request marker.
func requestRunning(taskID, kind string) error {
	requestKind := worker.RequestReset
	if kind == "cancel" {
		requestKind = worker.RequestCancel
	}
	return worker.WriteRequest(Store.Dir(), requestKind, taskID)
}

// resolveTask finds a task by exact ID, then by unique prefix, then by
// unique substring match against ID and name.
func resolveTask(pattern string) (*models.Task, error) {
	if task, err := Store.Get(pattern); err == nil {
		return task, nil
	}

	tasks, err := Store.List(storage.Filter{}, storage.SortByCreated)
	if err != nil {
		return nil, err
	}

	var matches []models.Task
	for _, task := range tasks {
		if strings.HasPrefix(task.ID, pattern) {
			matches = append(matches, task)
		}
	}
	if len(matches) == 0 {
		needle := strings.ToLower(pattern)
		for _, task := range tasks {
			if strings.Contains(strings.ToLower(task.ID), needle) ||
				strings.Contains(strings.ToLower(task.Name), needle) {
				matches = append(matches, task)
			}
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no task matches %q", pattern)
	case 1:
		return &matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		return nil, fmt.Errorf("%q is ambiguous, matches: %s", pattern, strings.Join(ids, ", "))
	}
}

func init() {
	taskAddCmd.Flags().StringVarP(&taskAddWorktree, "worktree", "w", "", "Branch or path of the worktree to run in (required)")
	taskAddCmd.Flags().StringVar(&taskAddBase, "base", "", "Base branch the worktree was cut from")
	taskAddCmd.Flags().IntVarP(&taskAddPriority, "priority", "p", models.DefaultPriority, "Priority 1-100, higher runs first")
	taskAddCmd.Flags().StringVar(&taskAddName, "name", "", "Human-readable task name")
	taskAddCmd.Flags().StringSliceVar(&taskAddDependsOn, "depends-on", nil, "Task IDs that must complete first")
	taskAddCmd.Flags().StringVar(&taskAddRepo, "repo", "", "Repository path containing the worktree")
	taskAddCmd.Flags().StringVar(&taskAddFile, "file", "", "Batch YAML task document to enqueue")
	taskAddCmd.Flags().StringArrayVar(&taskAddVerify, "verify", nil, "Shell command run in the worktree after the runner succeeds; repeatable, any failure fails the task")
	taskAddCmd.Flags().BoolVar(&taskAddAutoCommit, "auto-commit", false, "Commit worktree changes after a successful run")

	taskListCmd.Flags().StringVar(&taskListFilter, "filter", "", "Comma-separated statuses to include")
	taskListCmd.Flags().IntVar(&taskListPriorityMin, "priority-min", 0, "Only show tasks at or above this priority")
	taskListCmd.Flags().BoolVar(&taskListJSON, "json", false, "Output JSON")
	taskListCmd.Flags().BoolVar(&taskListCSV, "csv", false, "Output CSV")
	taskListCmd.Flags().BoolVar(&taskListWatch, "watch", false, "Refresh the list until interrupted")

	taskShowCmd.Flags().BoolVar(&taskShowJSON, "json", false, "Output JSON")

	taskDeleteCmd.Flags().BoolVar(&taskDeleteForce, "force", false, "Delete even if the task is running")

	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskCancelCmd, taskResetCmd, taskDeleteCmd)
	rootCmd.AddCommand(taskCmd)
}
