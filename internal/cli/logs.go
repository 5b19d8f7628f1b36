package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/gwq/internal/core"
	"github.com/valter-silva-au/gwq/internal/execlog"
	"github.com/valter-silva-au/gwq/internal/observability"
	"github.com/valter-silva-au/gwq/pkg/models"
)

var (
	taskLogsStatus string
	taskLogsLimit  int
	taskLogsJSON   bool
	taskLogsRaw    bool
	taskLogsFollow bool
)

var taskLogsCmd = &cobra.Command{
	Use:   "logs [execution-id]",
	Short: "List executions or show one execution's log",
	Long: `Without arguments, list recent executions newest first. With an
execution ID (or a task ID, meaning its latest execution), print that
execution's log.

Structured runner output is rendered readable by default; --raw prints
the JSONL lines unchanged. --follow streams the log until the execution
finishes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return listExecutions()
		}
		return showExecution(args[0])
	},
}

func listExecutions() error {
	execs, err := Execs.ListMetadata()
	if err != nil {
		return err
	}
	if taskLogsStatus != "" {
		want := models.ExitStatus(taskLogsStatus)
		filtered := execs[:0]
		for _, exec := range execs {
			if exec.ExitStatus == want {
				filtered = append(filtered, exec)
			}
		}
		execs = filtered
	}
	if taskLogsLimit > 0 && len(execs) > taskLogsLimit {
		execs = execs[:taskLogsLimit]
	}
	if taskLogsJSON {
		return printJSON(execs)
	}
	printExecutionsTable(execs)
	return nil
}

func showExecution(pattern string) error {
	exec, err := resolveExecution(pattern)
	if err != nil {
		return err
	}
	if taskLogsJSON && !taskLogsFollow {
		lines, err := Execs.Render(exec.ExecutionID, execlog.RenderRaw)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"execution": exec, "lines": lines})
	}

	if taskLogsFollow {
		return followExecution(exec.ExecutionID)
	}

	mode := execlog.RenderPretty
	if taskLogsRaw {
		mode = execlog.RenderRaw
	}
	lines, err := Execs.Render(exec.ExecutionID, mode)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}

func followExecution(execID string) error {
	ctx, stop := signal.NotifyContext(rootCmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines, err := Execs.Tail(ctx, execID, true)
	if err != nil {
		return err
	}
	for line := range lines {
		if taskLogsRaw {
			fmt.Println(line)
		} else {
			fmt.Println(execlog.Pretty(line))
		}
	}
	return nil
}

// resolveExecution finds an execution by exact ID, by ID prefix, or by
// interpreting the pattern as a task whose latest execution is wanted.
func resolveExecution(pattern string) (*models.Execution, error) {
	if exec, err := Execs.LoadMetadata(pattern); err == nil {
		return exec, nil
	}

	execs, err := Execs.ListMetadata()
	if err != nil {
		return nil, err
	}
	var matches []models.Execution
	for _, exec := range execs {
		if strings.HasPrefix(exec.ExecutionID, pattern) {
			matches = append(matches, exec)
		}
	}
	if len(matches) == 1 {
		return &matches[0], nil
	}
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ExecutionID
		}
		return nil, fmt.Errorf("%q is ambiguous, matches: %s", pattern, strings.Join(ids, ", "))
	}

	task, err := resolveTask(pattern)
	if err != nil {
		return nil, fmt.Errorf("no execution matches %q", pattern)
	}
	execID := task.LatestExecutionID()
	if execID == "" {
		return nil, fmt.Errorf("task %s has no executions", task.ID)
	}
	return Execs.LoadMetadata(execID)
}

var (
	taskLogsCleanOlderThan string
	taskLogsCleanYes       bool
)

var taskLogsCleanCmd = &cobra.Command{
	Use:   "clean --older-than <duration>",
	Short: "Remove execution logs older than a duration",
	Long: `Remove logs and metadata of executions that ended more than the given
duration ago, e.g. --older-than 7d. Running executions are never removed.
Durations accept ms, s, m, h, d, and w units.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if taskLogsCleanOlderThan == "" {
			return fmt.Errorf("--older-than is required")
		}
		maxAge, err := core.ParseDuration(taskLogsCleanOlderThan)
		if err != nil {
			return fmt.Errorf("--older-than: %w", err)
		}

		if !taskLogsCleanYes {
			fmt.Printf("Remove logs of executions that ended more than %s ago? [y/N] ", taskLogsCleanOlderThan)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.ToLower(strings.TrimSpace(answer))
			if answer != "y" && answer != "yes" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		result, err := Execs.Cleanup(execlog.CleanupPolicy{MaxAge: maxAge})
		if err != nil {
			return err
		}
		observability.Record(Events, observability.EventLogsCleaned, "execution logs cleaned",
			map[string]any{"removed": len(result.Removed), "freed_bytes": result.Freed})
		fmt.Printf("Removed %d executions, freed %s\n", len(result.Removed), formatBytes(result.Freed))
		return nil
	},
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func init() {
	taskLogsCmd.Flags().StringVar(&taskLogsStatus, "status", "", "Only list executions with this exit status")
	taskLogsCmd.Flags().IntVar(&taskLogsLimit, "limit", 20, "Maximum executions to list (0 = all)")
	taskLogsCmd.Flags().BoolVar(&taskLogsJSON, "json", false, "Output JSON")
	taskLogsCmd.Flags().BoolVar(&taskLogsRaw, "raw", false, "Print raw JSONL log lines")
	taskLogsCmd.Flags().BoolVarP(&taskLogsFollow, "follow", "f", false, "Stream the log until the execution finishes")

	taskLogsCleanCmd.Flags().StringVar(&taskLogsCleanOlderThan, "older-than", "", "Remove executions that ended more than this long ago")
	taskLogsCleanCmd.Flags().BoolVar(&taskLogsCleanYes, "yes", false, "Skip the confirmation prompt")

	taskLogsCmd.AddCommand(taskLogsCleanCmd)
	taskCmd.AddCommand(taskLogsCmd)
}
