package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/valter-silva-au/gwq/pkg/models"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTasksTable(tasks []models.Task) {
	if len(tasks) == 0 {
		fmt.Println("No tasks in the queue.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRI\tRUNNER\tWORKTREE\tAGE\tNAME")
	for _, task := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			task.ID,
			task.Status,
			task.Priority,
			task.Runner,
			task.Worktree,
			formatAge(time.Since(task.CreatedAt)),
			task.DisplayName(),
		)
	}
	_ = w.Flush()
}

func printTasksCSV(tasks []models.Task) error {
	w := csv.NewWriter(os.Stdout)
	header := []string{"id", "status", "priority", "runner", "worktree", "created_at", "name", "depends_on", "last_error"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, task := range tasks {
		record := []string{
			task.ID,
			string(task.Status),
			strconv.Itoa(task.Priority),
			string(task.Runner),
			task.Worktree,
			task.CreatedAt.Format(time.RFC3339),
			task.Name,
			strings.Join(task.DependsOn, " "),
			task.LastError,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func printTaskDetail(task *models.Task) {
	fmt.Printf("Task %s\n", task.ID)
	fmt.Printf("  Status:    %s\n", task.Status)
	if task.Name != "" {
		fmt.Printf("  Name:      %s\n", task.Name)
	}
	fmt.Printf("  Runner:    %s\n", task.Runner)
	fmt.Printf("  Worktree:  %s\n", task.Worktree)
	if task.Repository != "" {
		fmt.Printf("  Repo:      %s\n", task.Repository)
	}
	if task.BaseBranch != "" {
		fmt.Printf("  Base:      %s\n", task.BaseBranch)
	}
	fmt.Printf("  Priority:  %d\n", task.Priority)
	if len(task.DependsOn) > 0 {
		fmt.Printf("  Depends:   %s\n", strings.Join(task.DependsOn, ", "))
	}
	if len(task.Verify) > 0 {
		fmt.Printf("  Verify:    %s\n", strings.Join(task.Verify, " && "))
	}
	if task.AutoCommit {
		fmt.Printf("  Commit:    auto\n")
	}
	fmt.Printf("  Created:   %s\n", task.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("  Updated:   %s\n", task.UpdatedAt.Local().Format(time.RFC3339))
	if task.LastError != "" {
		fmt.Printf("  Error:     %s\n", task.LastError)
	}
	fmt.Printf("  Prompt:    %s\n", task.Prompt)

	if len(task.ExecutionIDs) == 0 {
		return
	}
	fmt.Println("  Executions:")
	for _, execID := range task.ExecutionIDs {
		exec, err := Execs.LoadMetadata(execID)
		if err != nil {
			fmt.Printf("    %s  (no metadata)\n", execID)
			continue
		}
		fmt.Printf("    %s  %-10s  %s  %s\n",
			exec.ExecutionID,
			exec.ExitStatus,
			exec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatAge(exec.Duration(time.Now())),
		)
	}
}

func printExecutionsTable(execs []models.Execution) {
	if len(execs) == 0 {
		fmt.Println("No executions recorded.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tTASK\tSTATUS\tSTARTED\tDURATION\tNAME")
	for _, exec := range execs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			exec.ExecutionID,
			exec.TaskID,
			exec.ExitStatus,
			exec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			formatAge(exec.Duration(time.Now())),
			exec.TaskName,
		)
	}
	_ = w.Flush()
}

// formatAge renders a duration in the largest useful unit, e.g. "3d",
// "2h", "45m", "30s".
func formatAge(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
