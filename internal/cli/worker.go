package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/valter-silva-au/gwq/internal/core"
	"github.com/valter-silva-au/gwq/internal/worker"
	"github.com/valter-silva-au/gwq/pkg/models"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Control the worker pool that executes queued tasks",
}

var (
	workerStartParallel int
	workerStartWait     bool
)

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker pool",
	Long: `Start the worker daemon in the foreground. It dispatches ready tasks
to runner slots up to the configured parallelism, then either drains the
queue and exits, or with --wait keeps polling for new tasks until stopped.

Only one worker may run per queue directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		daemon := worker.NewDaemon(
			Store, Execs, Adapters, Resolver, Events, Config,
			newWorkerLogger(Config.LogLevel), GenExecID,
			worker.Options{Parallel: workerStartParallel, Wait: workerStartWait},
		)
		return daemon.Run(ctx)
	},
}

// newWorkerLogger builds the daemon's console logger at the configured
// level.
func newWorkerLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(parsed).With().Timestamp().Logger()
}

var workerStatusJSON bool

var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker and queue status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := worker.Inspect(Store.Dir(), Store)
		if err != nil {
			return err
		}
		if workerStatusJSON {
			return printJSON(status)
		}
		printWorkerStatus(status)
		return nil
	},
}

func printWorkerStatus(status *worker.Status) {
	if status.Running {
		fmt.Printf("Worker:   running (pid %d, %d slots, since %s)\n",
			status.PID, status.Parallel, status.StartedAt.Local().Format(time.RFC3339))
		if status.StopRequested {
			fmt.Println("          stop requested, shutting down")
		}
	} else {
		fmt.Println("Worker:   not running")
	}

	order := []models.TaskStatus{
		models.StatusPending, models.StatusRunning, models.StatusCompleted,
		models.StatusFailed, models.StatusCancelled,
	}
	var parts []string
	for _, st := range order {
		if n := status.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if len(parts) == 0 {
		fmt.Println("Queue:    empty")
	} else {
		fmt.Printf("Queue:    %s\n", strings.Join(parts, ", "))
	}

	for _, slot := range status.Slots {
		fmt.Printf("Slot %d:   task %s execution %s (running %s)\n",
			slot.Slot, slot.TaskID, slot.ExecutionID, formatAge(time.Since(slot.StartedAt)))
	}
}

var workerStopTimeout string

var workerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running worker pool",
	Long: `Ask the running worker to shut down and wait for it to exit. Running
executions get --timeout to finish before they are force-killed; if any
were killed the command exits with a partial-failure status.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		grace, err := core.ParseDuration(workerStopTimeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}

		poll := time.Duration(Config.PollIntervalSeconds) * time.Second
		report, err := worker.Stop(Store.Dir(), grace, poll)
		if err != nil {
			return err
		}

		fmt.Printf("Worker stopped: %d executions finished", len(report.Graceful))
		if len(report.ForceKilled) > 0 {
			fmt.Printf(", %d force-killed (%s)", len(report.ForceKilled), strings.Join(report.ForceKilled, ", "))
		}
		fmt.Println()
		if len(report.ForceKilled) > 0 {
			return fmt.Errorf("%w: %d executions killed", ErrPartialFailure, len(report.ForceKilled))
		}
		return nil
	},
}

func init() {
	workerStartCmd.Flags().IntVar(&workerStartParallel, "parallel", 0, "Number of slots (default from config)")
	workerStartCmd.Flags().BoolVar(&workerStartWait, "wait", false, "Keep running when the queue is empty")

	workerStatusCmd.Flags().BoolVar(&workerStatusJSON, "json", false, "Output JSON")

	workerStopCmd.Flags().StringVar(&workerStopTimeout, "timeout", "30s", "Grace period before running executions are killed")

	workerCmd.AddCommand(workerStartCmd, workerStatusCmd, workerStopCmd)
	taskCmd.AddCommand(workerCmd)
}
