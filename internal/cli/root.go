package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

var rootCmd = &cobra.Command{
	Use:   "gwq",
	Short: "gwq - git worktree task queue",
	Long: `gwq queues coding-assistant tasks against git worktrees and runs them
through a background worker pool.

Enqueue a task with "gwq task add", start the pool with
"gwq task worker start", and follow output with "gwq task logs".`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gwq %s\ncommit: %s\nbuilt:  %s\n", appVersion, appCommit, appDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command, reporting any failure in the format the
// invoked command's output flags ask for.
func Execute() error {
	cmd, err := rootCmd.ExecuteC()
	if err != nil {
		fmt.Fprintln(os.Stderr, renderError(cmd, err))
	}
	return err
}

// renderError formats a command failure: a JSON error object when the
// command was invoked with --json, plain text otherwise.
func renderError(cmd *cobra.Command, err error) string {
	if cmd != nil {
		if f := cmd.Flags().Lookup("json"); f != nil && f.Value.String() == "true" {
			if data, jerr := json.Marshal(map[string]string{"error": err.Error()}); jerr == nil {
				return string(data)
			}
		}
	}
	return fmt.Sprintf("Error: %v", err)
}
