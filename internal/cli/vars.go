// Package cli implements the gwq command tree. Service dependencies are
// injected as package-level variables wired by internal.NewApp before
// Execute runs.
package cli

import (
	"errors"

	"github.com/valter-silva-au/gwq/internal/execlog"
	"github.com/valter-silva-au/gwq/internal/integration"
	"github.com/valter-silva-au/gwq/internal/observability"
	"github.com/valter-silva-au/gwq/internal/runner"
	"github.com/valter-silva-au/gwq/internal/storage"
	"github.com/valter-silva-au/gwq/internal/worker"
	"github.com/valter-silva-au/gwq/pkg/models"
)

// Dependencies injected by internal.NewApp.
var (
	Config   *models.QueueConfig
	Store    storage.TaskStore
	Execs    execlog.Manager
	Adapters map[models.RunnerKind]runner.Adapter
	Resolver integration.WorktreeResolver
	Events   observability.EventLog

	// GenExecID mints execution IDs for the worker daemon.
	GenExecID func() string
)

// ErrPartialFailure marks an operation that completed but force-killed
// running executions along the way, so the process can exit with a
// distinct code.
var ErrPartialFailure = errors.New("stopped with force-killed executions")

// ExitCode maps an error from Execute to the process exit code:
// 0 success, 2 worker lock conflict, 3 partial failure, 1 anything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, worker.ErrAlreadyRunning):
		return 2
	case errors.Is(err, ErrPartialFailure):
		return 3
	default:
		return 1
	}
}
