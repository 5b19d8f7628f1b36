// Package internal provides the App struct that wires all components of
// the gwq task queue together and initializes the CLI layer.
package internal

import (
	"path/filepath"

	"github.com/valter-silva-au/gwq/internal/cli"
	"github.com/valter-silva-au/gwq/internal/core"
	"github.com/valter-silva-au/gwq/internal/execlog"
	"github.com/valter-silva-au/gwq/internal/integration"
	"github.com/valter-silva-au/gwq/internal/observability"
	"github.com/valter-silva-au/gwq/internal/runner"
	"github.com/valter-silva-au/gwq/internal/storage"
	"github.com/valter-silva-au/gwq/pkg/models"
)

// App holds all service dependencies for the gwq system.
type App struct {
	BasePath string

	ConfigMgr core.ConfigManager
	Config    *models.QueueConfig

	Store    storage.TaskStore
	Execs    execlog.Manager
	Adapters map[models.RunnerKind]runner.Adapter
	Resolver integration.WorktreeResolver
	EventLog observability.EventLog
}

// NewApp creates and wires all components. basePath is the gwq data
// directory (typically ~/.config/gwq or $GWQ_HOME).
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	app.ConfigMgr = core.NewConfigManager(basePath)
	cfg, err := app.ConfigMgr.Load()
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	app.Store = storage.NewTaskStore(cfg.QueueDir, core.NewTaskID)
	app.Execs = execlog.NewManager(cfg.QueueDir)
	app.Resolver = integration.NewWorktreeResolver()

	app.Adapters, err = runner.Adapters(cfg)
	if err != nil {
		return nil, err
	}

	eventLogPath := filepath.Join(cfg.QueueDir, "events.jsonl")
	app.EventLog, err = observability.NewJSONLEventLog(eventLogPath)
	if err != nil {
		// Non-fatal: run without the event journal.
		app.EventLog = nil
	}

	// --- Wire CLI package-level variables ---
	cli.Config = app.Config
	cli.Store = app.Store
	cli.Execs = app.Execs
	cli.Adapters = app.Adapters
	cli.Resolver = app.Resolver
	cli.Events = app.EventLog
	cli.GenExecID = core.NewExecutionID

	return app, nil
}

// Close releases resources held by the App, such as the event log file
// handle. It is safe to call on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}
