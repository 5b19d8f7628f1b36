// Package worker implements the task execution daemon: a singleton,
// lock-guarded process that scans the queue, dispatches ready tasks to
// runner slots up to the configured parallelism, enforces per-runner
// timeouts, and honors cancel, reset, and stop requests from other
// processes via marker files in the queue directory.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/valter-silva-au/gwq/internal/execlog"
	"github.com/valter-silva-au/gwq/internal/integration"
	"github.com/valter-silva-au/gwq/internal/observability"
	"github.com/valter-silva-au/gwq/internal/runner"
	"github.com/valter-silva-au/gwq/internal/storage"
	"github.com/valter-silva-au/gwq/pkg/models"
)

const (
	// defaultStopGrace is how long running executions get to finish when
	// the daemon is interrupted by a signal rather than an explicit stop.
	defaultStopGrace = 30 * time.Second

	// killWait bounds how long a kill is given to take effect before the
	// slot is abandoned.
	killWait = 10 * time.Second

	// cleanupSchedule is the cron spec for periodic log retention passes.
	cleanupSchedule = "@every 1h"
)

// Options tune one daemon run.
type Options struct {
	// Parallel overrides the configured slot count when > 0.
	Parallel int
	// Wait keeps the daemon alive when the queue is empty. When false the
	// daemon drains the queue and exits.
	Wait bool
}

// Daemon owns the worker pool for one queue directory.
type Daemon struct {
	store     storage.TaskStore
	execs     execlog.Manager
	adapters  map[models.RunnerKind]runner.Adapter
	resolver  integration.WorktreeResolver
	events    observability.EventLog
	cfg       *models.QueueConfig
	log       zerolog.Logger
	queueDir  string
	parallel  int
	wait      bool
	now       func() time.Time
	genExecID func() string
}

// NewDaemon assembles a Daemon from its collaborators.
func NewDaemon(
	store storage.TaskStore,
	execs execlog.Manager,
	adapters map[models.RunnerKind]runner.Adapter,
	resolver integration.WorktreeResolver,
	events observability.EventLog,
	cfg *models.QueueConfig,
	log zerolog.Logger,
	genExecID func() string,
	opts Options,
) *Daemon {
	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = cfg.MaxParallel
	}
	return &Daemon{
		store:     store,
		execs:     execs,
		adapters:  adapters,
		resolver:  resolver,
		events:    events,
		cfg:       cfg,
		log:       log,
		queueDir:  store.Dir(),
		parallel:  parallel,
		wait:      opts.Wait,
		now:       time.Now,
		genExecID: genExecID,
	}
}

// killOrder tells a slot to terminate its process and which status the
// task should land in: cancelled (user cancel), pending (user reset), or
// failed (forced shutdown).
type killOrder struct {
	taskStatus models.TaskStatus
	reason     string
}

type slot struct {
	taskID    string
	execID    string
	startedAt time.Time
	kill      chan killOrder // buffered; at most one order per slot
}

type slotResult struct {
	taskID     string
	execID     string
	exitStatus models.ExitStatus
	forced     bool
}

// Run executes the daemon until the queue drains (wait=false), a stop is
// requested, or ctx is cancelled by a signal.
func (d *Daemon) Run(ctx context.Context) error {
	release, err := acquireLock(d.queueDir, d.parallel)
	if err != nil {
		return err
	}
	defer release()
	defer clearState(d.queueDir)

	// A stop marker or report left over from a previous run is void now.
	clearStopRequest(d.queueDir)

	d.log.Info().Int("parallel", d.parallel).Bool("wait", d.wait).
		Str("queue_dir", d.queueDir).Msg("worker started")
	observability.Record(d.events, observability.EventWorkerStarted, "worker started",
		map[string]any{"parallel": d.parallel})

	if err := d.resetStaleRunning(); err != nil {
		d.log.Warn().Err(err).Msg("resetting stale running tasks")
	}

	var scheduler *cron.Cron
	if d.cfg.AutoCleanup {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(cleanupSchedule, d.runCleanup); err != nil {
			d.log.Warn().Err(err).Msg("scheduling periodic log cleanup")
		} else {
			scheduler.Start()
			defer scheduler.Stop()
		}
		d.runCleanup()
	}

	active := make(map[string]*slot, d.parallel)
	results := make(chan slotResult, d.parallel)

	ticker := time.NewTicker(d.pollInterval())
	defer ticker.Stop()

	for {
		if req := loadStopRequest(d.queueDir); req != nil {
			grace := defaultStopGrace
			if parsed, err := time.ParseDuration(req.Grace); err == nil && parsed > 0 {
				grace = parsed
			}
			d.shutdown(active, results, grace, "stop requested")
			return nil
		}

		d.handleRequests(active)
		drainResults(results, active)
		d.dispatch(active, results)

		if err := publishState(d.queueDir, slotStates(active)); err != nil {
			d.log.Warn().Err(err).Msg("publishing worker state")
		}

		if !d.wait && len(active) == 0 {
			idle, err := d.queueIdle()
			if err != nil {
				d.log.Warn().Err(err).Msg("checking queue state")
			} else if idle {
				d.shutdown(active, results, defaultStopGrace, "queue drained")
				return nil
			}
		}

		select {
		case <-ctx.Done():
			d.shutdown(active, results, defaultStopGrace, "signal received")
			return nil
		case res := <-results:
			delete(active, res.taskID)
		case <-ticker.C:
		}
	}
}

func (d *Daemon) pollInterval() time.Duration {
	secs := d.cfg.PollIntervalSeconds
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// queueIdle reports whether no task can make further progress: nothing is
// pending, or everything pending is blocked on an unfinished dependency
// that itself can never run. With no active slots, pending tasks that are
// not ready and not doomed are deadlocked; draining mode exits anyway and
// leaves them pending for a later run.
func (d *Daemon) queueIdle() (bool, error) {
	tasks, err := d.store.List(storage.Filter{Statuses: []models.TaskStatus{models.StatusPending}}, storage.SortByPriority)
	if err != nil {
		return false, err
	}
	if len(tasks) == 0 {
		return true, nil
	}
	all, err := d.store.List(storage.Filter{}, storage.SortByPriority)
	if err != nil {
		return false, err
	}
	ready, doomed := Plan(all)
	return len(ready) == 0 && len(doomed) == 0, nil
}

// resetStaleRunning returns tasks stuck in running from a crashed daemon
// to pending so they are retried, and closes out their orphaned execution
// records.
func (d *Daemon) resetStaleRunning() error {
	tasks, err := d.store.List(storage.Filter{Statuses: []models.TaskStatus{models.StatusRunning}}, storage.SortByPriority)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		d.log.Warn().Str("task", task.ID).Msg("resetting stale running task")
		if execID := task.LatestExecutionID(); execID != "" {
			if exec, err := d.execs.LoadMetadata(execID); err == nil && !exec.ExitStatus.Finished() {
				ended := d.now().UTC()
				exec.ExitStatus = models.ExitKilled
				exec.EndedAt = &ended
				exec.Error = "worker exited while execution was running"
				if err := d.execs.SaveMetadata(exec); err != nil {
					d.log.Warn().Err(err).Str("execution", execID).Msg("closing orphaned execution")
				}
			}
		}
		_, err := d.store.Update(task.ID, func(t *models.Task) error {
			if t.Status != models.StatusRunning {
				return nil
			}
			t.Status = models.StatusPending
			t.LastError = ""
			return nil
		})
		if err != nil {
			d.log.Warn().Err(err).Str("task", task.ID).Msg("resetting stale task")
		}
	}
	return nil
}

// handleRequests consumes cancel and reset markers. Requests for tasks
// with an active slot kill the slot; requests for tasks the daemon does
// not own are applied to the store directly.
func (d *Daemon) handleRequests(active map[string]*slot) {
	for _, taskID := range consumeRequests(d.queueDir, RequestCancel) {
		d.applyRequest(active, taskID, killOrder{
			taskStatus: models.StatusCancelled,
			reason:     "cancelled by user",
		})
	}
	for _, taskID := range consumeRequests(d.queueDir, RequestReset) {
		d.applyRequest(active, taskID, killOrder{
			taskStatus: models.StatusPending,
			reason:     "reset by user",
		})
	}
}

func (d *Daemon) applyRequest(active map[string]*slot, taskID string, order killOrder) {
	if sl, ok := active[taskID]; ok {
		d.log.Info().Str("task", taskID).Str("to", string(order.taskStatus)).
			Msg("killing execution on request")
		select {
		case sl.kill <- order:
		default: // already being killed
		}
		return
	}
	// No live slot: the task is pending or already terminal.
	_, err := d.store.Update(taskID, func(t *models.Task) error {
		if t.Status == models.StatusRunning || t.Status.Terminal() {
			return nil
		}
		t.Status = order.taskStatus
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		d.log.Warn().Err(err).Str("task", taskID).Msg("applying request")
	}
}

func drainResults(results chan slotResult, active map[string]*slot) {
	for {
		select {
		case res := <-results:
			delete(active, res.taskID)
		default:
			return
		}
	}
}

func slotStates(active map[string]*slot) []SlotState {
	states := make([]SlotState, 0, len(active))
	i := 0
	for _, sl := range active {
		states = append(states, SlotState{
			Slot:        i,
			TaskID:      sl.taskID,
			ExecutionID: sl.execID,
			StartedAt:   sl.startedAt,
		})
		i++
	}
	return states
}

// dispatch fails doomed tasks and fills free slots with ready tasks in
// priority order.
func (d *Daemon) dispatch(active map[string]*slot, results chan slotResult) {
	tasks, err := d.store.List(storage.Filter{}, storage.SortByPriority)
	if err != nil {
		d.log.Error().Err(err).Msg("listing tasks")
		return
	}

	ready, doomed := Plan(tasks)
	for _, dd := range doomed {
		d.failTask(dd.TaskID, dd.Reason)
	}

	for _, task := range ready {
		if len(active) >= d.parallel {
			return
		}
		if _, busy := active[task.ID]; busy {
			continue
		}
		adapter, ok := d.adapters[task.Runner]
		if !ok {
			d.failTask(task.ID, fmt.Sprintf("no runner configured for %s", task.Runner))
			continue
		}
		sl := &slot{
			taskID:    task.ID,
			execID:    d.genExecID(),
			startedAt: d.now().UTC(),
			kill:      make(chan killOrder, 1),
		}
		active[task.ID] = sl
		d.log.Info().Str("task", task.ID).Str("execution", sl.execID).
			Str("runner", string(task.Runner)).Int("priority", task.Priority).
			Msg("dispatching task")
		observability.Record(d.events, observability.EventTaskDispatched, "task dispatched",
			map[string]any{"task_id": task.ID, "execution_id": sl.execID})
		go d.runSlot(task, adapter, sl, results)
	}
}

func (d *Daemon) failTask(taskID, reason string) {
	d.log.Warn().Str("task", taskID).Str("reason", reason).Msg("failing task without dispatch")
	_, err := d.store.Update(taskID, func(t *models.Task) error {
		if t.Status != models.StatusPending {
			return nil
		}
		t.Status = models.StatusFailed
		t.LastError = reason
		return nil
	})
	if err != nil {
		d.log.Warn().Err(err).Str("task", taskID).Msg("failing task")
	}
}

// runSlot drives one execution from dispatch to terminal status. It owns
// the task record for its duration and reports back on results.
func (d *Daemon) runSlot(task models.Task, adapter runner.Adapter, sl *slot, results chan<- slotResult) {
	started := d.now().UTC()
	exec := &models.Execution{
		ExecutionID: sl.execID,
		TaskID:      task.ID,
		TaskName:    task.Name,
		Prompt:      task.Prompt,
		Worktree:    task.Worktree,
		ExitStatus:  models.ExitRunning,
		StartedAt:   started,
		LogPath:     d.execs.LogPath(sl.execID),
	}

	_, err := d.store.Update(task.ID, func(t *models.Task) error {
		t.Status = models.StatusRunning
		t.ExecutionIDs = append(t.ExecutionIDs, sl.execID)
		t.LastError = ""
		return nil
	})
	if err != nil {
		d.log.Error().Err(err).Str("task", task.ID).Msg("marking task running")
		results <- slotResult{taskID: task.ID, execID: sl.execID, exitStatus: models.ExitFailed}
		return
	}

	workDir, err := d.resolver.Resolve(task.Repository, task.Worktree)
	if err != nil {
		d.finishSlot(sl, exec, models.ExitFailed, nil, models.StatusFailed,
			fmt.Sprintf("resolving worktree: %v", err), results, false)
		return
	}
	exec.WorkingDir = workDir
	if err := d.execs.SaveMetadata(exec); err != nil {
		d.log.Error().Err(err).Str("execution", sl.execID).Msg("saving execution metadata")
	}

	writer, err := d.execs.OpenWriter(sl.execID, task.ID)
	if err != nil {
		d.finishSlot(sl, exec, models.ExitFailed, nil, models.StatusFailed, err.Error(), results, false)
		return
	}
	defer func() { _ = writer.Close() }()

	handle, err := adapter.Spawn(runner.Request{
		TaskID:      task.ID,
		ExecutionID: sl.execID,
		Worktree:    task.Worktree,
		WorkingDir:  workDir,
		Prompt:      task.Prompt,
	}, writer)
	if err != nil {
		d.finishSlot(sl, exec, models.ExitFailed, nil, models.StatusFailed, err.Error(), results, false)
		return
	}
	d.log.Info().Str("task", task.ID).Str("execution", sl.execID).
		Int("pid", handle.PID()).Str("workdir", workDir).Msg("execution started")

	type waitOutcome struct {
		code int
		err  error
	}
	waitCh := make(chan waitOutcome, 1)
	go func() {
		code, err := handle.Wait()
		waitCh <- waitOutcome{code: code, err: err}
	}()

	timer := time.NewTimer(adapter.Timeout())
	defer timer.Stop()

	select {
	case outcome := <-waitCh:
		if outcome.err != nil {
			d.finishSlot(sl, exec, models.ExitFailed, nil, models.StatusFailed, outcome.err.Error(), results, false)
			return
		}
		code := outcome.code
		if code != 0 {
			d.finishSlot(sl, exec, models.ExitFailed, &code, models.StatusFailed,
				fmt.Sprintf("runner exited with code %d", code), results, false)
			return
		}
		if err := postRun(&task, workDir); err != nil {
			d.finishSlot(sl, exec, models.ExitFailed, &code, models.StatusFailed, err.Error(), results, false)
			return
		}
		d.finishSlot(sl, exec, models.ExitSucceeded, &code, models.StatusCompleted, "", results, false)

	case <-timer.C:
		_ = handle.Kill()
		awaitKill(waitCh)
		d.finishSlot(sl, exec, models.ExitTimedOut, nil, models.StatusFailed,
			fmt.Sprintf("execution timed out after %s", adapter.Timeout()), results, false)

	case order := <-sl.kill:
		_ = handle.Kill()
		awaitKill(waitCh)
		forced := order.taskStatus == models.StatusFailed
		d.finishSlot(sl, exec, models.ExitKilled, nil, order.taskStatus, order.reason, results, forced)
	}
}

func awaitKill[T any](waitCh <-chan T) {
	select {
	case <-waitCh:
	case <-time.After(killWait):
	}
}

// finishSlot persists the terminal execution metadata and task status and
// reports the outcome on results.
func (d *Daemon) finishSlot(
	sl *slot,
	exec *models.Execution,
	exitStatus models.ExitStatus,
	exitCode *int,
	taskStatus models.TaskStatus,
	errMsg string,
	results chan<- slotResult,
	forced bool,
) {
	ended := d.now().UTC()
	exec.ExitStatus = exitStatus
	exec.ExitCode = exitCode
	exec.EndedAt = &ended
	exec.Error = errMsg
	if err := d.execs.SaveMetadata(exec); err != nil {
		d.log.Error().Err(err).Str("execution", sl.execID).Msg("saving execution metadata")
	}

	_, err := d.store.Update(sl.taskID, func(t *models.Task) error {
		t.Status = taskStatus
		t.LastError = errMsg
		return nil
	})
	if err != nil {
		d.log.Error().Err(err).Str("task", sl.taskID).Msg("updating task status")
	}

	evt := d.log.Info()
	if exitStatus != models.ExitSucceeded {
		evt = d.log.Warn()
	}
	evt.Str("task", sl.taskID).Str("execution", sl.execID).
		Str("exit_status", string(exitStatus)).Str("task_status", string(taskStatus)).
		Dur("duration", exec.Duration(ended)).Msg("execution finished")
	observability.Record(d.events, observability.EventExecutionFinished, "execution finished",
		map[string]any{
			"task_id":      sl.taskID,
			"execution_id": sl.execID,
			"exit_status":  string(exitStatus),
		})

	results <- slotResult{taskID: sl.taskID, execID: sl.execID, exitStatus: exitStatus, forced: forced}
}

// shutdown stops dispatching, gives active executions the grace period to
// finish, force-kills the rest, and writes the stop report.
func (d *Daemon) shutdown(active map[string]*slot, results chan slotResult, grace time.Duration, cause string) {
	d.log.Info().Int("active", len(active)).Dur("grace", grace).Str("cause", cause).
		Msg("worker stopping")

	report := StopReport{StoppedAt: d.now().UTC()}
	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	for len(active) > 0 {
		select {
		case res := <-results:
			delete(active, res.taskID)
			report.Graceful = append(report.Graceful, res.execID)
		case <-deadline.C:
			// Grace expired: force-kill everything still running.
			for _, sl := range active {
				select {
				case sl.kill <- killOrder{taskStatus: models.StatusFailed, reason: "killed by worker shutdown"}:
				default:
				}
			}
			for len(active) > 0 {
				select {
				case res := <-results:
					delete(active, res.taskID)
					if res.forced {
						report.ForceKilled = append(report.ForceKilled, res.execID)
					} else {
						report.Graceful = append(report.Graceful, res.execID)
					}
				case <-time.After(killWait + killWait):
					// A slot failed to report; abandon it.
					for taskID := range active {
						d.log.Error().Str("task", taskID).Msg("slot did not report after kill")
						delete(active, taskID)
					}
				}
			}
		}
	}

	report.StoppedAt = d.now().UTC()
	if err := writeStopReport(d.queueDir, report); err != nil {
		d.log.Warn().Err(err).Msg("writing stop report")
	}
	clearStopRequest(d.queueDir)

	d.log.Info().Int("graceful", len(report.Graceful)).
		Int("force_killed", len(report.ForceKilled)).Msg("worker stopped")
	observability.Record(d.events, observability.EventWorkerStopped, "worker stopped",
		map[string]any{
			"cause":        cause,
			"graceful":     len(report.Graceful),
			"force_killed": len(report.ForceKilled),
		})
}

// runCleanup applies the configured retention policy to execution logs.
func (d *Daemon) runCleanup() {
	policy := execlog.CleanupPolicy{
		MaxAge:        time.Duration(d.cfg.LogRetentionDays) * 24 * time.Hour,
		MaxTotalBytes: int64(d.cfg.MaxLogSizeMB) << 20,
	}
	result, err := d.execs.Cleanup(policy)
	if err != nil {
		d.log.Warn().Err(err).Msg("log cleanup failed")
		return
	}
	if len(result.Removed) == 0 {
		return
	}
	d.log.Info().Int("removed", len(result.Removed)).Int64("freed_bytes", result.Freed).
		Msg("cleaned up old execution logs")
	observability.Record(d.events, observability.EventLogsCleaned, "execution logs cleaned",
		map[string]any{"removed": len(result.Removed), "freed_bytes": result.Freed})
}
