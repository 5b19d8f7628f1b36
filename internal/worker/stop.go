package worker

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNotRunning indicates no live daemon owns the queue directory.
var ErrNotRunning = errors.New("worker is not running")

// stopPollInterval bounds how often Stop checks for daemon exit.
const stopPollInterval = 250 * time.Millisecond

// Stop asks the daemon owning queueDir to shut down and waits for it to
// exit. Running executions get the grace period to finish before they are
// force-killed. pollInterval is the daemon's scan interval, which bounds
// how long it may take to notice the request. The returned report says
// which executions finished and which were killed.
func Stop(queueDir string, grace, pollInterval time.Duration) (*StopReport, error) {
	alive, lock := LockHeld(queueDir)
	if !alive {
		return nil, ErrNotRunning
	}

	// Discard any report from a previous shutdown before requesting a new
	// one, so the report we read afterwards is ours.
	_ = os.Remove(stopReportPath(queueDir))

	if err := RequestStop(queueDir, grace); err != nil {
		return nil, err
	}

	// The daemon removes its lock marker on exit.
	wait := stopDeadline(grace, pollInterval)
	deadline := time.Now().Add(wait)
	for {
		if exited, _ := daemonExited(queueDir, lock.PID); exited {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("worker pid %d did not stop within %s", lock.PID, wait)
		}
		time.Sleep(stopPollInterval)
	}

	report, err := LoadStopReport(queueDir)
	if err != nil {
		return nil, err
	}
	if report == nil {
		// The daemon died without writing a report (e.g. killed outright).
		return &StopReport{StoppedAt: time.Now().UTC()}, nil
	}
	return report, nil
}

// stopDeadline is how long Stop waits for the daemon to exit: one scan
// interval for it to notice the request, the grace period for running
// executions, and kill-handling slack.
func stopDeadline(grace, pollInterval time.Duration) time.Duration {
	if pollInterval < 0 {
		pollInterval = 0
	}
	return grace + pollInterval + 3*killWait
}

func daemonExited(queueDir string, pid int) (bool, error) {
	lock, err := LoadLock(queueDir)
	if err != nil {
		return false, err
	}
	if lock == nil || lock.PID != pid {
		return true, nil
	}
	return !ProcessAlive(pid), nil
}
