package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/valter-silva-au/gwq/internal/storage"
)

// ErrAlreadyRunning indicates another live daemon holds the pool lock for
// this queue directory.
var ErrAlreadyRunning = errors.New("worker already running")

// Lock is the durable marker describing the daemon that owns the pool.
// The marker is advisory metadata; exclusion is enforced by a flock held
// for the daemon's lifetime, so a crashed owner releases it implicitly.
type Lock struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Parallel  int       `json:"parallel"`
}

func lockMarkerPath(queueDir string) string {
	return filepath.Join(queueDir, "worker.lock")
}

func lockFlockPath(queueDir string) string {
	return filepath.Join(queueDir, ".worker.flock")
}

// LoadLock reads the lock marker, returning nil when no marker exists.
func LoadLock(queueDir string) (*Lock, error) {
	data, err := os.ReadFile(lockMarkerPath(queueDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading worker lock: %w", err)
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parsing worker lock: %w", err)
	}
	return &lock, nil
}

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// acquireLock takes the singleton pool lock for the queue directory. It
// fails with ErrAlreadyRunning when a live daemon holds it; a stale
// marker left by a dead owner is reclaimed. The returned release function
// removes the marker and drops the flock.
func acquireLock(queueDir string, parallel int) (release func(), err error) {
	if err := os.MkdirAll(queueDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating queue directory %s: %w", queueDir, err)
	}

	unlock, ok, err := storage.TryLockFile(lockFlockPath(queueDir))
	if err != nil {
		return nil, err
	}
	if !ok {
		existing, _ := LoadLock(queueDir)
		if existing != nil {
			return nil, fmt.Errorf("%w (pid %d since %s)", ErrAlreadyRunning,
				existing.PID, existing.StartedAt.Format(time.RFC3339))
		}
		return nil, ErrAlreadyRunning
	}

	// Flock acquired: any leftover marker belongs to a dead daemon.
	if existing, _ := LoadLock(queueDir); existing != nil && ProcessAlive(existing.PID) {
		// Marker owner is alive but no longer holds the flock — it is a
		// different process reusing the pid. Treat the marker as stale.
		_ = os.Remove(lockMarkerPath(queueDir))
	}

	lock := Lock{PID: os.Getpid(), StartedAt: time.Now().UTC(), Parallel: parallel}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		_ = unlock()
		return nil, fmt.Errorf("encoding worker lock: %w", err)
	}
	if err := os.WriteFile(lockMarkerPath(queueDir), data, 0o600); err != nil {
		_ = unlock()
		return nil, fmt.Errorf("writing worker lock: %w", err)
	}

	return func() {
		_ = os.Remove(lockMarkerPath(queueDir))
		_ = unlock()
	}, nil
}

// LockHeld reports whether a live daemon currently owns the queue: the
// marker exists and its owner process is alive.
func LockHeld(queueDir string) (bool, *Lock) {
	lock, err := LoadLock(queueDir)
	if err != nil || lock == nil {
		return false, nil
	}
	return ProcessAlive(lock.PID), lock
}
