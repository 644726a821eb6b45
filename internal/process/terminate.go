package process

import (
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/loykin/warden/internal/detector"
)

// ErrNoSuchProcess reports a kill target that does not exist.
var ErrNoSuchProcess = errors.New("no such process")

const (
	killPollInterval = 100 * time.Millisecond
	killSettleWait   = 200 * time.Millisecond
)

// TerminatePID stops a process the manager holds no handle for (foreign
// pids, reattached children): SIGTERM, poll until grace expires, then
// SIGKILL. The caller has already validated the pid as a permitted target.
func TerminatePID(pid int, grace time.Duration) error {
	if pid <= 0 {
		return fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
	}
	if err := Signal(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("%w: pid %d", ErrNoSuchProcess, pid)
		}
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !detector.Alive(pid) {
			return nil
		}
		time.Sleep(killPollInterval)
	}
	if err := Signal(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("force kill pid %d: %w", pid, err)
	}
	// Give the kernel a moment to tear the process down. Best effort; the
	// caller re-checks liveness if it matters.
	time.Sleep(killSettleWait)
	return nil
}

// ExitReason renders the result of cmd.Wait for storage on the record.
func ExitReason(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
