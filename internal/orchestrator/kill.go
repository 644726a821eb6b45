package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/warden/internal/guard"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/portscan"
	"github.com/loykin/warden/internal/process"
)

// KillPID terminates an arbitrary process by pid. Guard validation runs
// strictly first and its failures come back as errors for the transport to
// map; everything after validation is a Result. An absent pid is the normal
// false outcome.
func (o *Orchestrator) KillPID(ctx context.Context, raw string) (Result, error) {
	metrics.IncKillRequest("pid")
	pid, err := guard.ValidatePID(raw)
	if err != nil {
		return Result{}, err
	}
	o.log.Info("killing process", "pid", pid)
	if err := process.TerminatePID(pid, o.grace); err != nil {
		if errors.Is(err, process.ErrNoSuchProcess) {
			return Result{Message: fmt.Sprintf("No process found with PID %d", pid)}, nil
		}
		return Result{Message: fmt.Sprintf("failed to kill process %d: %v", pid, err)}, nil
	}
	return Result{Success: true, Message: fmt.Sprintf("Process %d killed successfully", pid)}, nil
}

// KillPort terminates every process listening on the port. All resolved
// owners are signalled with the same graceful-then-forced escalation; any
// per-pid failure flips Success off and the message reports the split.
func (o *Orchestrator) KillPort(ctx context.Context, raw string) (Result, error) {
	metrics.IncKillRequest("port")
	port, err := guard.ValidatePort(raw)
	if err != nil {
		return Result{}, err
	}

	matches := portscan.FindByPort(o.Ports(ctx), port)
	pids := make([]int, 0, len(matches))
	seen := make(map[int]bool)
	unresolved := 0
	for _, e := range matches {
		if e.PID <= 0 {
			unresolved++
			continue
		}
		if !seen[e.PID] {
			seen[e.PID] = true
			pids = append(pids, e.PID)
		}
	}
	if len(pids) == 0 {
		if unresolved > 0 {
			return Result{Message: fmt.Sprintf("port %d is bound but its owner could not be resolved", port)}, nil
		}
		return Result{Message: fmt.Sprintf("No process found on port %d", port)}, nil
	}

	o.log.Info("killing processes on port", "port", port, "pids", pids)
	killed := 0
	var failed []string
	for _, pid := range pids {
		// Pids below the protected floor are refused without a syscall.
		if pid < guard.ProtectedPIDMax {
			failed = append(failed, fmt.Sprintf("pid %d: cannot kill system processes", pid))
			continue
		}
		if err := process.TerminatePID(pid, o.grace); err != nil && !errors.Is(err, process.ErrNoSuchProcess) {
			failed = append(failed, fmt.Sprintf("pid %d: %v", pid, err))
			continue
		}
		killed++
	}

	if len(failed) > 0 {
		return Result{Message: fmt.Sprintf("killed %d of %d processes on port %d; %s",
			killed, len(pids), port, strings.Join(failed, "; "))}, nil
	}
	if len(pids) == 1 {
		return Result{Success: true, Message: fmt.Sprintf("Process %d on port %d killed successfully", pids[0], port)}, nil
	}
	return Result{Success: true, Message: fmt.Sprintf("%d processes on port %d killed successfully", killed, port)}, nil
}
