// Package portscan reports which processes hold listening TCP sockets on
// the local machine. It shells out to whichever of lsof, ss or netstat is
// installed and parses the text output into (pid, port, protocol, program)
// tuples. A scan is a point-in-time snapshot; callers reconcile it against
// their own bookkeeping.
package portscan

import (
	"context"
	"errors"
	"os/exec"
)

// Entry is one listening socket as reported by the scanning tool. PID is 0
// when the tool could not resolve the owner (for example netstat without
// enough privileges).
type Entry struct {
	PID      int    `json:"pid"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Program  string `json:"program"`
}

// Scanner produces a snapshot of listening sockets.
type Scanner interface {
	Scan(ctx context.Context) ([]Entry, error)
	// Describe names the underlying tool, for logs.
	Describe() string
}

// ErrNoScanner is returned by Detect when none of the supported tools is on
// PATH.
var ErrNoScanner = errors.New("portscan: no supported tool found (lsof, ss, netstat)")

// Detect picks the first available scanning tool in preference order.
func Detect() (Scanner, error) {
	if _, err := exec.LookPath("lsof"); err == nil {
		return NewLsofScanner(), nil
	}
	if _, err := exec.LookPath("ss"); err == nil {
		return NewSSScanner(), nil
	}
	if _, err := exec.LookPath("netstat"); err == nil {
		return NewNetstatScanner(), nil
	}
	return nil, ErrNoScanner
}

// FindByPort returns the entries bound to port.
func FindByPort(entries []Entry, port int) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Port == port {
			out = append(out, e)
		}
	}
	return out
}

// FindByPID returns the entries owned by pid.
func FindByPID(entries []Entry, pid int) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.PID == pid {
			out = append(out, e)
		}
	}
	return out
}

// runTool executes the scanner command and returns its stdout. A nonzero
// exit with no output is treated as an empty result: lsof in particular
// exits 1 when nothing matches the filter.
func runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(out) == 0 {
			return nil, nil
		}
		if len(out) > 0 {
			return out, nil
		}
		return nil, err
	}
	return out, nil
}
