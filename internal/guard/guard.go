// Package guard validates the targets of destructive operations (kill by
// pid, kill by port) before any signal is issued. Validation is pure string
// and range checking; callers must not touch the OS until it has passed.
package guard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ProtectedPIDMax is the exclusive upper bound of the protected pid range.
// Pids below it belong to init, kernel threads and core system daemons and
// are never valid kill targets, whether or not they currently exist.
const ProtectedPIDMax = 1024

const (
	// PortMin and PortMax bound the valid TCP/UDP port range.
	PortMin = 1
	PortMax = 65535
)

// Error messages carry the exact phrases the HTTP API returns to clients.
var (
	ErrInvalidPID   = errors.New("Invalid PID format")
	ErrProtectedPID = errors.New("cannot kill system processes")
	ErrInvalidPort  = errors.New("Invalid port number")
)

// ValidatePID parses raw as a kill target. It fails with ErrInvalidPID when
// raw is not a positive integer and with ErrProtectedPID when the pid falls
// inside the protected range. Existence of the pid is not checked here.
func ValidatePID(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty pid", ErrInvalidPID)
	}
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, raw)
	}
	if pid < ProtectedPIDMax {
		return 0, fmt.Errorf("%w (pid %d is below %d)", ErrProtectedPID, pid, ProtectedPIDMax)
	}
	return pid, nil
}

// ValidatePort parses raw as a port and enforces [PortMin, PortMax].
func ValidatePort(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("%w: empty port", ErrInvalidPort)
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, raw)
	}
	if port < PortMin || port > PortMax {
		return 0, fmt.Errorf("%w: %d out of range", ErrInvalidPort, port)
	}
	return port, nil
}
