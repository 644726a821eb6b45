// Package process holds the server registry entry type, the bookkeeping
// record for spawned children, and the low-level signal plumbing shared by
// the manager and the kill operations.
package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/warden/internal/logger"
)

// ServerConfig describes one registered server. Entries are immutable;
// re-registering an id replaces the whole entry.
type ServerConfig struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Command  string        `json:"command"`
	WorkDir  string        `json:"workDir,omitempty"`
	Env      []string      `json:"env,omitempty"`
	Ports    []int         `json:"ports,omitempty"`
	ColorTag string        `json:"colorTag,omitempty"`
	Log      logger.Config `json:"-"`
}

var (
	ErrEmptyID        = errors.New("server id is required")
	ErrUnsafeID       = errors.New("server id contains unsafe characters")
	ErrMissingCommand = errors.New("server command is required")
)

// Validate checks the fields a registry entry must carry. IDs are restricted
// to path- and log-safe characters since they name capture files and URLs.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyID
	}
	if !isSafeID(c.ID) {
		return fmt.Errorf("%w: %q", ErrUnsafeID, c.ID)
	}
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("%w: %q", ErrMissingCommand, c.ID)
	}
	for _, p := range c.Ports {
		if p < 1 || p > 65535 {
			return fmt.Errorf("server %q: declared port %d out of range", c.ID, p)
		}
	}
	return nil
}

func isSafeID(id string) bool {
	if strings.Contains(id, "..") {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// BuildCommand constructs an *exec.Cmd for the configured command line. It
// avoids a shell when none is needed, respects an explicit leading
// "sh -c ..." without double-wrapping, and falls back to the shell when
// metacharacters are present.
func (c ServerConfig) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(c.Command)
	if cmdStr == "" {
		return getTrueCommand()
	}
	if script, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects "sh -c <ARG>" (also /bin/sh, /usr/bin/sh) at
// the start of cmdStr and returns the script after "-c". One wrapping pair
// of quotes around the script is stripped so redirections inside it still
// parse.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(trim, p) {
			continue
		}
		script := trim[len(p):]
		if n := len(script); n >= 2 {
			if (script[0] == '\'' && script[n-1] == '\'') || (script[0] == '"' && script[n-1] == '"') {
				script = script[1 : n-1]
			}
		}
		return script, true
	}
	return "", false
}
