//go:build !windows

package process

import "os/exec"

// getShellCommand wraps script for the platform shell. The absolute path
// avoids a PATH dependency when Env is overridden.
func getShellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// getTrueCommand returns a command that exits 0 immediately.
func getTrueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
