//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// Signal sends sig to pid. A negative pid addresses the process group.
func Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// Exists reports whether pid can be signalled at all.
func Exists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// ConfigureSysProcAttr places the child in its own process group so stop
// signals reach the whole tree, shells included.
func ConfigureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
