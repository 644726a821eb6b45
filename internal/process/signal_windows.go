//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// Signal approximates Unix signalling on Windows: sig 0 checks existence,
// anything else terminates. Negative pids (process groups elsewhere) are
// folded to their absolute value.
func Signal(pid int, sig syscall.Signal) error {
	if pid < 0 {
		pid = -pid
	}
	if pid == 0 {
		return nil
	}
	if sig == 0 {
		if Exists(pid) {
			return nil
		}
		return syscall.ESRCH
	}
	handle, err := openProcess(processTerminate, pid)
	if err != nil {
		// Already gone; terminating a dead pid is not an error here.
		return nil
	}
	defer closeHandle(handle)
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

// Exists reports whether a process handle can be opened for pid.
func Exists(pid int) bool {
	handle, err := openProcess(processQueryInformation, pid)
	if err != nil {
		return false
	}
	closeHandle(handle)
	return true
}

// ConfigureSysProcAttr places the child in its own process group.
func ConfigureSysProcAttr(cmd *exec.Cmd) {
	const createNewProcessGroup = 0x00000200
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

func openProcess(access uint32, pid int) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(uint32(pid)))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
