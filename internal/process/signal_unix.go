//go:build !windows

package process

import (
	"os"
	"syscall"
)

// terminateGroup asks the process group led by pid to stop.
func terminateGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killGroup forcibly stops the process group led by pid.
func killGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// exitCode maps a finished process to a shell-style exit code: signal deaths
// become 128+signo.
func exitCode(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
