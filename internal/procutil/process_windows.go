//go:build windows

package procutil

import (
	"os"
	"syscall"
)

const processQueryLimitedInformation = 0x1000

// GracefulTerminate terminates the process. On Windows, Process.Signal only
// supports os.Kill, so we use that directly (TerminateProcess).
func GracefulTerminate(p *os.Process) error {
	return p.Kill()
}

// Kill forcefully terminates the process.
func Kill(p *os.Process) error {
	return p.Kill()
}

// IsProcessAlive checks whether a process with the given pid is still running
// by attempting to open a handle with PROCESS_QUERY_LIMITED_INFORMATION.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	syscall.CloseHandle(h)
	return true
}

// StartTime is not implemented on Windows; callers fall back to pid-only
// liveness checks.
func StartTime(pid int) (uint64, error) {
	return 0, ErrStartTimeUnsupported
}
