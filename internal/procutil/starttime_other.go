//go:build !linux && !windows

package procutil

// StartTime is only implemented on Linux; callers fall back to pid-only
// liveness checks.
func StartTime(pid int) (uint64, error) {
	return 0, ErrStartTimeUnsupported
}
