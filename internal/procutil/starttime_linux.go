//go:build linux

package procutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// StartTime returns the kernel start time of the process in clock ticks since
// boot, read from /proc/<pid>/stat (field 22). Together with the pid it forms
// a stable identity that survives pid recycling.
func StartTime(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, fmt.Errorf("procutil: read stat for pid %d: %w", pid, err)
	}

	// The comm field (2) is parenthesised and may contain spaces; fields are
	// counted from the closing parenthesis.
	raw := string(data)
	idx := strings.LastIndexByte(raw, ')')
	if idx < 0 || idx+2 > len(raw) {
		return 0, fmt.Errorf("procutil: malformed stat for pid %d", pid)
	}
	fields := strings.Fields(raw[idx+2:])
	// starttime is overall field 22; after state (3) it is at offset 19.
	const startTimeOffset = 19
	if len(fields) <= startTimeOffset {
		return 0, fmt.Errorf("procutil: malformed stat for pid %d", pid)
	}
	ticks, err := strconv.ParseUint(fields[startTimeOffset], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("procutil: parse starttime for pid %d: %w", pid, err)
	}
	return ticks, nil
}
