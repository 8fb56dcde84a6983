package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mcpherd/mcpherd/internal/procutil"
)

// ErrAlreadyRunning indicates another daemon instance holds the lock file.
var ErrAlreadyRunning = errors.New("daemon: already running")

// acquireLock claims the daemon lock file. A lock left behind by a dead
// process is taken over silently. The returned release function removes the
// file.
func acquireLock(path string) (func(), error) {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			// A recorded live PID always refuses, our own included: the
			// lock may belong to another daemon running in this process.
			if pid > 0 && procutil.IsProcessAlive(pid) {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
		}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("daemon: write lock file: %w", err)
	}

	return func() {
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		if strings.TrimSpace(string(data)) == strconv.Itoa(pid) {
			_ = os.Remove(path)
		}
	}, nil
}
