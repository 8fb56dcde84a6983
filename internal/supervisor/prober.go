package supervisor

import (
	"errors"

	"github.com/mcpherd/mcpherd/internal/procutil"
)

// Prober answers liveness questions about OS processes. The start-time token
// guards against PID reuse: a recycled PID carries a different start time, so
// a stale handle is treated as dead rather than adopted.
type Prober interface {
	// StartTime returns an opaque start-time token for the process, or 0
	// when the platform cannot provide one.
	StartTime(pid int) uint64
	// Alive reports whether pid refers to a live process whose start time
	// still matches the recorded token. A zero token skips the match.
	Alive(pid int, startTime uint64) bool
}

type osProber struct{}

// NewOSProber returns the production prober backed by the OS process table.
func NewOSProber() Prober {
	return osProber{}
}

func (osProber) StartTime(pid int) uint64 {
	ticks, err := procutil.StartTime(pid)
	if err != nil {
		return 0
	}
	return ticks
}

func (osProber) Alive(pid int, startTime uint64) bool {
	if !procutil.IsProcessAlive(pid) {
		return false
	}
	if startTime == 0 {
		return true
	}
	ticks, err := procutil.StartTime(pid)
	if err != nil {
		// Unsupported platforms fall back to the pid-only probe above.
		return errors.Is(err, procutil.ErrStartTimeUnsupported)
	}
	return ticks == startTime
}
