// Package procutil isolates platform-specific process probing and signalling
// so supervisor state-machine logic stays portable. Liveness checks combine
// the pid with the kernel-reported process start time where available, which
// guards against pid recycling misidentifying an unrelated process.
package procutil

import "errors"

// ErrStartTimeUnsupported indicates the platform cannot report a process
// start time.
var ErrStartTimeUnsupported = errors.New("procutil: process start time not supported on this platform")
