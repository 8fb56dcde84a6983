package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning indicates a start was issued for a server that is
	// already Running or Starting.
	ErrAlreadyRunning = errors.New("supervisor: server already running")
	// ErrNotRunning indicates a stop was issued for a server with no live handle.
	ErrNotRunning = errors.New("supervisor: server not running")
	// ErrDisabled indicates the definition's enabled flag is false.
	ErrDisabled = errors.New("supervisor: server is disabled")
	// ErrStopTimeout indicates the process survived even the forced kill.
	ErrStopTimeout = errors.New("supervisor: process did not exit after kill")
)

// SpawnError reports a server process that could not be launched, or that
// exited before surviving the startup grace interval.
type SpawnError struct {
	Name     string
	ExitCode int
	Err      error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("supervisor: spawn %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("supervisor: spawn %s: exited with code %d during startup", e.Name, e.ExitCode)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnFailed reports whether err carries a SpawnError.
func IsSpawnFailed(err error) bool {
	var spawnErr *SpawnError
	return errors.As(err, &spawnErr)
}
