package supervisor

import "time"

// State describes the lifecycle position of one unit server.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	// StateCrashed is reported exactly once after an unexpected exit; the
	// next status query for the same name reports StateStopped.
	StateCrashed State = "crashed"
	// StateFailedToStart appears only in lifecycle events, when the child
	// exits before surviving the startup grace interval.
	StateFailedToStart State = "failed_to_start"
)

// Status is a point-in-time view of one server's runtime state.
type Status struct {
	Name      string        `json:"name"`
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	// ExitCode is meaningful only when State is StateCrashed.
	ExitCode int `json:"exit_code,omitempty"`
}
