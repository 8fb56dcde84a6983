// Package http defines the wire types exchanged between the daemon's HTTP
// API and its clients.
package http

import (
	"time"

	"github.com/mcpherd/mcpherd/internal/registry"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// Error kinds returned alongside failure responses so clients can explain
// why an operation failed rather than showing a generic error.
const (
	KindInvalidDefinition   = "invalid_definition"
	KindDuplicateName       = "duplicate_name"
	KindNotFound            = "not_found"
	KindAlreadyRunning      = "already_running"
	KindNotRunning          = "not_running"
	KindDisabled            = "disabled"
	KindStopTimeout         = "stop_timeout"
	KindSpawnFailed         = "spawn_failed"
	KindNameCollision       = "name_collision"
	KindInvalidArtifact     = "invalid_artifact"
	KindProcessStillRunning = "process_still_running"
	KindConfigUnreadable    = "config_unreadable"
	KindConfigWriteFailed   = "config_write_failed"
	KindInternal            = "internal"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Server is the wire representation of one registry definition.
type Server struct {
	Name       string            `json:"name"`
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	WorkingDir string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Transport  string            `json:"transport,omitempty"`
	Enabled    bool              `json:"enabled"`
	CreatedAt  time.Time         `json:"created_at,omitzero"`
	Source     string            `json:"source,omitempty"`
}

// FromDefinition converts a registry definition to its wire form.
func FromDefinition(def registry.ServerDefinition) Server {
	return Server{
		Name:       def.Name,
		Command:    def.Command,
		Args:       def.Args,
		WorkingDir: def.WorkingDir,
		Env:        def.Env,
		Transport:  def.Transport,
		Enabled:    def.Enabled,
		CreatedAt:  def.CreatedAt,
		Source:     def.Source,
	}
}

// ToDefinition converts the wire form back to a registry definition.
func (s Server) ToDefinition() registry.ServerDefinition {
	return registry.ServerDefinition{
		Name:       s.Name,
		Command:    s.Command,
		Args:       s.Args,
		WorkingDir: s.WorkingDir,
		Env:        s.Env,
		Transport:  s.Transport,
		Enabled:    s.Enabled,
		CreatedAt:  s.CreatedAt,
		Source:     s.Source,
	}
}

// ServerList is returned by GET /v1/servers.
type ServerList struct {
	Servers []Server `json:"servers"`
}

// UpdateServerRequest is accepted by PATCH /v1/servers/{name}. Nil fields
// are left unchanged.
type UpdateServerRequest struct {
	Command    *string            `json:"command,omitempty"`
	Args       *[]string          `json:"args,omitempty"`
	WorkingDir *string            `json:"cwd,omitempty"`
	Env        *map[string]string `json:"env,omitempty"`
	Enabled    *bool              `json:"enabled,omitempty"`
}

// ToPatch converts the request to a registry patch.
func (r UpdateServerRequest) ToPatch() registry.Patch {
	return registry.Patch{
		Command:    r.Command,
		Args:       r.Args,
		WorkingDir: r.WorkingDir,
		Env:        r.Env,
		Enabled:    r.Enabled,
	}
}

// ProcessStatus is the wire form of a supervisor status.
type ProcessStatus struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	UptimeSeconds float64   `json:"uptime_seconds,omitempty"`
	ExitCode      int       `json:"exit_code,omitempty"`
}

// FromStatus converts a supervisor status to its wire form.
func FromStatus(status supervisor.Status) ProcessStatus {
	return ProcessStatus{
		Name:          status.Name,
		State:         string(status.State),
		PID:           status.PID,
		StartedAt:     status.StartedAt,
		UptimeSeconds: status.Uptime.Seconds(),
		ExitCode:      status.ExitCode,
	}
}

// RunningList is returned by GET /v1/processes.
type RunningList struct {
	Names []string `json:"names"`
}

// StopRequest is accepted by POST /v1/servers/{name}/stop and restart.
type StopRequest struct {
	TimeoutSeconds float64 `json:"timeout_seconds,omitempty"`
}

// ReconcileRequest is accepted by POST /v1/reconcile.
type ReconcileRequest struct {
	DryRun bool `json:"dry_run"`
}

// ImportRequest is accepted by POST /v1/import.
type ImportRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// DaemonInfo is returned by GET /v1/daemon.
type DaemonInfo struct {
	Version   string    `json:"version"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// LogStreamEvent is one item on the websocket log stream.
type LogStreamEvent struct {
	Server    string    `json:"server"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}
