package eventbus

import "time"

// Topic identifies an event stream on the bus.
type Topic string

const (
	// TopicServerLog carries individual log lines emitted by unit servers.
	TopicServerLog Topic = "servers.log"
	// TopicServerState carries lifecycle state transitions.
	TopicServerState Topic = "servers.state"
)

// Envelope wraps an event payload with routing metadata.
type Envelope struct {
	Topic     Topic
	Source    string
	Timestamp time.Time
	Payload   any
}

// LogStream distinguishes the origin pipe of a server log line.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
)

// ServerLogEvent is the payload for TopicServerLog.
type ServerLogEvent struct {
	Server string    `json:"server"`
	Stream LogStream `json:"stream"`
	Line   string    `json:"line"`
}

// ServerStateEvent is the payload for TopicServerState.
type ServerStateEvent struct {
	Server   string `json:"server"`
	OldState string `json:"old_state"`
	NewState string `json:"new_state"`
	PID      int    `json:"pid,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`
	Err      string `json:"error,omitempty"`
}
