package supervisor

import (
	"context"
	"io"
	"sync"
	"time"
)

// LaunchRecord captures metadata about a launched mock process.
type LaunchRecord struct {
	Name       string
	Command    string
	Args       []string
	Dir        string
	Env        []string
	LaunchedAt time.Time
}

// MockLauncher implements Launcher for tests, recording launches without
// spawning real processes. Handles exit only when told to via ExitNow.
type MockLauncher struct {
	mu      sync.Mutex
	records []LaunchRecord
	handles map[string]*MockHandle
	err     error
	nextPID int
}

// NewMockLauncher constructs a launcher stub.
func NewMockLauncher() *MockLauncher {
	return &MockLauncher{
		nextPID: 1000,
		handles: make(map[string]*MockHandle),
	}
}

// SetError forces subsequent Launch calls to fail with the provided error.
func (m *MockLauncher) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Launch records the spec and returns a controllable handle.
func (m *MockLauncher) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	m.records = append(m.records, LaunchRecord{
		Name:       spec.Name,
		Command:    spec.Command,
		Args:       append([]string(nil), spec.Args...),
		Dir:        spec.Dir,
		Env:        append([]string(nil), spec.Env...),
		LaunchedAt: time.Now().UTC(),
	})

	handle := &MockHandle{
		pid:    m.nextPID,
		stdout: spec.Stdout,
		done:   make(chan ExitStatus, 1),
	}
	m.nextPID++
	m.handles[spec.Name] = handle
	return handle, nil
}

// Records returns a copy of launch records for assertions.
func (m *MockLauncher) Records() []LaunchRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LaunchRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Handle returns the most recent handle launched for the given name.
func (m *MockLauncher) Handle(name string) *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handles[name]
}

// MockHandle is a controllable stand-in for a child process.
type MockHandle struct {
	pid    int
	stdout io.Writer

	mu         sync.Mutex
	terminated int
	killed     int
	exited     bool
	// IgnoreTerminate simulates a child that ignores graceful shutdown.
	IgnoreTerminate bool
	// IgnoreKill simulates a child that survives even a forced kill.
	IgnoreKill bool

	done chan ExitStatus
}

func (h *MockHandle) PID() int { return h.pid }

func (h *MockHandle) Stdin() io.WriteCloser { return nopWriteCloser{} }

func (h *MockHandle) Terminate() error {
	h.mu.Lock()
	h.terminated++
	ignore := h.IgnoreTerminate
	h.mu.Unlock()
	if !ignore {
		h.ExitNow(ExitStatus{Code: 0})
	}
	return nil
}

func (h *MockHandle) Kill() error {
	h.mu.Lock()
	h.killed++
	ignore := h.IgnoreKill
	h.mu.Unlock()
	if !ignore {
		h.ExitNow(ExitStatus{Code: -1})
	}
	return nil
}

func (h *MockHandle) Done() <-chan ExitStatus { return h.done }

// ExitNow makes the mock process exit with the given status. Safe to call
// more than once; only the first call takes effect.
func (h *MockHandle) ExitNow(status ExitStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exited {
		return
	}
	h.exited = true
	h.done <- status
	close(h.done)
}

// EmitStdout writes a line to the handle's stdout writer, as the child would.
func (h *MockHandle) EmitStdout(line string) {
	if h.stdout != nil {
		_, _ = io.WriteString(h.stdout, line+"\n")
	}
}

// TerminateCount reports how many graceful terminations were requested.
func (h *MockHandle) TerminateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.terminated
}

// KillCount reports how many forced kills were requested.
func (h *MockHandle) KillCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }
