package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/mcpherd/mcpherd/internal/procutil"
)

// LaunchSpec describes everything needed to spawn one unit-server process.
type LaunchSpec struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string // KEY=VALUE pairs appended to the daemon environment
	Stdout  io.Writer
	Stderr  io.Writer
}

// ExitStatus reports how a child process terminated.
type ExitStatus struct {
	Code int
	Err  error
}

// Handle represents one spawned unit-server process.
type Handle interface {
	PID() int
	// Stdin is the child's standard input; the transport layer writes
	// protocol messages here. Closing it signals end of input.
	Stdin() io.WriteCloser
	// Terminate requests a graceful shutdown.
	Terminate() error
	// Kill forcefully terminates the process.
	Kill() error
	// Done is closed after the process exits; the exit status is sent first.
	Done() <-chan ExitStatus
}

// Launcher abstracts process creation so the state machine can be exercised
// without spawning real children.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Handle, error)
}

// ErrCommandEmpty indicates a launch spec without an executable command.
var ErrCommandEmpty = errors.New("supervisor: command is empty")

type execLauncher struct{}

// NewExecLauncher returns the production launcher backed by os/exec.
func NewExecLauncher() Launcher {
	return execLauncher{}
}

func (execLauncher) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return nil, ErrCommandEmpty
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = spec.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}
	cmd.Stderr = spec.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = io.Discard
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: stdin pipe for %s: %w", spec.Name, err)
	}

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("supervisor: start %s: %w", spec.Name, err)
	}

	handle := &execHandle{
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan ExitStatus, 1),
	}
	go handle.wait()
	return handle, nil
}

type execHandle struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	done  chan ExitStatus
}

func (h *execHandle) wait() {
	err := h.cmd.Wait()
	_ = h.stdin.Close()

	status := ExitStatus{Code: -1}
	if h.cmd.ProcessState != nil {
		status.Code = h.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}
	h.done <- status
	close(h.done)
}

func (h *execHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

func (h *execHandle) Stdin() io.WriteCloser {
	return h.stdin
}

func (h *execHandle) Terminate() error {
	if h.cmd.Process == nil {
		return nil
	}
	return procutil.GracefulTerminate(h.cmd.Process)
}

func (h *execHandle) Kill() error {
	if h.cmd.Process == nil {
		return nil
	}
	return procutil.Kill(h.cmd.Process)
}

func (h *execHandle) Done() <-chan ExitStatus {
	return h.done
}
