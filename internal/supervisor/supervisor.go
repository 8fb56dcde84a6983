// Package supervisor owns the mapping from registered unit servers to live
// OS processes. It drives the per-server lifecycle
// Stopped → Starting → Running → Stopping → Stopped, with Crashed on an
// unexpected exit, and serializes operations per server name so two
// concurrent starts cannot both succeed.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mcpherd/mcpherd/internal/eventbus"
	"github.com/mcpherd/mcpherd/internal/registry"
)

const (
	// DefaultGraceInterval is how long a child must stay alive after spawn
	// before it is considered Running.
	DefaultGraceInterval = time.Second
	// DefaultStopTimeout bounds the wait for a graceful exit before the
	// stop escalates to a kill.
	DefaultStopTimeout = 5 * time.Second
	// killEscalationBound bounds the wait for the exit notification after
	// a forced kill.
	killEscalationBound = 2 * time.Second
)

// DefinitionSource exposes the registry lookups the supervisor needs.
type DefinitionSource interface {
	Get(ctx context.Context, name string) (registry.ServerDefinition, error)
}

// Options configures a Supervisor.
type Options struct {
	Definitions   DefinitionSource
	Launcher      Launcher
	Prober        Prober
	Bus           *eventbus.Bus
	GraceInterval time.Duration
}

// Supervisor controls unit-server processes. The handle table is the single
// shared mutable structure; it is guarded by mu, while per-name operation
// locks serialize start/stop/restart for the same server without blocking
// operations on other servers.
type Supervisor struct {
	defs     DefinitionSource
	launcher Launcher
	prober   Prober
	bus      *eventbus.Bus
	grace    time.Duration

	mu        sync.Mutex
	instances map[string]*instance
	ops       map[string]*sync.Mutex
}

type instance struct {
	name      string
	handle    Handle
	state     State
	pid       int
	startedAt time.Time
	startTime uint64 // prober token captured at spawn, 0 when unavailable
	exit      *ExitStatus
	stdout    *lineWriter
	stderr    *lineWriter
}

// New constructs a Supervisor with the supplied dependencies.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		defs:      opts.Definitions,
		launcher:  opts.Launcher,
		prober:    opts.Prober,
		bus:       opts.Bus,
		grace:     opts.GraceInterval,
		instances: make(map[string]*instance),
		ops:       make(map[string]*sync.Mutex),
	}
	if s.launcher == nil {
		s.launcher = NewExecLauncher()
	}
	if s.prober == nil {
		s.prober = NewOSProber()
	}
	if s.grace <= 0 {
		s.grace = DefaultGraceInterval
	}
	return s
}

// Start spawns the named server and blocks through the grace interval so the
// caller learns synchronously whether the child survived startup.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	op := s.opLock(name)
	op.Lock()
	defer op.Unlock()

	s.mu.Lock()
	if inst, ok := s.instances[name]; ok {
		state, _ := s.refreshLocked(inst)
		if state == StateRunning || state == StateStarting || state == StateStopping {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
		}
	}
	s.mu.Unlock()

	def, err := s.defs.Get(ctx, name)
	if err != nil {
		return err
	}
	if !def.Enabled {
		return fmt.Errorf("%w: %s", ErrDisabled, name)
	}

	stdout := newLineWriter(s.bus, name, eventbus.StreamStdout)
	stderr := newLineWriter(s.bus, name, eventbus.StreamStderr)

	handle, err := s.launcher.Launch(ctx, LaunchSpec{
		Name:    name,
		Command: def.Command,
		Args:    def.Args,
		Dir:     def.WorkingDir,
		Env:     flattenEnv(def.Env),
		Stdout:  stdout,
		Stderr:  stderr,
	})
	if err != nil {
		stdout.Close()
		stderr.Close()
		return &SpawnError{Name: name, Err: err}
	}

	inst := &instance{
		name:      name,
		handle:    handle,
		state:     StateStarting,
		pid:       handle.PID(),
		startedAt: time.Now().UTC(),
		startTime: s.prober.StartTime(handle.PID()),
		stdout:    stdout,
		stderr:    stderr,
	}

	s.mu.Lock()
	s.instances[name] = inst
	s.mu.Unlock()
	s.publishState(name, StateStopped, StateStarting, inst.pid, 0, "")

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case exit := <-handle.Done():
		s.removeInstance(inst)
		s.publishState(name, StateStarting, StateFailedToStart, inst.pid, exit.Code, errString(exit.Err))
		s.publishState(name, StateFailedToStart, StateStopped, 0, exit.Code, "")
		if exit.Err != nil {
			return &SpawnError{Name: name, ExitCode: exit.Code, Err: exit.Err}
		}
		return &SpawnError{Name: name, ExitCode: exit.Code}
	case <-ctx.Done():
		_ = handle.Kill()
		s.removeInstance(inst)
		s.publishState(name, StateStarting, StateStopped, 0, 0, ctx.Err().Error())
		return ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	inst.state = StateRunning
	s.mu.Unlock()
	s.publishState(name, StateStarting, StateRunning, inst.pid, 0, "")
	return nil
}

// Stop terminates the named server gracefully, escalating to a kill after
// timeout. A zero timeout uses DefaultStopTimeout.
func (s *Supervisor) Stop(ctx context.Context, name string, timeout time.Duration) error {
	op := s.opLock(name)
	op.Lock()
	defer op.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	s.mu.Lock()
	inst, ok := s.instances[name]
	if ok {
		// A handle still in the table is stoppable whatever its state:
		// Stopping in particular means a previous Stop timed out and the
		// caller is retrying.
		if _, removed := s.refreshLocked(inst); removed {
			ok = false
		}
	}
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	prev := inst.state
	inst.state = StateStopping
	s.mu.Unlock()
	if prev != StateStopping {
		s.publishState(name, prev, StateStopping, inst.pid, 0, "")
	}

	_ = inst.handle.Terminate()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case exit, delivered := <-inst.handle.Done():
		code := s.finishStop(inst, exit, delivered)
		s.publishState(name, StateStopping, StateStopped, 0, code, "")
		return nil
	case <-timer.C:
	}

	_ = inst.handle.Kill()

	killTimer := time.NewTimer(killEscalationBound)
	defer killTimer.Stop()
	select {
	case exit, delivered := <-inst.handle.Done():
		code := s.finishStop(inst, exit, delivered)
		s.publishState(name, StateStopping, StateStopped, 0, code, "")
		return nil
	case <-killTimer.C:
		return fmt.Errorf("%w: %s (pid %d)", ErrStopTimeout, name, inst.pid)
	}
}

// finishStop records the exit and drops the instance. When a concurrent
// Status drained the exit channel first, delivered is false and the code
// recorded by that drain is used instead of the zero value.
func (s *Supervisor) finishStop(inst *instance, exit ExitStatus, delivered bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delivered {
		inst.exit = &exit
	}
	s.dropLocked(inst)
	return inst.lastExit().Code
}

// Restart stops then starts the named server. A stop that finds nothing
// running is not an error, so restart doubles as "make sure it is running".
func (s *Supervisor) Restart(ctx context.Context, name string, timeout time.Duration) error {
	if err := s.Stop(ctx, name, timeout); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	return s.Start(ctx, name)
}

// Status reports the current state of the named server. It takes only the
// table lock, never the per-name operation lock, so it answers promptly even
// while the same server is mid-start or mid-stop.
func (s *Supervisor) Status(name string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[name]
	if !ok {
		return Status{Name: name, State: StateStopped}
	}

	state, removed := s.refreshLocked(inst)
	if removed {
		if state == StateCrashed {
			exit := inst.lastExit()
			return Status{Name: name, State: StateCrashed, ExitCode: exit.Code}
		}
		return Status{Name: name, State: StateStopped}
	}

	return Status{
		Name:      name,
		State:     state,
		PID:       inst.pid,
		StartedAt: inst.startedAt,
		Uptime:    time.Since(inst.startedAt),
	}
}

// ListRunning returns the names currently Running or Starting, sorted.
func (s *Supervisor) ListRunning() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.instances))
	for name, inst := range s.instances {
		state, removed := s.refreshLocked(inst)
		if removed {
			continue
		}
		if state == StateRunning || state == StateStarting {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Running reports whether the named server is currently Running or Starting.
func (s *Supervisor) Running(name string) bool {
	st := s.Status(name).State
	return st == StateRunning || st == StateStarting
}

// StopAll stops every running server, collecting per-server failures.
func (s *Supervisor) StopAll(ctx context.Context, timeout time.Duration) error {
	var errs []error
	for _, name := range s.ListRunning() {
		if err := s.Stop(ctx, name, timeout); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// refreshLocked folds a completed or vanished process into the state machine.
// It must be called with s.mu held. When the instance has been removed from
// the table it returns removed=true together with the terminal state observed
// (StateCrashed for an unexpected exit, StateStopped otherwise).
func (s *Supervisor) refreshLocked(inst *instance) (State, bool) {
	select {
	case exit, delivered := <-inst.handle.Done():
		if delivered {
			inst.exit = &exit
		}
		crashed := inst.state == StateRunning || inst.state == StateStarting
		s.dropLocked(inst)
		if crashed {
			exitStatus := inst.lastExit()
			s.publishState(inst.name, inst.state, StateCrashed, inst.pid, exitStatus.Code, errString(exitStatus.Err))
			s.publishState(inst.name, StateCrashed, StateStopped, 0, exitStatus.Code, "")
			return StateCrashed, true
		}
		return StateStopped, true
	default:
	}

	// The exit pipe is still open but the OS may disagree, for example
	// after the daemon restarts or the PID was recycled.
	if inst.pid > 0 && !s.prober.Alive(inst.pid, inst.startTime) {
		crashed := inst.state == StateRunning || inst.state == StateStarting
		s.dropLocked(inst)
		if crashed {
			s.publishState(inst.name, inst.state, StateCrashed, inst.pid, 0, "process vanished")
			s.publishState(inst.name, StateCrashed, StateStopped, 0, 0, "")
			return StateCrashed, true
		}
		return StateStopped, true
	}

	return inst.state, false
}

func (s *Supervisor) dropLocked(inst *instance) {
	if current, ok := s.instances[inst.name]; ok && current == inst {
		delete(s.instances, inst.name)
	}
	if inst.stdout != nil {
		inst.stdout.Close()
	}
	if inst.stderr != nil {
		inst.stderr.Close()
	}
}

func (s *Supervisor) removeInstance(inst *instance) {
	s.mu.Lock()
	s.dropLocked(inst)
	s.mu.Unlock()
}

func (s *Supervisor) opLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.ops[name]
	if !ok {
		lock = &sync.Mutex{}
		s.ops[name] = lock
	}
	return lock
}

func (s *Supervisor) publishState(name string, from, to State, pid, exitCode int, errMsg string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), eventbus.Envelope{
		Topic:  eventbus.TopicServerState,
		Source: "supervisor",
		Payload: eventbus.ServerStateEvent{
			Server:   name,
			OldState: string(from),
			NewState: string(to),
			PID:      pid,
			ExitCode: exitCode,
			Err:      errMsg,
		},
	})
}

func (inst *instance) lastExit() ExitStatus {
	if inst.exit != nil {
		return *inst.exit
	}
	return ExitStatus{Code: -1}
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
