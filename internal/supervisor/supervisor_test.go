package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mcpherd/mcpherd/internal/eventbus"
	"github.com/mcpherd/mcpherd/internal/registry"
)

const testGrace = 30 * time.Millisecond

type stubDefs map[string]registry.ServerDefinition

func (s stubDefs) Get(_ context.Context, name string) (registry.ServerDefinition, error) {
	def, ok := s[name]
	if !ok {
		return registry.ServerDefinition{}, registry.NotFoundError{Name: name}
	}
	return def, nil
}

type stubProber struct {
	mu   sync.Mutex
	dead map[int]bool
}

func newStubProber() *stubProber {
	return &stubProber{dead: make(map[int]bool)}
}

func (p *stubProber) StartTime(pid int) uint64 {
	return uint64(pid)
}

func (p *stubProber) Alive(pid int, _ uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead[pid]
}

func (p *stubProber) markDead(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead[pid] = true
}

func testDefinition(name string) registry.ServerDefinition {
	return registry.ServerDefinition{
		Name:    name,
		Command: "uv",
		Args:    []string{"run", "server.py"},
		Env:     map[string]string{"PYTHONUNBUFFERED": "1"},
		Enabled: true,
	}
}

func newTestSupervisor(defs stubDefs, launcher Launcher, bus *eventbus.Bus) (*Supervisor, *stubProber) {
	prober := newStubProber()
	sup := New(Options{
		Definitions:   defs,
		Launcher:      launcher,
		Prober:        prober,
		Bus:           bus,
		GraceInterval: testGrace,
	})
	return sup, prober
}

func TestStartReachesRunning(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}

	status := sup.Status("alpha")
	if status.State != StateRunning {
		t.Fatalf("state = %s, want %s", status.State, StateRunning)
	}
	if status.PID == 0 {
		t.Fatal("expected a recorded pid")
	}

	records := launcher.Records()
	if len(records) != 1 {
		t.Fatalf("launches = %d, want 1", len(records))
	}
	rec := records[0]
	if rec.Command != "uv" || len(rec.Args) != 2 {
		t.Fatalf("unexpected launch record %+v", rec)
	}
	if len(rec.Env) != 1 || rec.Env[0] != "PYTHONUNBUFFERED=1" {
		t.Fatalf("unexpected env %v", rec.Env)
	}

	running := sup.ListRunning()
	if len(running) != 1 || running[0] != "alpha" {
		t.Fatalf("running = %v, want [alpha]", running)
	}
}

func TestStartUnknownName(t *testing.T) {
	sup, _ := newTestSupervisor(stubDefs{}, NewMockLauncher(), nil)

	err := sup.Start(context.Background(), "ghost")
	if !registry.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestStartDisabled(t *testing.T) {
	def := testDefinition("alpha")
	def.Enabled = false
	sup, _ := newTestSupervisor(stubDefs{"alpha": def}, NewMockLauncher(), nil)

	if err := sup.Start(context.Background(), "alpha"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestStartTwiceReportsAlreadyRunning(t *testing.T) {
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, NewMockLauncher(), nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := sup.Start(context.Background(), "alpha"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, NewMockLauncher(), nil)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- sup.Start(context.Background(), "alpha")
		}()
	}

	var okCount, alreadyCount int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			okCount++
		case errors.Is(err, ErrAlreadyRunning):
			alreadyCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || alreadyCount != 1 {
		t.Fatalf("ok=%d already=%d, want exactly one of each", okCount, alreadyCount)
	}
}

type exitingLauncher struct {
	*MockLauncher
	status ExitStatus
}

func (l exitingLauncher) Launch(ctx context.Context, spec LaunchSpec) (Handle, error) {
	handle, err := l.MockLauncher.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}
	handle.(*MockHandle).ExitNow(l.status)
	return handle, nil
}

func TestStartFailsWhenChildExitsDuringGrace(t *testing.T) {
	launcher := exitingLauncher{MockLauncher: NewMockLauncher(), status: ExitStatus{Code: 1}}
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	err := sup.Start(context.Background(), "alpha")
	if !IsSpawnFailed(err) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) && spawnErr.ExitCode != 1 {
		t.Fatalf("exit code = %d, want 1", spawnErr.ExitCode)
	}
	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("state = %s, want %s", status.State, StateStopped)
	}
}

func TestStartSpawnError(t *testing.T) {
	launcher := NewMockLauncher()
	launcher.SetError(errors.New("exec format error"))
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	err := sup.Start(context.Background(), "alpha")
	if !IsSpawnFailed(err) {
		t.Fatalf("expected spawn failure, got %v", err)
	}
	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("state = %s, want %s", status.State, StateStopped)
	}
}

func TestStopGraceful(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Stop(context.Background(), "alpha", time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	handle := launcher.Handle("alpha")
	if handle.TerminateCount() != 1 {
		t.Fatalf("terminate count = %d, want 1", handle.TerminateCount())
	}
	if handle.KillCount() != 0 {
		t.Fatalf("kill count = %d, want 0", handle.KillCount())
	}
	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("state = %s, want %s", status.State, StateStopped)
	}
	if running := sup.ListRunning(); len(running) != 0 {
		t.Fatalf("running = %v, want empty", running)
	}
}

func TestStopNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, NewMockLauncher(), nil)

	if err := sup.Stop(context.Background(), "alpha", time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStopTwiceReportsNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, NewMockLauncher(), nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Stop(context.Background(), "alpha", time.Second); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := sup.Stop(context.Background(), "alpha", time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := launcher.Handle("alpha")
	handle.IgnoreTerminate = true

	if err := sup.Stop(context.Background(), "alpha", 50*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if handle.KillCount() != 1 {
		t.Fatalf("kill count = %d, want 1", handle.KillCount())
	}
	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("state = %s, want %s", status.State, StateStopped)
	}
}

func TestStopTimeoutWhenKillIgnored(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := launcher.Handle("alpha")
	handle.IgnoreTerminate = true
	handle.IgnoreKill = true

	err := sup.Stop(context.Background(), "alpha", 50*time.Millisecond)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
}

func TestStopRetryAfterTimeout(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := launcher.Handle("alpha")
	handle.IgnoreTerminate = true
	handle.IgnoreKill = true

	if err := sup.Stop(context.Background(), "alpha", 50*time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}

	// The child finally honors termination; a retried stop must reach it
	// rather than claim nothing is running.
	handle.IgnoreTerminate = false
	if err := sup.Stop(context.Background(), "alpha", time.Second); err != nil {
		t.Fatalf("retried stop: %v", err)
	}
	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("state = %s, want %s", status.State, StateStopped)
	}
}

func TestStopRecordsExitDrainedByStatus(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	handle := launcher.Handle("alpha")

	sup.mu.Lock()
	inst := sup.instances["alpha"]
	inst.state = StateStopping
	sup.mu.Unlock()

	handle.ExitNow(ExitStatus{Code: 7})

	// A status poll drains the exit notification before the in-flight stop
	// gets to it.
	if st := sup.Status("alpha"); st.State != StateStopped {
		t.Fatalf("state = %s, want %s", st.State, StateStopped)
	}

	exit, delivered := <-handle.Done()
	if delivered {
		t.Fatal("exit notification should already be consumed")
	}
	if code := sup.finishStop(inst, exit, delivered); code != 7 {
		t.Fatalf("recorded exit code = %d, want 7", code)
	}
}

func TestRestartWhenStopped(t *testing.T) {
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, NewMockLauncher(), nil)

	if err := sup.Restart(context.Background(), "alpha", time.Second); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if status := sup.Status("alpha"); status.State != StateRunning {
		t.Fatalf("state = %s, want %s", status.State, StateRunning)
	}
}

func TestRestartWhileRunning(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	firstPID := sup.Status("alpha").PID

	if err := sup.Restart(context.Background(), "alpha", time.Second); err != nil {
		t.Fatalf("restart: %v", err)
	}
	status := sup.Status("alpha")
	if status.State != StateRunning {
		t.Fatalf("state = %s, want %s", status.State, StateRunning)
	}
	if status.PID == firstPID {
		t.Fatal("expected a fresh pid after restart")
	}
}

func TestCrashReportedOnceThenStopped(t *testing.T) {
	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	launcher.Handle("alpha").ExitNow(ExitStatus{Code: 3})

	status := sup.Status("alpha")
	if status.State != StateCrashed {
		t.Fatalf("state = %s, want %s", status.State, StateCrashed)
	}
	if status.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", status.ExitCode)
	}

	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("second status state = %s, want %s", status.State, StateStopped)
	}
}

func TestStatusDetectsVanishedProcess(t *testing.T) {
	launcher := NewMockLauncher()
	sup, prober := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, nil)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	prober.markDead(sup.Status("alpha").PID)

	if status := sup.Status("alpha"); status.State != StateCrashed {
		t.Fatalf("state = %s, want %s", status.State, StateCrashed)
	}
	if status := sup.Status("alpha"); status.State != StateStopped {
		t.Fatalf("state = %s, want %s", status.State, StateStopped)
	}
	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("restart after vanish: %v", err)
	}
}

func TestChildOutputPublishedToBus(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	sub := bus.Subscribe(eventbus.TopicServerLog)
	defer sub.Close()

	launcher := NewMockLauncher()
	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, launcher, bus)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}
	launcher.Handle("alpha").EmitStdout("listening on stdio")

	select {
	case env := <-sub.C():
		event, ok := env.Payload.(eventbus.ServerLogEvent)
		if !ok {
			t.Fatalf("unexpected payload %T", env.Payload)
		}
		if event.Server != "alpha" || event.Line != "listening on stdio" || event.Stream != eventbus.StreamStdout {
			t.Fatalf("unexpected event %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log event")
	}
}

func TestStateTransitionsPublishedToBus(t *testing.T) {
	bus := eventbus.New()
	defer bus.Shutdown()
	sub := bus.Subscribe(eventbus.TopicServerState)
	defer sub.Close()

	sup, _ := newTestSupervisor(stubDefs{"alpha": testDefinition("alpha")}, NewMockLauncher(), bus)

	if err := sup.Start(context.Background(), "alpha"); err != nil {
		t.Fatalf("start: %v", err)
	}

	want := []State{StateStarting, StateRunning}
	for _, next := range want {
		select {
		case env := <-sub.C():
			event := env.Payload.(eventbus.ServerStateEvent)
			if event.Server != "alpha" || event.NewState != string(next) {
				t.Fatalf("unexpected transition %+v, want new state %s", event, next)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for transition to %s", next)
		}
	}
}
