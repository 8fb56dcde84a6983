package logfiles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mcpherd/mcpherd/internal/eventbus"
)

func startEvent(server string) eventbus.ServerStateEvent {
	return eventbus.ServerStateEvent{Server: server, OldState: "stopped", NewState: "starting"}
}

func stopEvent(server string) eventbus.ServerStateEvent {
	return eventbus.ServerStateEvent{Server: server, OldState: "stopping", NewState: "stopped"}
}

func logFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".log") {
			out = append(out, entry.Name())
		}
	}
	return out
}

func TestLinesWrittenToServerFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil)

	svc.HandleState(startEvent("alpha"))
	svc.HandleLine(time.Now(), eventbus.ServerLogEvent{Server: "alpha", Stream: eventbus.StreamStdout, Line: "ready"})
	svc.HandleLine(time.Now(), eventbus.ServerLogEvent{Server: "alpha", Stream: eventbus.StreamStderr, Line: "warn"})
	svc.HandleState(stopEvent("alpha"))

	files := logFiles(t, dir)
	if len(files) != 1 {
		t.Fatalf("files = %v, want one", files)
	}
	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "[stdout] ready") || !strings.Contains(content, "[stderr] warn") {
		t.Fatalf("unexpected content:\n%s", content)
	}
}

func TestLineBeforeStateOpensLazily(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil)

	svc.HandleLine(time.Now(), eventbus.ServerLogEvent{Server: "alpha", Stream: eventbus.StreamStdout, Line: "early"})

	if files := logFiles(t, dir); len(files) != 1 {
		t.Fatalf("files = %v, want one", files)
	}
}

func TestCrashNotedInFile(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil)

	svc.HandleState(startEvent("alpha"))
	svc.HandleState(eventbus.ServerStateEvent{Server: "alpha", OldState: "running", NewState: "crashed", ExitCode: 3})

	files := logFiles(t, dir)
	data, err := os.ReadFile(filepath.Join(dir, files[0]))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "exited unexpectedly with code 3") {
		t.Fatalf("missing crash note:\n%s", data)
	}
}

func TestPerServerRotation(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil, WithLimits(3, 100))

	for i := 0; i < 6; i++ {
		svc.HandleState(startEvent("alpha"))
		svc.HandleState(stopEvent("alpha"))
	}

	files := logFiles(t, dir)
	if len(files) != 3 {
		t.Fatalf("kept %d files, want 3: %v", len(files), files)
	}
}

func TestGlobalRotation(t *testing.T) {
	dir := t.TempDir()
	svc := NewService(dir, nil, WithLimits(10, 4))

	for _, server := range []string{"alpha", "beta", "gamma"} {
		for i := 0; i < 3; i++ {
			svc.HandleState(startEvent(server))
			svc.HandleState(stopEvent(server))
		}
	}

	files := logFiles(t, dir)
	if len(files) > 4 {
		t.Fatalf("kept %d files, want at most 4: %v", len(files), files)
	}
}

func TestServiceConsumesBusEvents(t *testing.T) {
	dir := t.TempDir()
	bus := eventbus.New()
	defer bus.Shutdown()

	svc := NewService(dir, bus)
	svc.Start()
	defer svc.Stop()

	bus.Publish(t.Context(), eventbus.Envelope{
		Topic:   eventbus.TopicServerState,
		Payload: startEvent("alpha"),
	})
	bus.Publish(t.Context(), eventbus.Envelope{
		Topic:   eventbus.TopicServerLog,
		Payload: eventbus.ServerLogEvent{Server: "alpha", Stream: eventbus.StreamStdout, Line: "from bus"},
	})

	deadline := time.After(2 * time.Second)
	for {
		files, err := svc.List("alpha")
		if err != nil {
			t.Fatal(err)
		}
		if len(files) == 1 {
			data, err := os.ReadFile(files[0])
			if err == nil && strings.Contains(string(data), "from bus") {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for bus-driven log write")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
