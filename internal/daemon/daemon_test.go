package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	apihttp "github.com/mcpherd/mcpherd/internal/api/http"
	"github.com/mcpherd/mcpherd/internal/clientconfig"
	"github.com/mcpherd/mcpherd/internal/reconcile"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// liveProber treats every launched pid as alive so mock pids are not
// mistaken for vanished processes.
type liveProber struct{}

func (liveProber) StartTime(pid int) uint64 { return uint64(pid) }
func (liveProber) Alive(int, uint64) bool   { return true }

type testDaemon struct {
	daemon   *Daemon
	launcher *supervisor.MockLauncher
	client   *http.Client
	home     string
	cancel   context.CancelFunc
	done     chan error
	exited   bool
}

func startTestDaemon(t *testing.T) *testDaemon {
	t.Helper()

	home := t.TempDir()
	launcher := supervisor.NewMockLauncher()
	d, err := New(Options{
		Home:          home,
		Launcher:      launcher,
		Prober:        liveProber{},
		GraceInterval: 20 * time.Millisecond,
		Adapters: []clientconfig.Adapter{
			clientconfig.NewCursorAdapter(filepath.Join(home, "cursor.json")),
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	socket := d.SocketPath()
	waitFor(t, func() bool {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", socket)
			},
		},
	}

	td := &testDaemon{daemon: d, launcher: launcher, client: client, home: home, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		td.waitExit(t)
	})
	return td
}

// waitExit blocks until the daemon's Run returns. Safe to call more than
// once.
func (td *testDaemon) waitExit(t *testing.T) {
	t.Helper()
	if td.exited {
		return
	}
	select {
	case err := <-td.done:
		td.exited = true
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("daemon did not shut down")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func (td *testDaemon) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()

	var reqBody bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&reqBody).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, "http://mcpherd"+path, &reqBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := td.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	} else if resp.StatusCode >= 400 {
		if errOut, ok := out.(*apihttp.ErrorResponse); ok {
			if err := json.NewDecoder(resp.Body).Decode(errOut); err != nil {
				t.Fatalf("%s %s: decode error response: %v", method, path, err)
			}
		}
	}
	return resp.StatusCode
}

func testServer(name string) apihttp.Server {
	return apihttp.Server{
		Name:    name,
		Command: "uv",
		Args:    []string{"run", "server.py"},
		Env:     map[string]string{"PYTHONUNBUFFERED": "1"},
		Enabled: true,
	}
}

func TestDaemonServerCRUD(t *testing.T) {
	td := startTestDaemon(t)

	var created apihttp.Server
	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("weather"), &created); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if created.Name != "weather" || created.Source == "" {
		t.Fatalf("unexpected created server: %+v", created)
	}

	var list apihttp.ServerList
	if code := td.do(t, http.MethodGet, "/v1/servers", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(list.Servers) != 1 || list.Servers[0].Name != "weather" {
		t.Fatalf("unexpected list: %+v", list)
	}

	enabled := false
	var updated apihttp.Server
	code := td.do(t, http.MethodPatch, "/v1/servers/weather",
		apihttp.UpdateServerRequest{Enabled: &enabled}, &updated)
	if code != http.StatusOK {
		t.Fatalf("update status = %d", code)
	}
	if updated.Enabled {
		t.Fatal("update did not disable the server")
	}

	if code := td.do(t, http.MethodDelete, "/v1/servers/weather", nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete status = %d", code)
	}

	var apiErr apihttp.ErrorResponse
	if code := td.do(t, http.MethodGet, "/v1/servers/weather", nil, &apiErr); code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", code)
	}
	if apiErr.Kind != apihttp.KindNotFound {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindNotFound)
	}
}

func TestDaemonDuplicateNameConflict(t *testing.T) {
	td := startTestDaemon(t)

	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("echo"), nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	var apiErr apihttp.ErrorResponse
	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("echo"), &apiErr); code != http.StatusConflict {
		t.Fatalf("duplicate create status = %d", code)
	}
	if apiErr.Kind != apihttp.KindDuplicateName {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindDuplicateName)
	}
}

func TestDaemonProcessLifecycle(t *testing.T) {
	td := startTestDaemon(t)

	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("weather"), nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}

	var status apihttp.ProcessStatus
	if code := td.do(t, http.MethodPost, "/v1/servers/weather/start", nil, &status); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if status.State != "running" || status.PID == 0 {
		t.Fatalf("unexpected status after start: %+v", status)
	}

	var running apihttp.RunningList
	if code := td.do(t, http.MethodGet, "/v1/processes", nil, &running); code != http.StatusOK {
		t.Fatalf("processes status = %d", code)
	}
	if len(running.Names) != 1 || running.Names[0] != "weather" {
		t.Fatalf("unexpected running list: %+v", running)
	}

	var apiErr apihttp.ErrorResponse
	if code := td.do(t, http.MethodPost, "/v1/servers/weather/start", nil, &apiErr); code != http.StatusConflict {
		t.Fatalf("second start status = %d", code)
	}
	if apiErr.Kind != apihttp.KindAlreadyRunning {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindAlreadyRunning)
	}

	// Deleting a running server must be refused.
	apiErr = apihttp.ErrorResponse{}
	if code := td.do(t, http.MethodDelete, "/v1/servers/weather", nil, &apiErr); code != http.StatusConflict {
		t.Fatalf("delete while running status = %d", code)
	}
	if apiErr.Kind != apihttp.KindProcessStillRunning {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindProcessStillRunning)
	}

	if code := td.do(t, http.MethodPost, "/v1/servers/weather/stop", apihttp.StopRequest{TimeoutSeconds: 1}, &status); code != http.StatusOK {
		t.Fatalf("stop status = %d", code)
	}
	if status.State != "stopped" {
		t.Fatalf("state after stop = %q", status.State)
	}

	apiErr = apihttp.ErrorResponse{}
	if code := td.do(t, http.MethodPost, "/v1/servers/weather/stop", nil, &apiErr); code != http.StatusConflict {
		t.Fatalf("second stop status = %d", code)
	}
	if apiErr.Kind != apihttp.KindNotRunning {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindNotRunning)
	}
}

func TestDaemonStartUnknownServer(t *testing.T) {
	td := startTestDaemon(t)

	var apiErr apihttp.ErrorResponse
	if code := td.do(t, http.MethodPost, "/v1/servers/ghost/start", nil, &apiErr); code != http.StatusNotFound {
		t.Fatalf("start unknown status = %d", code)
	}
	if apiErr.Kind != apihttp.KindNotFound {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindNotFound)
	}
}

func TestDaemonReconcileEndpoint(t *testing.T) {
	td := startTestDaemon(t)

	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("weather"), nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}

	var report reconcile.Report
	if code := td.do(t, http.MethodPost, "/v1/reconcile", apihttp.ReconcileRequest{DryRun: true}, &report); code != http.StatusOK {
		t.Fatalf("dry-run reconcile status = %d", code)
	}
	if !report.DryRun {
		t.Fatal("report does not record dry run")
	}
	missing, _ := report.Counts()
	if missing != 1 {
		t.Fatalf("dry-run missing count = %d, want 1", missing)
	}
	if _, err := os.Stat(filepath.Join(td.home, "cursor.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run touched the client config: %v", err)
	}

	report = reconcile.Report{}
	if code := td.do(t, http.MethodPost, "/v1/reconcile", apihttp.ReconcileRequest{}, &report); code != http.StatusOK {
		t.Fatalf("reconcile status = %d", code)
	}
	data, err := os.ReadFile(filepath.Join(td.home, "cursor.json"))
	if err != nil {
		t.Fatalf("client config not written: %v", err)
	}
	var doc map[string]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["mcpServers"]["weather"]; !ok {
		t.Fatalf("client config missing entry: %s", data)
	}
}

func TestDaemonInfoEndpoint(t *testing.T) {
	td := startTestDaemon(t)

	var info apihttp.DaemonInfo
	if code := td.do(t, http.MethodGet, "/v1/daemon", nil, &info); code != http.StatusOK {
		t.Fatalf("daemon info status = %d", code)
	}
	if info.PID != os.Getpid() {
		t.Fatalf("info pid = %d, want %d", info.PID, os.Getpid())
	}
	if info.Version == "" || info.StartedAt.IsZero() {
		t.Fatalf("incomplete daemon info: %+v", info)
	}
}

func TestDaemonShutdownEndpoint(t *testing.T) {
	td := startTestDaemon(t)

	if code := td.do(t, http.MethodPost, "/v1/daemon/shutdown", nil, nil); code != http.StatusAccepted {
		t.Fatalf("shutdown status = %d", code)
	}
	td.waitExit(t)
}

func TestDaemonShutdownStopsChildren(t *testing.T) {
	td := startTestDaemon(t)

	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("weather"), nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}
	if code := td.do(t, http.MethodPost, "/v1/servers/weather/start", nil, nil); code != http.StatusOK {
		t.Fatalf("start status = %d", code)
	}

	td.cancel()
	td.waitExit(t)

	if td.launcher.Handle("weather").TerminateCount() == 0 {
		t.Fatal("child was not terminated on shutdown")
	}
}

func TestDaemonDeleteReportsConfigFailure(t *testing.T) {
	td := startTestDaemon(t)

	if code := td.do(t, http.MethodPost, "/v1/servers", testServer("weather"), nil); code != http.StatusCreated {
		t.Fatalf("create status = %d", code)
	}

	// A directory where the client config file should be makes the
	// adapter unable to read it back during delete propagation.
	if err := os.Mkdir(filepath.Join(td.home, "cursor.json"), 0o755); err != nil {
		t.Fatal(err)
	}

	var apiErr apihttp.ErrorResponse
	if code := td.do(t, http.MethodDelete, "/v1/servers/weather", nil, &apiErr); code != http.StatusInternalServerError {
		t.Fatalf("delete status = %d", code)
	}
	if apiErr.Kind != apihttp.KindConfigUnreadable {
		t.Fatalf("error kind = %q, want %q", apiErr.Kind, apihttp.KindConfigUnreadable)
	}

	// The registry delete itself went through.
	if code := td.do(t, http.MethodGet, "/v1/servers/weather", nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", code)
	}
}

func TestDaemonRefusesSecondInstance(t *testing.T) {
	td := startTestDaemon(t)

	second, err := New(Options{Home: td.home, Launcher: supervisor.NewMockLauncher()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Run err = %v, want ErrAlreadyRunning", err)
	}
}

func TestDaemonRemovesSocketOnExit(t *testing.T) {
	td := startTestDaemon(t)
	socket := td.daemon.SocketPath()

	td.cancel()
	td.waitExit(t)

	if _, err := os.Stat(socket); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("socket still present after exit: %v", err)
	}
}

func TestDaemonSQLiteBackend(t *testing.T) {
	home := t.TempDir()
	launcher := supervisor.NewMockLauncher()
	d, err := New(Options{
		Home:     home,
		Backend:  BackendSQLite,
		Launcher: launcher,
		Adapters: []clientconfig.Adapter{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	socket := d.SocketPath()
	waitFor(t, func() bool {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var dialer net.Dialer
				return dialer.DialContext(ctx, "unix", socket)
			},
		},
	}
	body, _ := json.Marshal(testServer("weather"))
	resp, err := client.Post("http://mcpherd/v1/servers", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create over sqlite backend: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
}

func TestDaemonUnknownBackend(t *testing.T) {
	_, err := New(Options{Home: t.TempDir(), Backend: "etcd"})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), `unknown registry backend "etcd"`) {
		t.Fatalf("err = %v", err)
	}
}
