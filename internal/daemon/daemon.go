// Package daemon runs the long-lived mcpherdd process: it owns the process
// supervisor (spawned children die with the daemon, so process control lives
// here rather than in the short-lived CLI), persists server output to log
// files, and serves the front-end HTTP API on a Unix socket.
package daemon

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mcpherd/mcpherd/internal/clientconfig"
	"github.com/mcpherd/mcpherd/internal/config"
	"github.com/mcpherd/mcpherd/internal/eventbus"
	"github.com/mcpherd/mcpherd/internal/logfiles"
	"github.com/mcpherd/mcpherd/internal/manager"
	"github.com/mcpherd/mcpherd/internal/registry"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// Registry backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options configures the daemon.
type Options struct {
	// Home overrides the data directory (default from the environment).
	Home string
	// Backend selects the registry persistence backend (default file).
	Backend string
	// Adapters overrides the client config adapters (default: all
	// supported clients at their conventional paths).
	Adapters []clientconfig.Adapter
	// GraceInterval overrides the supervisor start grace interval.
	GraceInterval time.Duration
	// Launcher overrides how child processes are spawned.
	Launcher supervisor.Launcher
	// Prober overrides how child liveness is checked.
	Prober supervisor.Prober
	// StopTimeout bounds graceful shutdown of child processes on exit.
	StopTimeout time.Duration
}

// Daemon wires the long-lived services together.
type Daemon struct {
	paths    config.Paths
	store    registry.Store
	bus      *eventbus.Bus
	sup      *supervisor.Supervisor
	logs     *logfiles.Service
	manager  *manager.Manager
	http     *httpService
	release  func()
	stopTime time.Duration

	startedAt time.Time
	logger    *log.Logger
}

// New constructs a daemon. Nothing is started until Run.
func New(opts Options) (*Daemon, error) {
	home := opts.Home
	if home == "" {
		home = config.Home()
	}
	paths, err := config.EnsureDirs(home)
	if err != nil {
		return nil, fmt.Errorf("daemon: prepare home: %w", err)
	}

	var store registry.Store
	switch opts.Backend {
	case "", BackendFile:
		store = registry.NewFileStore(paths.Registry)
	case BackendSQLite:
		store, err = registry.OpenSQLiteStore(paths.RegistryDB)
		if err != nil {
			return nil, fmt.Errorf("daemon: open registry: %w", err)
		}
	default:
		return nil, fmt.Errorf("daemon: unknown registry backend %q", opts.Backend)
	}

	bus := eventbus.New()
	sup := supervisor.New(supervisor.Options{
		Definitions:   store,
		Launcher:      opts.Launcher,
		Prober:        opts.Prober,
		Bus:           bus,
		GraceInterval: opts.GraceInterval,
	})

	adapters := opts.Adapters
	if adapters == nil {
		adapters = clientconfig.DefaultAdapters()
	}

	mgr := manager.New(manager.Options{
		Store:      store,
		Supervisor: sup,
		Adapters:   adapters,
		ServersDir: paths.ServersDir,
	})

	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = supervisor.DefaultStopTimeout
	}

	d := &Daemon{
		paths:    paths,
		store:    store,
		bus:      bus,
		sup:      sup,
		logs:     logfiles.NewService(paths.Logs, bus),
		manager:  mgr,
		stopTime: stopTimeout,
		logger:   log.Default(),
	}
	d.http = newHTTPService(paths.Socket, d)
	return d, nil
}

// SocketPath returns the Unix socket the API listens on.
func (d *Daemon) SocketPath() string {
	return d.paths.Socket
}

// Run starts all services and blocks until ctx is cancelled or Shutdown is
// requested through the API. Child processes are stopped on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	release, err := acquireLock(d.paths.Lock)
	if err != nil {
		return err
	}
	d.release = release
	d.startedAt = time.Now().UTC()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.http.requestShutdown = cancel

	d.logs.Start()
	if err := d.http.Start(runCtx); err != nil {
		d.cleanup()
		return err
	}
	d.logger.Printf("[daemon] listening on %s", d.paths.Socket)

	<-runCtx.Done()

	d.logger.Printf("[daemon] shutting down")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), d.stopTime+supervisor.DefaultStopTimeout)
	defer stopCancel()
	if err := d.sup.StopAll(stopCtx, d.stopTime); err != nil {
		d.logger.Printf("[daemon] stop children: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := d.http.Shutdown(shutdownCtx); err != nil {
		d.logger.Printf("[daemon] shutdown api: %v", err)
	}

	d.cleanup()
	return nil
}

func (d *Daemon) cleanup() {
	d.logs.Stop()
	d.bus.Shutdown()
	if err := d.store.Close(); err != nil {
		d.logger.Printf("[daemon] close registry: %v", err)
	}
	if d.release != nil {
		d.release()
		d.release = nil
	}
}
