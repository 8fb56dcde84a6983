// Package manager is the front-end facade over the registry, the process
// supervisor, the client config adapters, the reconciliation engine, and the
// import pipeline. CLI handlers and daemon endpoints call through here so the
// cross-component rules live in one place, most importantly the guard that a
// definition cannot be deleted while its process is alive.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcpherd/mcpherd/internal/clientconfig"
	"github.com/mcpherd/mcpherd/internal/importer"
	"github.com/mcpherd/mcpherd/internal/reconcile"
	"github.com/mcpherd/mcpherd/internal/registry"
	"github.com/mcpherd/mcpherd/internal/supervisor"
)

// Options wires a Manager. Supervisor may be nil for registry-only callers
// (a CLI editing files while no daemon runs); process operations then fail
// with ErrNoSupervisor and the delete guard is skipped.
type Options struct {
	Store      registry.Store
	Supervisor *supervisor.Supervisor
	Adapters   []clientconfig.Adapter
	ServersDir string
}

// ErrNoSupervisor indicates a process operation was requested without a
// process supervisor attached.
var ErrNoSupervisor = errors.New("manager: no process supervisor attached")

// Manager exposes the full front-end boundary as synchronous calls.
type Manager struct {
	store    registry.Store
	sup      *supervisor.Supervisor
	adapters []clientconfig.Adapter
	engine   *reconcile.Engine
	importer *importer.Importer
}

// New constructs a Manager from its parts.
func New(opts Options) *Manager {
	m := &Manager{
		store:    opts.Store,
		sup:      opts.Supervisor,
		adapters: opts.Adapters,
	}
	var procs reconcile.ProcessSource
	if opts.Supervisor != nil {
		procs = opts.Supervisor
	}
	m.engine = reconcile.New(opts.Store, procs, opts.Adapters)
	m.importer = importer.New(opts.Store, opts.ServersDir)
	return m
}

// List returns all definitions ordered by name.
func (m *Manager) List(ctx context.Context) ([]registry.ServerDefinition, error) {
	return m.store.List(ctx)
}

// Get returns one definition by name.
func (m *Manager) Get(ctx context.Context, name string) (registry.ServerDefinition, error) {
	return m.store.Get(ctx, name)
}

// Create registers a new definition.
func (m *Manager) Create(ctx context.Context, def registry.ServerDefinition) (registry.ServerDefinition, error) {
	return m.store.Create(ctx, def)
}

// Update applies a patch to an existing definition.
func (m *Manager) Update(ctx context.Context, name string, patch registry.Patch) (registry.ServerDefinition, error) {
	return m.store.Update(ctx, name, patch)
}

// Delete removes a definition and propagates the removal to every client
// config. It refuses while the server's process is alive: stop first.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if m.sup != nil && m.sup.Running(name) {
		return fmt.Errorf("%w: %s", registry.ErrProcessStillRunning, name)
	}
	if err := m.store.Delete(ctx, name); err != nil {
		return err
	}

	var errs []error
	for _, adapter := range m.adapters {
		if err := adapter.Remove([]string{name}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Start launches the named server's process.
func (m *Manager) Start(ctx context.Context, name string) error {
	if m.sup == nil {
		return ErrNoSupervisor
	}
	return m.sup.Start(ctx, name)
}

// Stop terminates the named server's process.
func (m *Manager) Stop(ctx context.Context, name string, timeout time.Duration) error {
	if m.sup == nil {
		return ErrNoSupervisor
	}
	return m.sup.Stop(ctx, name, timeout)
}

// Restart stops then starts the named server.
func (m *Manager) Restart(ctx context.Context, name string, timeout time.Duration) error {
	if m.sup == nil {
		return ErrNoSupervisor
	}
	return m.sup.Restart(ctx, name, timeout)
}

// Status reports the runtime state of one server. The name must be
// registered; unknown names fail with NotFound.
func (m *Manager) Status(ctx context.Context, name string) (supervisor.Status, error) {
	if _, err := m.store.Get(ctx, name); err != nil {
		return supervisor.Status{}, err
	}
	if m.sup == nil {
		return supervisor.Status{Name: name, State: supervisor.StateStopped}, nil
	}
	return m.sup.Status(name), nil
}

// ListRunning returns the names with live processes, sorted.
func (m *Manager) ListRunning() []string {
	if m.sup == nil {
		return nil
	}
	return m.sup.ListRunning()
}

// Reconcile runs one reconciliation pass over all client configs.
func (m *Manager) Reconcile(ctx context.Context, dryRun bool) (reconcile.Report, error) {
	return m.engine.Reconcile(ctx, dryRun)
}

// Import registers an external artifact. It does not start the process and
// does not touch client configs; reconcile is the explicit follow-up.
func (m *Manager) Import(ctx context.Context, sourcePath string, opts importer.Options) (registry.ServerDefinition, error) {
	return m.importer.Import(ctx, sourcePath, opts)
}

// Close releases the registry store.
func (m *Manager) Close() error {
	return m.store.Close()
}
