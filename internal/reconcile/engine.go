// Package reconcile compares the server registry, the process table, and
// each client configuration file, and drives the client files toward the
// registry's view. The registry is canonical: client files are derived
// projections, never read back as authority. Processes are never started or
// stopped here; drift between the enabled flag and the process table is
// reported for the operator to act on.
package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcpherd/mcpherd/internal/clientconfig"
	"github.com/mcpherd/mcpherd/internal/registry"
)

// DefinitionLister exposes the registry snapshot the engine works from.
type DefinitionLister interface {
	List(ctx context.Context) ([]registry.ServerDefinition, error)
}

// ProcessSource answers whether a named server currently has a live process.
type ProcessSource interface {
	Running(name string) bool
}

// Engine performs reconciliation passes. Passes are serialized; concurrent
// callers queue rather than interleave file writes.
type Engine struct {
	store    DefinitionLister
	procs    ProcessSource
	adapters []clientconfig.Adapter

	mu sync.Mutex
}

// New constructs an engine over the given registry, process source, and
// client adapters. procs may be nil when no process table is available, in
// which case process drift is not reported.
func New(store DefinitionLister, procs ProcessSource, adapters []clientconfig.Adapter) *Engine {
	return &Engine{store: store, procs: procs, adapters: adapters}
}

// Reconcile runs one pass. With dryRun true nothing is written; the report
// describes what a real pass would do. Per-client failures are collected in
// the report rather than aborting the remaining clients.
func (e *Engine) Reconcile(ctx context.Context, dryRun bool) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defs, err := e.store.List(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		GeneratedAt: time.Now().UTC(),
		DryRun:      dryRun,
		Clients:     make([]ClientReport, 0, len(e.adapters)),
	}

	for _, adapter := range e.adapters {
		report.Clients = append(report.Clients, e.reconcileClient(adapter, defs, dryRun))
	}

	report.Processes = e.classifyProcesses(defs)
	return report, nil
}

func (e *Engine) reconcileClient(adapter clientconfig.Adapter, defs []registry.ServerDefinition, dryRun bool) ClientReport {
	client := ClientReport{
		Client: adapter.Client(),
		Path:   adapter.Path(),
	}

	current, err := adapter.Read()
	if err != nil {
		client.Error = err.Error()
		return client
	}
	byName := make(map[string]clientconfig.Entry, len(current))
	for _, entry := range current {
		byName[entry.Name] = entry
	}

	registered := make(map[string]struct{}, len(defs))
	var pending []clientconfig.Entry
	for _, def := range defs {
		registered[def.Name] = struct{}{}
		projected := adapter.Project(def)

		status := EntryStatus{Name: def.Name, State: EntryInSync}
		existing, ok := byName[def.Name]
		switch {
		case !ok:
			status.State = EntryMissing
		case !existing.EquivalentTo(projected):
			status.State = EntryStale
		}
		if status.State != EntryInSync {
			pending = append(pending, projected)
		}
		client.Entries = append(client.Entries, status)
	}

	for _, entry := range current {
		if _, ok := registered[entry.Name]; !ok {
			client.Orphans = append(client.Orphans, entry.Name)
		}
	}
	sort.Strings(client.Orphans)

	if dryRun || len(pending) == 0 {
		return client
	}

	if err := adapter.Write(pending); err != nil {
		client.Error = err.Error()
		return client
	}
	for _, entry := range pending {
		client.Applied = append(client.Applied, entry.Name)
	}
	sort.Strings(client.Applied)
	return client
}

func (e *Engine) classifyProcesses(defs []registry.ServerDefinition) []ProcessMismatch {
	if e.procs == nil {
		return nil
	}
	var mismatches []ProcessMismatch
	for _, def := range defs {
		running := e.procs.Running(def.Name)
		switch {
		case def.Enabled && !running:
			mismatches = append(mismatches, ProcessMismatch{Name: def.Name, Kind: MismatchEnabledNotRunning})
		case !def.Enabled && running:
			mismatches = append(mismatches, ProcessMismatch{Name: def.Name, Kind: MismatchRunningDisabled})
		}
	}
	return mismatches
}
