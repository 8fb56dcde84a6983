package reconcile

import "time"

// EntryState classifies one registered server against one client config.
type EntryState string

const (
	EntryInSync  EntryState = "in_sync"
	EntryMissing EntryState = "missing"
	EntryStale   EntryState = "stale"
)

// MismatchKind classifies drift between the registry's enabled flag and the
// actual process table. Mismatches are reported, never auto-corrected.
type MismatchKind string

const (
	MismatchEnabledNotRunning MismatchKind = "enabled_not_running"
	MismatchRunningDisabled   MismatchKind = "running_disabled"
)

// EntryStatus is the classification of one registered server in one client.
type EntryStatus struct {
	Name  string     `json:"name"`
	State EntryState `json:"state"`
}

// ClientReport describes one client config file's drift from the registry.
type ClientReport struct {
	Client  string        `json:"client"`
	Path    string        `json:"path"`
	Entries []EntryStatus `json:"entries,omitempty"`
	// Orphans are foreign entry names present in the client file but not
	// in the registry. They are never touched.
	Orphans []string `json:"orphans,omitempty"`
	// Applied lists the names written during this pass.
	Applied []string `json:"applied,omitempty"`
	// Error records a read or write failure for this client; other
	// clients are still processed.
	Error string `json:"error,omitempty"`
}

// ProcessMismatch reports a server whose enabled flag disagrees with the
// process table.
type ProcessMismatch struct {
	Name string       `json:"name"`
	Kind MismatchKind `json:"kind"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	GeneratedAt time.Time         `json:"generated_at"`
	DryRun      bool              `json:"dry_run"`
	Clients     []ClientReport    `json:"clients"`
	Processes   []ProcessMismatch `json:"processes,omitempty"`
}

// Clean reports whether the pass left no unresolved config drift and hit no
// failures. Entry states record what the pass found, so drift that was
// corrected (listed in Applied) does not make the report dirty. Process
// mismatches are informational and never do.
func (r Report) Clean() bool {
	for _, client := range r.Clients {
		if client.Error != "" {
			return false
		}
		applied := make(map[string]bool, len(client.Applied))
		for _, name := range client.Applied {
			applied[name] = true
		}
		for _, entry := range client.Entries {
			if entry.State != EntryInSync && !applied[entry.Name] {
				return false
			}
		}
	}
	return true
}

// Counts returns the totals of missing and stale entries across all clients.
func (r Report) Counts() (missing, stale int) {
	for _, client := range r.Clients {
		for _, entry := range client.Entries {
			switch entry.State {
			case EntryMissing:
				missing++
			case EntryStale:
				stale++
			}
		}
	}
	return missing, stale
}
