// Package clientconfig translates registered unit servers into the native
// JSON configuration files of external client applications. Each adapter owns
// exactly the entries whose keys correspond to registered names; every other
// key in a client's file, top-level or inside an owned entry, is preserved
// untouched across writes.
package clientconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/mcpherd/mcpherd/internal/atomicfile"
	"github.com/mcpherd/mcpherd/internal/registry"
)

// Adapter reads and writes one client's configuration file.
type Adapter interface {
	// Client is a stable identifier such as "claude-desktop".
	Client() string
	// Path is the absolute location of the client's config file.
	Path() string
	// Read returns all entries in the file's server section. A missing
	// file yields an empty slice.
	Read() ([]Entry, error)
	// Project maps a definition to this client's entry shape. Pure.
	Project(def registry.ServerDefinition) Entry
	// Write merges the given entries into the file, replacing only the
	// section keys they name. The replace is atomic.
	Write(entries []Entry) error
	// Remove deletes the named entries from the file's server section.
	// Unknown names are ignored.
	Remove(names []string) error
}

// fileAdapter implements Adapter for the common shape shared by all
// supported clients: a JSON object with a well-known section key mapping
// server name to launch fields.
type fileAdapter struct {
	client      string
	path        string
	sectionKey  string
	includeType bool
}

// NewClaudeDesktopAdapter targets Claude Desktop's claude_desktop_config.json.
func NewClaudeDesktopAdapter(path string) Adapter {
	return &fileAdapter{client: "claude-desktop", path: path, sectionKey: "mcpServers"}
}

// NewCursorAdapter targets Cursor's mcp.json.
func NewCursorAdapter(path string) Adapter {
	return &fileAdapter{client: "cursor", path: path, sectionKey: "mcpServers"}
}

// NewVSCodeAdapter targets VS Code's mcp.json, which keys servers under
// "servers" and records an explicit transport type.
func NewVSCodeAdapter(path string) Adapter {
	return &fileAdapter{client: "vscode", path: path, sectionKey: "servers", includeType: true}
}

func (a *fileAdapter) Client() string { return a.client }

func (a *fileAdapter) Path() string { return a.path }

func (a *fileAdapter) Project(def registry.ServerDefinition) Entry {
	entry := Entry{
		Name:    def.Name,
		Command: def.Command,
		Args:    append([]string(nil), def.Args...),
	}
	if len(def.Env) > 0 {
		entry.Env = make(map[string]string, len(def.Env))
		for k, v := range def.Env {
			entry.Env[k] = v
		}
	}
	if a.includeType {
		entry.Type = def.Transport
		if entry.Type == "" {
			entry.Type = registry.TransportStdio
		}
	}
	return entry
}

func (a *fileAdapter) Read() ([]Entry, error) {
	state, err := a.load()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(state.section))
	for name, raw := range state.section {
		entry, err := unmarshalEntry(name, raw)
		if err != nil {
			return nil, &UnreadableError{Client: a.client, Path: a.path, Err: fmt.Errorf("entry %q: %w", name, err)}
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (a *fileAdapter) Write(entries []Entry) error {
	state, err := a.load()
	if err != nil {
		return err
	}

	for _, entry := range entries {
		// Keep any unrecognized fields the client stored on an entry
		// it already has for this name.
		if existing, ok := state.section[entry.Name]; ok && len(entry.Extra) == 0 {
			if parsed, err := unmarshalEntry(entry.Name, existing); err == nil {
				entry.Extra = parsed.Extra
			}
		}
		raw, err := entry.marshal()
		if err != nil {
			return &WriteError{Client: a.client, Path: a.path, Err: err}
		}
		state.section[entry.Name] = raw
	}

	return a.save(state)
}

func (a *fileAdapter) Remove(names []string) error {
	state, err := a.load()
	if err != nil {
		return err
	}

	changed := false
	for _, name := range names {
		if _, ok := state.section[name]; ok {
			delete(state.section, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return a.save(state)
}

type fileState struct {
	// root is the document minus the server section.
	root    map[string]json.RawMessage
	section map[string]json.RawMessage
}

func (a *fileAdapter) load() (*fileState, error) {
	state := &fileState{
		root:    make(map[string]json.RawMessage),
		section: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return state, nil
		}
		return nil, &UnreadableError{Client: a.client, Path: a.path, Err: err}
	}
	if len(data) == 0 {
		return state, nil
	}

	if err := json.Unmarshal(data, &state.root); err != nil {
		return nil, &UnreadableError{Client: a.client, Path: a.path, Err: err}
	}
	if raw, ok := state.root[a.sectionKey]; ok {
		if err := json.Unmarshal(raw, &state.section); err != nil {
			return nil, &UnreadableError{Client: a.client, Path: a.path, Err: fmt.Errorf("section %q: %w", a.sectionKey, err)}
		}
		delete(state.root, a.sectionKey)
	}
	return state, nil
}

func (a *fileAdapter) save(state *fileState) error {
	doc := make(map[string]json.RawMessage, len(state.root)+1)
	for k, v := range state.root {
		doc[k] = v
	}
	sectionRaw, err := json.Marshal(state.section)
	if err != nil {
		return &WriteError{Client: a.client, Path: a.path, Err: err}
	}
	doc[a.sectionKey] = sectionRaw

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &WriteError{Client: a.client, Path: a.path, Err: err}
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return &WriteError{Client: a.client, Path: a.path, Err: err}
	}
	if err := atomicfile.WriteFile(a.path, data, 0o644); err != nil {
		return &WriteError{Client: a.client, Path: a.path, Err: err}
	}
	return nil
}
