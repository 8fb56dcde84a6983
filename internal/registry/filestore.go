package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/mcpherd/mcpherd/internal/atomicfile"
)

// FileStore persists definitions as a JSON object mapping server name to
// definition fields. Top-level keys that do not look like definitions are
// foreign and survive every write untouched.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a store backed by the JSON file at path. The file is
// created lazily on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileState struct {
	defs    map[string]ServerDefinition
	foreign map[string]json.RawMessage
}

func (s *FileStore) load() (fileState, error) {
	state := fileState{
		defs:    make(map[string]ServerDefinition),
		foreign: make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("registry: read %s: %w", s.path, err)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return state, fmt.Errorf("registry: parse %s: %w", s.path, err)
	}

	for key, raw := range top {
		if !looksLikeDefinition(key, raw) {
			state.foreign[key] = raw
			continue
		}
		var def ServerDefinition
		if err := json.Unmarshal(raw, &def); err != nil {
			return state, fmt.Errorf("registry: parse entry %s: %w", key, err)
		}
		def.Name = key
		state.defs[key] = def
	}
	return state, nil
}

// looksLikeDefinition reports whether a top-level value is one of ours: a
// legal server name mapping to an object carrying a command field.
func looksLikeDefinition(key string, raw json.RawMessage) bool {
	if !namePattern.MatchString(key) {
		return false
	}
	var probe struct {
		Command *string `json:"command"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	return probe.Command != nil
}

func (s *FileStore) save(state fileState) error {
	top := make(map[string]json.RawMessage, len(state.defs)+len(state.foreign))
	for key, raw := range state.foreign {
		top[key] = raw
	}
	for name, def := range state.defs {
		raw, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("registry: encode %s: %w", name, err)
		}
		top[name] = raw
	}

	data, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: encode registry: %w", err)
	}
	data = append(data, '\n')

	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", s.path, err)
	}
	return nil
}

// List returns all definitions ordered by name.
func (s *FileStore) List(ctx context.Context) ([]ServerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(state.defs))
	for name := range state.defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ServerDefinition, 0, len(names))
	for _, name := range names {
		out = append(out, state.defs[name].Clone())
	}
	return out, nil
}

// Get returns the definition for name.
func (s *FileStore) Get(ctx context.Context, name string) (ServerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return ServerDefinition{}, err
	}
	def, ok := state.defs[name]
	if !ok {
		return ServerDefinition{}, NotFoundError{Name: name}
	}
	return def.Clone(), nil
}

// Create validates and persists a new definition.
func (s *FileStore) Create(ctx context.Context, def ServerDefinition) (ServerDefinition, error) {
	if err := Validate(def); err != nil {
		return ServerDefinition{}, err
	}
	def = Normalize(def)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return ServerDefinition{}, err
	}
	if _, exists := state.defs[def.Name]; exists {
		return ServerDefinition{}, fmt.Errorf("%w: %s", ErrDuplicateName, def.Name)
	}
	state.defs[def.Name] = def.Clone()
	if err := s.save(state); err != nil {
		return ServerDefinition{}, err
	}
	return def, nil
}

// Update applies a patch to an existing definition.
func (s *FileStore) Update(ctx context.Context, name string, patch Patch) (ServerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return ServerDefinition{}, err
	}
	def, ok := state.defs[name]
	if !ok {
		return ServerDefinition{}, NotFoundError{Name: name}
	}

	updated := patch.Apply(def)
	if err := Validate(updated); err != nil {
		return ServerDefinition{}, err
	}
	state.defs[name] = updated.Clone()
	if err := s.save(state); err != nil {
		return ServerDefinition{}, err
	}
	return updated, nil
}

// Delete removes a definition.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := state.defs[name]; !ok {
		return NotFoundError{Name: name}
	}
	delete(state.defs, name)
	return s.save(state)
}

// Close is a no-op for the file-backed store.
func (s *FileStore) Close() error { return nil }

var _ Store = (*FileStore)(nil)
