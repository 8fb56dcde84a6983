// Package importer ingests externally authored unit-server artifacts into
// the registry. The artifact is copied into managed storage so the user's
// original file can move or disappear without breaking the server. Importing
// only registers: it never starts a process and never touches client configs.
package importer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mcpherd/mcpherd/internal/registry"
)

// Store is the registry surface the importer needs.
type Store interface {
	Get(ctx context.Context, name string) (registry.ServerDefinition, error)
	Create(ctx context.Context, def registry.ServerDefinition) (registry.ServerDefinition, error)
}

// Options adjusts a single import.
type Options struct {
	// Name overrides the name derived from the artifact filename.
	Name string
}

// Importer validates and registers unit-server artifacts.
type Importer struct {
	store      Store
	serversDir string
}

// New constructs an importer that copies artifacts under serversDir.
func New(store Store, serversDir string) *Importer {
	return &Importer{store: store, serversDir: serversDir}
}

// Import registers the artifact at sourcePath. Recognized artifacts are
// Python and JavaScript entry-point files, executables, and YAML manifests
// describing a server explicitly.
func (imp *Importer) Import(ctx context.Context, sourcePath string, opts Options) (registry.ServerDefinition, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return registry.ServerDefinition{}, &InvalidArtifactError{Path: sourcePath, Reason: "no such file"}
		}
		return registry.ServerDefinition{}, fmt.Errorf("importer: stat %s: %w", sourcePath, err)
	}
	if info.IsDir() {
		return registry.ServerDefinition{}, &InvalidArtifactError{Path: sourcePath, Reason: "is a directory"}
	}

	switch strings.ToLower(filepath.Ext(sourcePath)) {
	case ".yaml", ".yml":
		return imp.importManifest(ctx, sourcePath, opts)
	default:
		return imp.importArtifact(ctx, sourcePath, info.Mode(), opts)
	}
}

func (imp *Importer) importArtifact(ctx context.Context, sourcePath string, mode os.FileMode, opts Options) (registry.ServerDefinition, error) {
	kind, err := classifyArtifact(sourcePath, mode)
	if err != nil {
		return registry.ServerDefinition{}, err
	}

	name := opts.Name
	if name == "" {
		name = deriveName(sourcePath)
	}
	if err := imp.checkCollision(ctx, name); err != nil {
		return registry.ServerDefinition{}, err
	}

	destDir := filepath.Join(imp.serversDir, name)
	destPath := filepath.Join(destDir, filepath.Base(sourcePath))
	if err := copyArtifact(sourcePath, destPath, mode); err != nil {
		return registry.ServerDefinition{}, err
	}

	def := registry.ServerDefinition{
		Name:       name,
		WorkingDir: destDir,
		Enabled:    true,
		Source:     registry.SourceImported,
	}
	switch kind {
	case artifactPython:
		def.Command = "python3"
		def.Args = []string{destPath}
	case artifactNode:
		def.Command = "node"
		def.Args = []string{destPath}
	case artifactExecutable:
		def.Command = destPath
	}

	created, err := imp.store.Create(ctx, def)
	if err != nil {
		_ = os.RemoveAll(destDir)
		return registry.ServerDefinition{}, err
	}
	return created, nil
}

// manifest is the explicit server description accepted as a YAML artifact.
type manifest struct {
	Name       string            `yaml:"name"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	Entrypoint string            `yaml:"entrypoint"`
	Enabled    *bool             `yaml:"enabled"`
}

func (imp *Importer) importManifest(ctx context.Context, sourcePath string, opts Options) (registry.ServerDefinition, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return registry.ServerDefinition{}, &InvalidArtifactError{Path: sourcePath, Reason: err.Error()}
	}
	var mf manifest
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return registry.ServerDefinition{}, &InvalidArtifactError{Path: sourcePath, Reason: fmt.Sprintf("invalid manifest: %v", err)}
	}
	if mf.Entrypoint == "" && mf.Command == "" {
		return registry.ServerDefinition{}, &InvalidArtifactError{Path: sourcePath, Reason: "manifest needs an entrypoint or a command"}
	}

	name := opts.Name
	if name == "" {
		name = mf.Name
	}
	if name == "" {
		name = deriveName(sourcePath)
	}
	name = sanitizeName(name)
	if err := imp.checkCollision(ctx, name); err != nil {
		return registry.ServerDefinition{}, err
	}

	destDir := filepath.Join(imp.serversDir, name)
	def := registry.ServerDefinition{
		Name:       name,
		Command:    mf.Command,
		Args:       mf.Args,
		Env:        mf.Env,
		WorkingDir: destDir,
		Enabled:    mf.Enabled == nil || *mf.Enabled,
		Source:     registry.SourceImported,
	}

	if mf.Entrypoint != "" {
		entrySource := mf.Entrypoint
		if !filepath.IsAbs(entrySource) {
			entrySource = filepath.Join(filepath.Dir(sourcePath), entrySource)
		}
		info, err := os.Stat(entrySource)
		if err != nil {
			return registry.ServerDefinition{}, &InvalidArtifactError{Path: sourcePath, Reason: fmt.Sprintf("entrypoint %s: %v", mf.Entrypoint, err)}
		}
		kind, err := classifyArtifact(entrySource, info.Mode())
		if err != nil {
			return registry.ServerDefinition{}, err
		}
		destPath := filepath.Join(destDir, filepath.Base(entrySource))
		if err := copyArtifact(entrySource, destPath, info.Mode()); err != nil {
			return registry.ServerDefinition{}, err
		}
		if def.Command == "" {
			switch kind {
			case artifactPython:
				def.Command = "python3"
			case artifactNode:
				def.Command = "node"
			case artifactExecutable:
				def.Command = destPath
			}
		}
		if len(def.Args) == 0 && kind != artifactExecutable {
			def.Args = []string{destPath}
		}
	} else {
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return registry.ServerDefinition{}, fmt.Errorf("importer: create %s: %w", destDir, err)
		}
	}

	created, err := imp.store.Create(ctx, def)
	if err != nil {
		_ = os.RemoveAll(destDir)
		return registry.ServerDefinition{}, err
	}
	return created, nil
}

func (imp *Importer) checkCollision(ctx context.Context, name string) error {
	_, err := imp.store.Get(ctx, name)
	switch {
	case err == nil:
		return &NameCollisionError{Name: name}
	case registry.IsNotFound(err):
		return nil
	default:
		return err
	}
}

type artifactKind int

const (
	artifactPython artifactKind = iota
	artifactNode
	artifactExecutable
)

func classifyArtifact(path string, mode os.FileMode) (artifactKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return artifactPython, nil
	case ".js", ".mjs":
		return artifactNode, nil
	}
	if mode.Perm()&0o111 != 0 {
		return artifactExecutable, nil
	}
	return 0, &InvalidArtifactError{Path: path, Reason: "not a recognizable entry-point file"}
}

func deriveName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return sanitizeName(base)
}

func sanitizeName(value string) string {
	value = strings.ToLower(value)
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '/':
			b.WriteRune('-')
		}
	}
	res := strings.Trim(b.String(), "-_")
	if res == "" {
		return "server"
	}
	if len(res) > 64 {
		res = res[:64]
	}
	return res
}

func copyArtifact(sourcePath, destPath string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("importer: create %s: %w", filepath.Dir(destPath), err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("importer: open %s: %w", sourcePath, err)
	}
	defer src.Close()

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	dst, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("importer: create %s: %w", destPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(destPath)
		return fmt.Errorf("importer: copy %s: %w", sourcePath, err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("importer: close %s: %w", destPath, err)
	}
	return nil
}
