package registry

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// TransportStdio is the only transport kind supported for unit servers.
const TransportStdio = "stdio"

// Definition sources.
const (
	SourceAuthored = "authored"
	SourceImported = "imported"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ServerDefinition is the canonical, persisted description of one unit
// server's launch parameters. Name is its immutable identity.
type ServerDefinition struct {
	Name       string            `json:"-"`
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	WorkingDir string            `json:"cwd,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Transport  string            `json:"transport,omitempty"`
	Enabled    bool              `json:"enabled"`
	CreatedAt  time.Time         `json:"createdAt"`
	Source     string            `json:"source,omitempty"`
}

// Patch describes a partial update to a definition. Nil fields are left
// unchanged. Renaming is intentionally not expressible: name is identity.
type Patch struct {
	Command    *string
	Args       *[]string
	WorkingDir *string
	Env        *map[string]string
	Enabled    *bool
}

// Apply returns a copy of def with the patch applied.
func (p Patch) Apply(def ServerDefinition) ServerDefinition {
	if p.Command != nil {
		def.Command = *p.Command
	}
	if p.Args != nil {
		def.Args = append([]string(nil), (*p.Args)...)
	}
	if p.WorkingDir != nil {
		def.WorkingDir = *p.WorkingDir
	}
	if p.Env != nil {
		env := make(map[string]string, len(*p.Env))
		for k, v := range *p.Env {
			env[k] = v
		}
		def.Env = env
	}
	if p.Enabled != nil {
		def.Enabled = *p.Enabled
	}
	return def
}

// Validate checks the definition invariants: legal name, non-empty command,
// absolute working directory, stdio transport.
func Validate(def ServerDefinition) error {
	if !namePattern.MatchString(def.Name) {
		return InvalidDefinitionError{Field: "name", Reason: "must match ^[A-Za-z0-9_-]+$"}
	}
	if strings.TrimSpace(def.Command) == "" {
		return InvalidDefinitionError{Field: "command", Reason: "must not be empty"}
	}
	if def.WorkingDir != "" && !filepath.IsAbs(def.WorkingDir) {
		return InvalidDefinitionError{Field: "cwd", Reason: "must be an absolute path"}
	}
	if def.Transport != "" && def.Transport != TransportStdio {
		return InvalidDefinitionError{Field: "transport", Reason: "must be stdio"}
	}
	return nil
}

// Normalize fills defaulted fields on a definition prior to persistence.
func Normalize(def ServerDefinition) ServerDefinition {
	if def.Transport == "" {
		def.Transport = TransportStdio
	}
	if def.Source == "" {
		def.Source = SourceAuthored
	}
	if def.CreatedAt.IsZero() {
		def.CreatedAt = time.Now().UTC()
	} else {
		def.CreatedAt = def.CreatedAt.UTC()
	}
	return def
}

// Clone returns a deep copy of the definition.
func (d ServerDefinition) Clone() ServerDefinition {
	out := d
	out.Args = append([]string(nil), d.Args...)
	if d.Env != nil {
		out.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			out.Env[k] = v
		}
	}
	return out
}
