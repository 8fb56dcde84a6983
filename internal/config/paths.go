package config

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the mcpherd home directory when set.
const EnvHome = "MCPHERD_HOME"

// Paths contains all filesystem locations used by a mcpherd installation.
type Paths struct {
	Home       string // Root directory (~/.mcpherd)
	Registry   string // JSON registry file path
	RegistryDB string // SQLite registry path (alternate backend)
	ServersDir string // Managed server artifacts directory
	Logs       string // Per-server log files directory
	TempDir    string // Temporary files directory
	Socket     string // Daemon Unix socket path
	Lock       string // Daemon lock file path
}

// GetPaths returns the filesystem layout rooted at the given home directory.
// An empty home resolves to MCPHERD_HOME or ~/.mcpherd.
func GetPaths(home string) Paths {
	if home == "" {
		home = Home()
	}
	return Paths{
		Home:       home,
		Registry:   filepath.Join(home, "registry.json"),
		RegistryDB: filepath.Join(home, "registry.db"),
		ServersDir: filepath.Join(home, "servers"),
		Logs:       filepath.Join(home, "logs"),
		TempDir:    filepath.Join(home, "tmp"),
		Socket:     filepath.Join(home, "mcpherd.sock"),
		Lock:       filepath.Join(home, "mcpherdd.lock"),
	}
}

// Home returns the mcpherd home directory (~/.mcpherd unless overridden).
func Home() string {
	if env := os.Getenv(EnvHome); env != "" {
		return ExpandPath(env)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".mcpherd")
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the directory structure for the given home if it does
// not exist and returns the resolved paths.
func EnsureDirs(home string) (Paths, error) {
	paths := GetPaths(home)

	dirs := []string{
		paths.Home,
		paths.ServersDir,
		paths.Logs,
		paths.TempDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
