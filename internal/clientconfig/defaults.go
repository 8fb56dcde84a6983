package clientconfig

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultAdapters returns the adapters for every supported client at its
// conventional config location for the current platform.
func DefaultAdapters() []Adapter {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return []Adapter{
		NewClaudeDesktopAdapter(claudeDesktopConfigPath(home)),
		NewCursorAdapter(filepath.Join(home, ".cursor", "mcp.json")),
		NewVSCodeAdapter(vscodeConfigPath(home)),
	}
}

func claudeDesktopConfigPath(home string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Claude", "claude_desktop_config.json")
		}
		return filepath.Join(home, "AppData", "Roaming", "Claude", "claude_desktop_config.json")
	default:
		return filepath.Join(home, ".config", "Claude", "claude_desktop_config.json")
	}
}

func vscodeConfigPath(home string) string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Code", "User", "mcp.json")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Code", "User", "mcp.json")
		}
		return filepath.Join(home, "AppData", "Roaming", "Code", "User", "mcp.json")
	default:
		return filepath.Join(home, ".config", "Code", "User", "mcp.json")
	}
}
